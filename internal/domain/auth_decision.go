package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuthDecision is one row per completed authentication attempt. The table
// is append-only: decisions are never updated or deleted, forming the
// audit trail that rate limiting and review tooling read from.
type AuthDecision struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       string    `gorm:"index;not null;column:user_id" json:"user_id"`
	Accepted     bool      `gorm:"not null;column:accepted" json:"accepted"`
	Score        float64   `gorm:"not null;column:score" json:"score"`
	Threshold    float64   `gorm:"not null;column:threshold" json:"threshold"`
	Policy       string    `gorm:"not null;column:policy" json:"policy"`
	ModelVersion string    `gorm:"not null;column:model_version" json:"model_version"`
	FailureCode  string    `gorm:"column:failure_code" json:"failure_code,omitempty"`
	DecidedAt    time.Time `gorm:"not null;column:decided_at" json:"decided_at"`
}

func (AuthDecision) TableName() string {
	return "auth_decision"
}
