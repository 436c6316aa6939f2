package domain

import (
	"time"

	"github.com/google/uuid"
)

// Voiceprint is a fixed-length speaker embedding plus the version of the
// extractor that produced it. Rows are immutable once written; comparing
// vectors across model versions is forbidden.
type Voiceprint struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProfileID    uuid.UUID `gorm:"type:uuid;index;not null;column:profile_id" json:"profile_id"`
	Embedding    Vector    `gorm:"type:bytea;not null;column:embedding" json:"-"`
	Dimensions   int       `gorm:"not null;column:dimensions" json:"dimensions"`
	ModelVersion string    `gorm:"not null;column:model_version" json:"model_version"`
	QualityScore float64   `gorm:"not null;default:1;column:quality_score" json:"quality_score"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Voiceprint) TableName() string {
	return "voiceprint"
}
