package domain

import (
	"time"

	"github.com/google/uuid"
)

type EnrollmentStatus string

const (
	StatusUnenrolled EnrollmentStatus = "unenrolled"
	StatusEnrolling  EnrollmentStatus = "enrolling"
	StatusEnrolled   EnrollmentStatus = "enrolled"
)

type UserProfile struct {
	ID                  uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID              string           `gorm:"uniqueIndex;not null;column:user_id" json:"user_id"`
	Status              EnrollmentStatus `gorm:"not null;default:'unenrolled';column:status" json:"status"`
	PassphraseHash      string           `gorm:"column:passphrase_hash" json:"-"`
	LastAuthenticatedAt *time.Time       `gorm:"column:last_authenticated_at" json:"last_authenticated_at,omitempty"`
	CreatedAt           time.Time        `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"not null;default:now()" json:"updated_at"`
}

func (UserProfile) TableName() string {
	return "user_profile"
}
