// Package store defines the persistence contracts for the enrollment
// store and the append-only decision log. The enrollment store is the only
// long-lived shared mutable resource in the pipeline; all mutation goes
// through Enroll/RemoveEnrollment and is transactional per user.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/voxkey/voicegate-backend/internal/domain"
)

var (
	ErrProfileNotFound = errors.New("user profile not found")
	ErrProfileExists   = errors.New("user profile already exists")
	ErrUserNotEnrolled = errors.New("user has no enrolled voiceprints")
)

// EnrollmentStore persists user profiles and their reference voiceprints.
//
// Enroll is all-or-nothing: the voiceprint insert and the status flip
// commit together or not at all, so a failed write can never leave a
// profile claiming "enrolled" without a durable vector behind it.
type EnrollmentStore interface {
	CreateProfile(ctx context.Context, profile *domain.UserProfile) error
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
	Enroll(ctx context.Context, userID string, vp *domain.Voiceprint) (*domain.UserProfile, error)
	GetReferenceVoiceprints(ctx context.Context, userID string) ([]*domain.Voiceprint, error)
	CountVoiceprints(ctx context.Context, userID string) (int, error)
	RemoveEnrollment(ctx context.Context, userID string) error
	TouchAuthenticated(ctx context.Context, userID string, at time.Time) error
}

// DecisionLog is append-only; rows are never updated or deleted.
type DecisionLog interface {
	Append(ctx context.Context, decision *domain.AuthDecision) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuthDecision, error)
}
