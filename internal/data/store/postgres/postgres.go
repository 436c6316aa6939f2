// Package postgres is the gorm-backed implementation of the enrollment
// store and decision log. Transient database failures are retried a
// bounded number of times with backoff before surfacing.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/voxkey/voicegate-backend/internal/data/store"
	"github.com/voxkey/voicegate-backend/internal/domain"
	"github.com/voxkey/voicegate-backend/internal/platform/apierr"
	"github.com/voxkey/voicegate-backend/internal/platform/logger"
)

const (
	maxRetries   = 3
	retryBackoff = 100 * time.Millisecond
)

type Config struct {
	// MinEnrollmentSamples is how many stored voiceprints a profile needs
	// before its status flips from "enrolling" to "enrolled".
	MinEnrollmentSamples int
}

type Store struct {
	db  *gorm.DB
	cfg Config
	log *logger.Logger
}

func New(db *gorm.DB, cfg Config, baseLog *logger.Logger) *Store {
	if cfg.MinEnrollmentSamples < 1 {
		cfg.MinEnrollmentSamples = 1
	}
	return &Store{db: db, cfg: cfg, log: baseLog.With("store", "PostgresEnrollmentStore")}
}

func (s *Store) CreateProfile(ctx context.Context, profile *domain.UserProfile) error {
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	if profile.Status == "" {
		profile.Status = domain.StatusUnenrolled
	}
	return s.withRetry(ctx, "create profile", func() error {
		err := s.db.WithContext(ctx).Create(profile).Error
		if isDuplicate(err) {
			return store.ErrProfileExists
		}
		return err
	})
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	var profile domain.UserProfile
	err := s.withRetry(ctx, "get profile", func() error {
		err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.ErrProfileNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// Enroll appends a voiceprint and recomputes the profile status in one
// transaction. The profile row is locked for the duration so concurrent
// enrollments for the same user serialize at the database as well.
func (s *Store) Enroll(ctx context.Context, userID string, vp *domain.Voiceprint) (*domain.UserProfile, error) {
	var out *domain.UserProfile
	err := s.withRetry(ctx, "enroll", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var profile domain.UserProfile
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ?", userID).
				First(&profile).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrProfileNotFound
			}
			if err != nil {
				return err
			}

			if vp.ID == uuid.Nil {
				vp.ID = uuid.New()
			}
			vp.ProfileID = profile.ID
			if vp.CreatedAt.IsZero() {
				vp.CreatedAt = time.Now().UTC()
			}
			if err := tx.Create(vp).Error; err != nil {
				return err
			}

			var count int64
			if err := tx.Model(&domain.Voiceprint{}).
				Where("profile_id = ?", profile.ID).
				Count(&count).Error; err != nil {
				return err
			}

			status := domain.StatusEnrolling
			if int(count) >= s.cfg.MinEnrollmentSamples {
				status = domain.StatusEnrolled
			}
			if err := tx.Model(&domain.UserProfile{}).
				Where("id = ?", profile.ID).
				Update("status", status).Error; err != nil {
				return err
			}
			profile.Status = status
			out = &profile
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetReferenceVoiceprints(ctx context.Context, userID string) ([]*domain.Voiceprint, error) {
	var prints []*domain.Voiceprint
	err := s.withRetry(ctx, "get reference voiceprints", func() error {
		var profile domain.UserProfile
		err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.ErrUserNotEnrolled
		}
		if err != nil {
			return err
		}
		return s.db.WithContext(ctx).
			Where("profile_id = ?", profile.ID).
			Order("created_at ASC").
			Find(&prints).Error
	})
	if err != nil {
		return nil, err
	}
	if len(prints) == 0 {
		return nil, store.ErrUserNotEnrolled
	}
	return prints, nil
}

func (s *Store) CountVoiceprints(ctx context.Context, userID string) (int, error) {
	var count int64
	err := s.withRetry(ctx, "count voiceprints", func() error {
		var profile domain.UserProfile
		err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return store.ErrProfileNotFound
		}
		if err != nil {
			return err
		}
		return s.db.WithContext(ctx).Model(&domain.Voiceprint{}).
			Where("profile_id = ?", profile.ID).
			Count(&count).Error
	})
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// RemoveEnrollment deletes all voiceprints and resets the profile to
// unenrolled, atomically, for revocation and re-enrollment.
func (s *Store) RemoveEnrollment(ctx context.Context, userID string) error {
	return s.withRetry(ctx, "remove enrollment", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var profile domain.UserProfile
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ?", userID).
				First(&profile).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrProfileNotFound
			}
			if err != nil {
				return err
			}
			if err := tx.Where("profile_id = ?", profile.ID).
				Delete(&domain.Voiceprint{}).Error; err != nil {
				return err
			}
			return tx.Model(&domain.UserProfile{}).
				Where("id = ?", profile.ID).
				Update("status", domain.StatusUnenrolled).Error
		})
	})
}

func (s *Store) TouchAuthenticated(ctx context.Context, userID string, at time.Time) error {
	return s.withRetry(ctx, "touch authenticated", func() error {
		return s.db.WithContext(ctx).Model(&domain.UserProfile{}).
			Where("user_id = ?", userID).
			Update("last_authenticated_at", at).Error
	})
}

func (s *Store) Append(ctx context.Context, decision *domain.AuthDecision) error {
	if decision.ID == uuid.Nil {
		decision.ID = uuid.New()
	}
	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = time.Now().UTC()
	}
	return s.withRetry(ctx, "append decision", func() error {
		return s.db.WithContext(ctx).Create(decision).Error
	})
}

func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuthDecision, error) {
	if limit <= 0 {
		limit = 50
	}
	var decisions []*domain.AuthDecision
	err := s.withRetry(ctx, "list decisions", func() error {
		return s.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("decided_at DESC").
			Limit(limit).
			Find(&decisions).Error
	})
	if err != nil {
		return nil, err
	}
	return decisions, nil
}

// withRetry retries transient failures with exponential backoff. Domain
// sentinels and context expiry pass through untouched.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	backoff := retryBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		s.log.Warn("transient storage failure, retrying", "op", op, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return apierr.StorageUnavailable(fmt.Errorf("%s failed after %d attempts: %w", op, maxRetries, err))
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, store.ErrProfileNotFound),
		errors.Is(err, store.ErrProfileExists),
		errors.Is(err, store.ErrUserNotEnrolled),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
