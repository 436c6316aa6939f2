// Package memory is a mutex-guarded in-memory enrollment store and
// decision log. It backs unit tests and local development when Postgres
// is not configured. Reads hand out copies so callers always
// observe a consistent snapshot.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxkey/voicegate-backend/internal/data/store"
	"github.com/voxkey/voicegate-backend/internal/domain"
)

type Config struct {
	MinEnrollmentSamples int
}

type record struct {
	profile domain.UserProfile
	prints  []*domain.Voiceprint
}

type Store struct {
	mu        sync.RWMutex
	cfg       Config
	records   map[string]*record
	decisions []*domain.AuthDecision
}

func New(cfg Config) *Store {
	if cfg.MinEnrollmentSamples < 1 {
		cfg.MinEnrollmentSamples = 1
	}
	return &Store{
		cfg:     cfg,
		records: make(map[string]*record),
	}
}

func (s *Store) CreateProfile(ctx context.Context, profile *domain.UserProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[profile.UserID]; ok {
		return store.ErrProfileExists
	}
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	if profile.Status == "" {
		profile.Status = domain.StatusUnenrolled
	}
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	s.records[profile.UserID] = &record{profile: *profile}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, store.ErrProfileNotFound
	}
	profile := rec.profile
	return &profile, nil
}

func (s *Store) Enroll(ctx context.Context, userID string, vp *domain.Voiceprint) (*domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, store.ErrProfileNotFound
	}

	stored := *vp
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.ProfileID = rec.profile.ID
	stored.Embedding = vp.Embedding.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	rec.prints = append(rec.prints, &stored)

	if len(rec.prints) >= s.cfg.MinEnrollmentSamples {
		rec.profile.Status = domain.StatusEnrolled
	} else {
		rec.profile.Status = domain.StatusEnrolling
	}
	rec.profile.UpdatedAt = time.Now().UTC()

	profile := rec.profile
	return &profile, nil
}

func (s *Store) GetReferenceVoiceprints(ctx context.Context, userID string) ([]*domain.Voiceprint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	if !ok || len(rec.prints) == 0 {
		return nil, store.ErrUserNotEnrolled
	}
	out := make([]*domain.Voiceprint, len(rec.prints))
	for i, vp := range rec.prints {
		cp := *vp
		cp.Embedding = vp.Embedding.Clone()
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) CountVoiceprints(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	if !ok {
		return 0, store.ErrProfileNotFound
	}
	return len(rec.prints), nil
}

func (s *Store) RemoveEnrollment(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return store.ErrProfileNotFound
	}
	rec.prints = nil
	rec.profile.Status = domain.StatusUnenrolled
	rec.profile.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) TouchAuthenticated(ctx context.Context, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return store.ErrProfileNotFound
	}
	t := at
	rec.profile.LastAuthenticatedAt = &t
	rec.profile.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) Append(ctx context.Context, decision *domain.AuthDecision) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *decision
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.DecidedAt.IsZero() {
		cp.DecidedAt = time.Now().UTC()
	}
	s.decisions = append(s.decisions, &cp)
	return nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuthDecision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.AuthDecision
	for _, d := range s.decisions {
		if d.UserID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.After(out[j].DecidedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
