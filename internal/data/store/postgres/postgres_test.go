package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/voxkey/voicegate-backend/internal/data/store"
	"github.com/voxkey/voicegate-backend/internal/data/store/testutil"
	"github.com/voxkey/voicegate-backend/internal/domain"
	"github.com/voxkey/voicegate-backend/internal/platform/apierr"
)

func newStore(t *testing.T, minSamples int) *Store {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	return New(tx, Config{MinEnrollmentSamples: minSamples}, testutil.Logger(t))
}

func testUserID(t *testing.T) string {
	return fmt.Sprintf("%s-%s", t.Name(), uuid.New().String()[:8])
}

func newProfile(userID string) *domain.UserProfile {
	return &domain.UserProfile{ID: uuid.New(), UserID: userID}
}

func newVoiceprint(version string, vals ...float32) *domain.Voiceprint {
	return &domain.Voiceprint{
		ID:           uuid.New(),
		Embedding:    domain.Vector(vals),
		Dimensions:   len(vals),
		ModelVersion: version,
	}
}

func TestEnrollLifecycle(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()
	userID := testUserID(t)

	if err := s.CreateProfile(ctx, newProfile(userID)); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}

	updated, err := s.Enroll(ctx, userID, newVoiceprint("v1", 0.5, 0.5, 0.5, 0.5))
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if updated.Status != domain.StatusEnrolled {
		t.Fatalf("expected enrolled, got %q", updated.Status)
	}

	prints, err := s.GetReferenceVoiceprints(ctx, userID)
	if err != nil {
		t.Fatalf("GetReferenceVoiceprints: %v", err)
	}
	if len(prints) != 1 {
		t.Fatalf("expected 1 voiceprint, got %d", len(prints))
	}
	if prints[0].Embedding[2] != 0.5 {
		t.Fatalf("embedding did not round-trip: %+v", prints[0].Embedding)
	}

	count, err := s.CountVoiceprints(ctx, userID)
	if err != nil {
		t.Fatalf("CountVoiceprints: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestEnrollWithoutProfile(t *testing.T) {
	s := newStore(t, 1)
	_, err := s.Enroll(context.Background(), testUserID(t), newVoiceprint("v1", 1))
	if !errors.Is(err, store.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestDuplicateProfile(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()
	userID := testUserID(t)

	if err := s.CreateProfile(ctx, newProfile(userID)); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if err := s.CreateProfile(ctx, newProfile(userID)); !errors.Is(err, store.ErrProfileExists) {
		t.Fatalf("expected ErrProfileExists, got %v", err)
	}
}

func TestMinSamplesGateStatus(t *testing.T) {
	s := newStore(t, 3)
	ctx := context.Background()
	userID := testUserID(t)

	if err := s.CreateProfile(ctx, newProfile(userID)); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	for i := 0; i < 2; i++ {
		p, err := s.Enroll(ctx, userID, newVoiceprint("v1", float32(i), 1))
		if err != nil {
			t.Fatalf("Enroll %d: %v", i, err)
		}
		if p.Status != domain.StatusEnrolling {
			t.Fatalf("expected enrolling at sample %d, got %q", i+1, p.Status)
		}
	}
	p, err := s.Enroll(ctx, userID, newVoiceprint("v1", 2, 1))
	if err != nil {
		t.Fatalf("Enroll final: %v", err)
	}
	if p.Status != domain.StatusEnrolled {
		t.Fatalf("expected enrolled after 3 samples, got %q", p.Status)
	}
}

func TestRemoveEnrollment(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()
	userID := testUserID(t)

	if err := s.CreateProfile(ctx, newProfile(userID)); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if _, err := s.Enroll(ctx, userID, newVoiceprint("v1", 1)); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if err := s.RemoveEnrollment(ctx, userID); err != nil {
		t.Fatalf("RemoveEnrollment: %v", err)
	}

	p, err := s.GetProfile(ctx, userID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.Status != domain.StatusUnenrolled {
		t.Fatalf("expected unenrolled, got %q", p.Status)
	}
	if _, err := s.GetReferenceVoiceprints(ctx, userID); !errors.Is(err, store.ErrUserNotEnrolled) {
		t.Fatalf("expected ErrUserNotEnrolled, got %v", err)
	}
}

func TestTouchAuthenticated(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()
	userID := testUserID(t)

	if err := s.CreateProfile(ctx, newProfile(userID)); err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	at := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.TouchAuthenticated(ctx, userID, at); err != nil {
		t.Fatalf("TouchAuthenticated: %v", err)
	}

	p, err := s.GetProfile(ctx, userID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.LastAuthenticatedAt == nil || !p.LastAuthenticatedAt.Equal(at) {
		t.Fatalf("last_authenticated_at did not round-trip: %v", p.LastAuthenticatedAt)
	}
}

func TestRetryExhaustionSignalsStorageUnavailable(t *testing.T) {
	s := &Store{cfg: Config{MinEnrollmentSamples: 1}, log: testutil.Logger(t)}

	calls := 0
	err := s.withRetry(context.Background(), "test-op", func() error {
		calls++
		return errors.New("connection refused")
	})
	if calls != maxRetries {
		t.Fatalf("expected %d attempts, got %d", maxRetries, calls)
	}
	if !apierr.Is(err, apierr.CodeStorageUnavailable) {
		t.Fatalf("expected storage_unavailable, got %v", err)
	}
}

func TestRetrySentinelsPassThrough(t *testing.T) {
	s := &Store{cfg: Config{MinEnrollmentSamples: 1}, log: testutil.Logger(t)}

	calls := 0
	err := s.withRetry(context.Background(), "test-op", func() error {
		calls++
		return store.ErrProfileNotFound
	})
	if calls != 1 {
		t.Fatalf("sentinel should not be retried, got %d attempts", calls)
	}
	if !errors.Is(err, store.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestDecisionLog(t *testing.T) {
	s := newStore(t, 1)
	ctx := context.Background()
	userID := testUserID(t)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		err := s.Append(ctx, &domain.AuthDecision{
			ID:           uuid.New(),
			UserID:       userID,
			Accepted:     i == 2,
			Score:        float64(i) / 4,
			Threshold:    0.75,
			Policy:       "max",
			ModelVersion: "v1",
			DecidedAt:    base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	decisions, err := s.ListByUser(ctx, userID, 2)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(decisions))
	}
	if !decisions[0].Accepted {
		t.Fatalf("expected newest decision first")
	}
}
