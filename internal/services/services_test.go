package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/voxkey/voicegate-backend/internal/audio/ingest"
	"github.com/voxkey/voicegate-backend/internal/data/store"
	storememory "github.com/voxkey/voicegate-backend/internal/data/store/memory"
	"github.com/voxkey/voicegate-backend/internal/domain"
	"github.com/voxkey/voicegate-backend/internal/platform/apierr"
	"github.com/voxkey/voicegate-backend/internal/platform/logger"
	"github.com/voxkey/voicegate-backend/internal/ratelimit"
	limitmemory "github.com/voxkey/voicegate-backend/internal/ratelimit/memory"
	"github.com/voxkey/voicegate-backend/internal/voiceprint/engine/mock"
	"github.com/voxkey/voicegate-backend/internal/voiceprint/match"
)

// stubIngestor bypasses container parsing: the raw bytes become the PCM
// payload directly. Service tests exercise the pipeline around ingestion,
// not ingestion itself.
type stubIngestor struct {
	recovered bool
	err       error
}

func (s *stubIngestor) Process(raw []byte, _ string) (*ingest.NormalizedSample, error) {
	if s.err != nil {
		return nil, s.err
	}
	pcm := make([]int16, len(raw))
	for i, b := range raw {
		pcm[i] = int16(b) * 64
	}
	return &ingest.NormalizedSample{
		PCM:        pcm,
		SampleRate: ingest.CanonicalSampleRate,
		Duration:   2 * time.Second,
		Format:     "wav",
		Recovered:  s.recovered,
		ReceivedAt: time.Now(),
	}, nil
}

type stubTranscriber struct {
	text string
	err  error
}

func (s *stubTranscriber) Transcribe(_ context.Context, _ *ingest.NormalizedSample) (string, error) {
	return s.text, s.err
}

// expiringRefsStore cancels the request context during the reference lookup
// and reports the lookup as failed, simulating a deadline hitting mid-query.
type expiringRefsStore struct {
	store.EnrollmentStore
	cancel context.CancelFunc
}

func (s *expiringRefsStore) GetReferenceVoiceprints(ctx context.Context, userID string) ([]*domain.Voiceprint, error) {
	s.cancel()
	return nil, context.Canceled
}

type fixture struct {
	enroll  EnrollmentService
	auth    AuthenticationService
	eng     *mock.Engine
	ingest  *stubIngestor
	limiter ratelimit.Limiter
	store   *storememory.Store
}

func newFixture(t *testing.T, matchCfg match.Config, limitCfg ratelimit.Config) *fixture {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	st := storememory.New(storememory.Config{})
	eng := mock.New()
	ing := &stubIngestor{}
	lim := limitmemory.New(limitCfg)

	return &fixture{
		enroll: NewEnrollmentService(
			EnrollmentConfig{Enabled: true}, ing, eng, st, log),
		auth: NewAuthenticationService(
			AuthenticationConfig{Enabled: true}, ing, eng, match.New(matchCfg), st, st, lim, nil, log),
		eng:     eng,
		ingest:  ing,
		limiter: lim,
		store:   st,
	}
}

func defaultFixture(t *testing.T) *fixture {
	return newFixture(t, match.DefaultConfig(), ratelimit.DefaultConfig())
}

var sampleAudio = []byte(strings.Repeat("voice-sample-alpha", 100))
var otherAudio = []byte(strings.Repeat("voice-sample-bravo", 100))

func TestRegisterThenAuthenticateSelf(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	reg, err := f.enroll.Register(ctx, "alice", sampleAudio, "wav")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.Status != "enrolled" {
		t.Fatalf("expected enrolled, got %q", reg.Status)
	}
	if reg.Passphrase == "" {
		t.Fatalf("first registration must return a passphrase")
	}
	if len(strings.Fields(reg.Passphrase)) != 2 {
		t.Fatalf("passphrase should be two words, got %q", reg.Passphrase)
	}

	res, err := f.auth.Authenticate(ctx, "alice", sampleAudio, "wav")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("same audio must authenticate, score=%v", res.Score)
	}
	if res.Score < 0.9999 {
		t.Fatalf("self-match score should be 1.0, got %v", res.Score)
	}

	profile, count, err := f.enroll.Profile(ctx, "alice")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 sample, got %d", count)
	}
	if profile.LastAuthenticatedAt == nil {
		t.Fatalf("accepted auth must touch last_authenticated_at")
	}
}

func TestPassphraseReturnedOnlyOnce(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	first, err := f.enroll.Register(ctx, "alice", sampleAudio, "wav")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	second, err := f.enroll.Register(ctx, "alice", otherAudio, "wav")
	if err != nil {
		t.Fatalf("Register second: %v", err)
	}
	if first.Passphrase == "" || second.Passphrase != "" {
		t.Fatalf("passphrase must appear exactly once: first=%q second=%q", first.Passphrase, second.Passphrase)
	}
	if second.SampleCount != 2 {
		t.Fatalf("expected 2 samples, got %d", second.SampleCount)
	}
}

func TestAuthenticateUnenrolledUser(t *testing.T) {
	f := defaultFixture(t)
	_, err := f.auth.Authenticate(context.Background(), "ghost", sampleAudio, "wav")
	if !apierr.Is(err, apierr.CodeUserNotEnrolled) {
		t.Fatalf("expected user_not_enrolled, got %v", err)
	}
}

func TestAuthenticateRejectsImpostor(t *testing.T) {
	f := newFixture(t, match.Config{Threshold: 0.999, Policy: match.PolicyMax}, ratelimit.DefaultConfig())
	ctx := context.Background()

	if _, err := f.enroll.Register(ctx, "alice", sampleAudio, "wav"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res, err := f.auth.Authenticate(ctx, "alice", otherAudio, "wav")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.Accepted {
		t.Fatalf("different audio should not clear a 0.999 threshold, score=%v", res.Score)
	}
}

func TestRateLimitAfterFailures(t *testing.T) {
	f := newFixture(t,
		match.Config{Threshold: 0.999, Policy: match.PolicyMax},
		ratelimit.Config{Window: time.Minute, MaxFailures: 2})
	ctx := context.Background()

	if _, err := f.enroll.Register(ctx, "alice", sampleAudio, "wav"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for i := 0; i < 2; i++ {
		res, err := f.auth.Authenticate(ctx, "alice", otherAudio, "wav")
		if err != nil {
			t.Fatalf("Authenticate %d: %v", i, err)
		}
		if res.Accepted {
			t.Fatalf("attempt %d should be rejected", i)
		}
	}

	_, err := f.auth.Authenticate(ctx, "alice", sampleAudio, "wav")
	if !apierr.Is(err, apierr.CodeRateLimited) {
		t.Fatalf("expected rate_limited after 2 failures, got %v", err)
	}
	if aerr := apierr.From(err); aerr.RetryAfter <= 0 {
		t.Fatalf("rate limited error must carry retry-after, got %+v", aerr)
	}
}

func TestSuccessDoesNotConsumeQuota(t *testing.T) {
	f := newFixture(t, match.DefaultConfig(), ratelimit.Config{Window: time.Minute, MaxFailures: 1})
	ctx := context.Background()

	if _, err := f.enroll.Register(ctx, "alice", sampleAudio, "wav"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for i := 0; i < 5; i++ {
		res, err := f.auth.Authenticate(ctx, "alice", sampleAudio, "wav")
		if err != nil {
			t.Fatalf("Authenticate %d: %v", i, err)
		}
		if !res.Accepted {
			t.Fatalf("attempt %d should be accepted", i)
		}
	}
}

func TestExtractionRetryOnRecoveredSample(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	if _, err := f.enroll.Register(ctx, "alice", sampleAudio, "wav"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	f.ingest.recovered = true
	f.eng.FailNext = true
	res, err := f.auth.Authenticate(ctx, "alice", sampleAudio, "wav")
	if err != nil {
		t.Fatalf("Authenticate should succeed via retry: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("retried extraction should still self-match")
	}
}

func TestNoRetryOnCleanSample(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	if _, err := f.enroll.Register(ctx, "alice", sampleAudio, "wav"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	f.eng.FailNext = true
	_, err := f.auth.Authenticate(ctx, "alice", sampleAudio, "wav")
	if !apierr.Is(err, apierr.CodeExtractionFailed) {
		t.Fatalf("expected extraction_failed without retry, got %v", err)
	}
}

func TestCanceledContextMapsToTimeout(t *testing.T) {
	f := defaultFixture(t)
	bg := context.Background()

	if _, err := f.enroll.Register(bg, "alice", sampleAudio, "wav"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithCancel(bg)
	cancel()
	_, err := f.auth.Authenticate(ctx, "alice", sampleAudio, "wav")
	if !apierr.Is(err, apierr.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	// Aborted attempts leave no trace in the decision log.
	decisions, err := f.auth.Decisions(bg, "alice", 10)
	if err != nil {
		t.Fatalf("Decisions: %v", err)
	}
	if len(decisions) != 0 {
		t.Fatalf("aborted attempt must not be logged, got %d decisions", len(decisions))
	}
}

func TestStoreFailureDuringLookupMapsToTimeout(t *testing.T) {
	f := defaultFixture(t)
	bg := context.Background()

	if _, err := f.enroll.Register(bg, "alice", sampleAudio, "wav"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	ctx, cancel := context.WithCancel(bg)
	defer cancel()
	auth := NewAuthenticationService(AuthenticationConfig{Enabled: true}, f.ingest, f.eng,
		match.New(match.DefaultConfig()),
		&expiringRefsStore{EnrollmentStore: f.store, cancel: cancel},
		f.store, f.limiter, nil, log)

	_, err = auth.Authenticate(ctx, "alice", sampleAudio, "wav")
	if !apierr.Is(err, apierr.CodeTimeout) {
		t.Fatalf("expected timeout when the deadline expires mid-lookup, got %v", err)
	}
}

func TestSpokenPassphraseGatesAcceptance(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	reg, err := f.enroll.Register(ctx, "alice", sampleAudio, "wav")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	tr := &stubTranscriber{}
	auth := NewAuthenticationService(AuthenticationConfig{Enabled: true}, f.ingest, f.eng,
		match.New(match.DefaultConfig()), f.store, f.store, f.limiter, tr, log)

	// A matching voice saying the wrong words is rejected.
	tr.text = "entirely different words"
	res, err := auth.Authenticate(ctx, "alice", sampleAudio, "wav")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if res.Accepted {
		t.Fatalf("wrong passphrase must reject even on a voiceprint match")
	}
	decisions, err := auth.Decisions(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Decisions: %v", err)
	}
	if len(decisions) == 0 || decisions[0].FailureCode != codePassphraseMismatch {
		t.Fatalf("rejection should be logged as a passphrase mismatch, got %+v", decisions)
	}

	// Transcription casing and punctuation are normalized away.
	tr.text = strings.ToUpper(reg.Passphrase) + "."
	res, err = auth.Authenticate(ctx, "alice", sampleAudio, "wav")
	if err != nil {
		t.Fatalf("Authenticate with passphrase: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("correct passphrase with a matching voice must be accepted")
	}
}

func TestTranscriberFailureFailsClosed(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	if _, err := f.enroll.Register(ctx, "alice", sampleAudio, "wav"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	tr := &stubTranscriber{err: fmt.Errorf("recognizer offline")}
	auth := NewAuthenticationService(AuthenticationConfig{Enabled: true}, f.ingest, f.eng,
		match.New(match.DefaultConfig()), f.store, f.store, f.limiter, tr, log)

	if _, err := auth.Authenticate(ctx, "alice", sampleAudio, "wav"); !apierr.Is(err, apierr.CodeExtractionFailed) {
		t.Fatalf("transcriber failure must not accept, got %v", err)
	}
}

func TestDecisionLogRecordsOutcomes(t *testing.T) {
	f := newFixture(t, match.Config{Threshold: 0.999, Policy: match.PolicyMax}, ratelimit.DefaultConfig())
	ctx := context.Background()

	if _, err := f.enroll.Register(ctx, "alice", sampleAudio, "wav"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := f.auth.Authenticate(ctx, "alice", otherAudio, "wav"); err != nil {
		t.Fatalf("Authenticate reject: %v", err)
	}
	if _, err := f.auth.Authenticate(ctx, "alice", sampleAudio, "wav"); err != nil {
		t.Fatalf("Authenticate accept: %v", err)
	}

	decisions, err := f.auth.Decisions(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Decisions: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(decisions))
	}
	if !decisions[0].Accepted || decisions[1].Accepted {
		t.Fatalf("expected newest-first [accepted, rejected], got [%v, %v]",
			decisions[0].Accepted, decisions[1].Accepted)
	}
}

func TestFeatureFlagsDisableEndpoints(t *testing.T) {
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	st := storememory.New(storememory.Config{})
	eng := mock.New()
	ing := &stubIngestor{}
	lim := limitmemory.New(ratelimit.DefaultConfig())

	enroll := NewEnrollmentService(EnrollmentConfig{Enabled: false}, ing, eng, st, log)
	auth := NewAuthenticationService(AuthenticationConfig{Enabled: false}, ing, eng,
		match.New(match.DefaultConfig()), st, st, lim, nil, log)

	if _, err := enroll.Register(context.Background(), "alice", sampleAudio, "wav"); !apierr.Is(err, apierr.CodeFeatureDisabled) {
		t.Fatalf("expected feature_disabled from Register, got %v", err)
	}
	if _, err := auth.Authenticate(context.Background(), "alice", sampleAudio, "wav"); !apierr.Is(err, apierr.CodeFeatureDisabled) {
		t.Fatalf("expected feature_disabled from Authenticate, got %v", err)
	}
}

func TestRemoveEnrollmentBlocksAuthentication(t *testing.T) {
	f := defaultFixture(t)
	ctx := context.Background()

	if _, err := f.enroll.Register(ctx, "alice", sampleAudio, "wav"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.enroll.RemoveEnrollment(ctx, "alice"); err != nil {
		t.Fatalf("RemoveEnrollment: %v", err)
	}
	if _, err := f.auth.Authenticate(ctx, "alice", sampleAudio, "wav"); !apierr.Is(err, apierr.CodeUserNotEnrolled) {
		t.Fatalf("expected user_not_enrolled after removal, got %v", err)
	}
}

func TestIngestErrorsPropagate(t *testing.T) {
	f := defaultFixture(t)
	f.ingest.err = apierr.AudioTooLarge(fmt.Errorf("sample exceeds limit"))

	if _, err := f.enroll.Register(context.Background(), "alice", sampleAudio, "wav"); !apierr.Is(err, apierr.CodeAudioTooLarge) {
		t.Fatalf("expected audio_too_large, got %v", err)
	}
}
