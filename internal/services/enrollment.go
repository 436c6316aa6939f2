package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/voxkey/voicegate-backend/internal/audio/ingest"
	"github.com/voxkey/voicegate-backend/internal/data/store"
	"github.com/voxkey/voicegate-backend/internal/domain"
	"github.com/voxkey/voicegate-backend/internal/platform/apierr"
	"github.com/voxkey/voicegate-backend/internal/platform/logger"
	"github.com/voxkey/voicegate-backend/internal/voiceprint/engine"
)

// passphraseWords is the pool for generated voice passphrases. Words are
// short, phonetically distinct, and easy to say aloud.
var passphraseWords = []string{
	"amber", "anchor", "aspen", "atlas", "birch", "bluff", "breeze", "canyon",
	"cedar", "cinder", "cobalt", "coral", "cosmos", "crater", "delta", "drift",
	"ember", "fable", "falcon", "fern", "flint", "garnet", "glacier", "grove",
	"harbor", "hazel", "horizon", "indigo", "juniper", "lagoon", "lantern", "lunar",
	"maple", "meadow", "mesa", "mirage", "nebula", "north", "ocean", "onyx",
	"orbit", "osprey", "pebble", "pinnacle", "prairie", "quartz", "raven", "ridge",
	"river", "saffron", "sage", "sierra", "slate", "solstice", "sparrow", "summit",
	"thistle", "timber", "tundra", "umber", "vapor", "willow", "zenith", "zephyr",
}

type RegistrationResult struct {
	UserID       string                  `json:"user_id"`
	Status       domain.EnrollmentStatus `json:"status"`
	SampleCount  int                     `json:"sample_count"`
	ModelVersion string                  `json:"model_version"`
	QualityScore float64                 `json:"quality_score"`
	// Passphrase is only populated the first time a profile is created.
	// It is never stored in plaintext and never returned again.
	Passphrase string `json:"passphrase,omitempty"`
}

// EnrollmentService builds voice profiles: it validates an audio sample,
// extracts an embedding, and persists it as a reference voiceprint. Same-user
// calls are serialized so concurrent registrations cannot interleave the
// create-profile and enroll steps.
type EnrollmentService interface {
	Register(ctx context.Context, userID string, rawAudio []byte, declaredFormat string) (*RegistrationResult, error)
	Profile(ctx context.Context, userID string) (*domain.UserProfile, int, error)
	RemoveEnrollment(ctx context.Context, userID string) error
}

type EnrollmentConfig struct {
	Enabled bool
}

type enrollmentService struct {
	log      *logger.Logger
	cfg      EnrollmentConfig
	ingestor ingest.Ingestor
	eng      engine.Engine
	store    store.EnrollmentStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEnrollmentService(
	cfg EnrollmentConfig,
	ingestor ingest.Ingestor,
	eng engine.Engine,
	st store.EnrollmentStore,
	baseLog *logger.Logger,
) EnrollmentService {
	return &enrollmentService{
		log:      baseLog.With("service", "EnrollmentService"),
		cfg:      cfg,
		ingestor: ingestor,
		eng:      eng,
		store:    st,
		locks:    make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing operations for one user. Locks are
// never removed; the map grows with the active user set, which is bounded in
// practice by the enrollment population.
func (es *enrollmentService) userLock(userID string) *sync.Mutex {
	es.mu.Lock()
	defer es.mu.Unlock()
	l, ok := es.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		es.locks[userID] = l
	}
	return l
}

func (es *enrollmentService) Register(ctx context.Context, userID string, rawAudio []byte, declaredFormat string) (*RegistrationResult, error) {
	if !es.cfg.Enabled {
		return nil, apierr.FeatureDisabled(fmt.Errorf("voice registration is disabled"))
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apierr.BadRequest(fmt.Errorf("user_id is required"))
	}

	sample, err := es.ingestor.Process(rawAudio, declaredFormat)
	if err != nil {
		return nil, err
	}

	vec, err := es.eng.Extract(ctx, sample)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierr.Timeout(ctx.Err())
		}
		return nil, apierr.ExtractionFailed(err)
	}

	lock := es.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	var passphrase string
	if _, err := es.store.GetProfile(ctx, userID); err != nil {
		if !errors.Is(err, store.ErrProfileNotFound) {
			return nil, apierr.From(err)
		}
		passphrase, err = es.createProfile(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	quality := sampleQuality(sample)
	vp := &domain.Voiceprint{
		ID:           uuid.New(),
		Embedding:    vec,
		Dimensions:   len(vec),
		ModelVersion: es.eng.Version(),
		QualityScore: quality,
	}

	updated, err := es.store.Enroll(ctx, userID, vp)
	if err != nil {
		return nil, apierr.From(err)
	}
	count, err := es.store.CountVoiceprints(ctx, userID)
	if err != nil {
		return nil, apierr.From(err)
	}

	es.log.Info("Voice sample enrolled",
		"user_id", userID,
		"status", string(updated.Status),
		"sample_count", count,
		"model_version", es.eng.Version(),
	)

	return &RegistrationResult{
		UserID:       userID,
		Status:       updated.Status,
		SampleCount:  count,
		ModelVersion: es.eng.Version(),
		QualityScore: quality,
		Passphrase:   passphrase,
	}, nil
}

func (es *enrollmentService) createProfile(ctx context.Context, userID string) (string, error) {
	passphrase, err := generatePassphrase()
	if err != nil {
		return "", apierr.Internal(fmt.Errorf("generate passphrase: %w", err))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return "", apierr.Internal(fmt.Errorf("hash passphrase: %w", err))
	}
	profile := &domain.UserProfile{
		ID:             uuid.New(),
		UserID:         userID,
		Status:         domain.StatusUnenrolled,
		PassphraseHash: string(hash),
	}
	if err := es.store.CreateProfile(ctx, profile); err != nil {
		// Lost a race with another instance; the existing profile wins.
		if errors.Is(err, store.ErrProfileExists) {
			return "", nil
		}
		return "", apierr.From(err)
	}
	return passphrase, nil
}

func (es *enrollmentService) Profile(ctx context.Context, userID string) (*domain.UserProfile, int, error) {
	profile, err := es.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			return nil, 0, apierr.NotFound(fmt.Errorf("no profile for user"))
		}
		return nil, 0, apierr.From(err)
	}
	count, err := es.store.CountVoiceprints(ctx, userID)
	if err != nil {
		return nil, 0, apierr.From(err)
	}
	return profile, count, nil
}

func (es *enrollmentService) RemoveEnrollment(ctx context.Context, userID string) error {
	lock := es.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := es.store.RemoveEnrollment(ctx, userID); err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			return apierr.NotFound(fmt.Errorf("no profile for user"))
		}
		return apierr.From(err)
	}
	es.log.Info("Enrollment removed", "user_id", userID)
	return nil
}

// sampleQuality scores how much usable signal the sample carries. Duration
// is the dominant factor: five seconds or more of speech is full quality.
func sampleQuality(sample *ingest.NormalizedSample) float64 {
	const idealDuration = 5 * time.Second
	q := float64(sample.Duration) / float64(idealDuration)
	if q > 1 {
		q = 1
	}
	if sample.Recovered {
		q *= 0.9
	}
	return q
}

func generatePassphrase() (string, error) {
	parts := make([]string, 2)
	for i := range parts {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passphraseWords))))
		if err != nil {
			return "", err
		}
		parts[i] = passphraseWords[n.Int64()]
	}
	return strings.Join(parts, " "), nil
}
