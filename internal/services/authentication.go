package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/voxkey/voicegate-backend/internal/audio/ingest"
	"github.com/voxkey/voicegate-backend/internal/data/store"
	"github.com/voxkey/voicegate-backend/internal/domain"
	"github.com/voxkey/voicegate-backend/internal/platform/apierr"
	"github.com/voxkey/voicegate-backend/internal/platform/logger"
	"github.com/voxkey/voicegate-backend/internal/ratelimit"
	"github.com/voxkey/voicegate-backend/internal/voiceprint/engine"
	"github.com/voxkey/voicegate-backend/internal/voiceprint/match"
	"github.com/voxkey/voicegate-backend/internal/voiceprint/transcribe"
)

// codePassphraseMismatch marks decisions rejected because the spoken words
// did not match the enrolled passphrase, distinct from a low match score.
const codePassphraseMismatch = "passphrase_mismatch"

type AuthenticationResult struct {
	UserID       string    `json:"user_id"`
	Accepted     bool      `json:"accepted"`
	Score        float64   `json:"score"`
	Threshold    float64   `json:"threshold"`
	Policy       string    `json:"policy"`
	ModelVersion string    `json:"model_version"`
	Comparisons  int       `json:"comparisons"`
	DecidedAt    time.Time `json:"decided_at"`
}

// AuthenticationService runs a full verification attempt: validate the
// sample, extract a fresh embedding, score it against the stored references,
// and record the outcome. Every completed attempt lands in the decision log;
// attempts aborted by deadline or cancellation do not.
type AuthenticationService interface {
	Authenticate(ctx context.Context, userID string, rawAudio []byte, declaredFormat string) (*AuthenticationResult, error)
	Decisions(ctx context.Context, userID string, limit int) ([]*domain.AuthDecision, error)
}

type AuthenticationConfig struct {
	Enabled bool
}

type authenticationService struct {
	log         *logger.Logger
	cfg         AuthenticationConfig
	ingestor    ingest.Ingestor
	eng         engine.Engine
	matcher     *match.Matcher
	store       store.EnrollmentStore
	decisions   store.DecisionLog
	limiter     ratelimit.Limiter
	transcriber transcribe.Transcriber
}

// NewAuthenticationService wires a verification pipeline. transcriber may be
// nil, in which case the spoken-passphrase check is skipped and acceptance
// rests on the voiceprint match alone.
func NewAuthenticationService(
	cfg AuthenticationConfig,
	ingestor ingest.Ingestor,
	eng engine.Engine,
	matcher *match.Matcher,
	st store.EnrollmentStore,
	decisions store.DecisionLog,
	limiter ratelimit.Limiter,
	transcriber transcribe.Transcriber,
	baseLog *logger.Logger,
) AuthenticationService {
	return &authenticationService{
		log:         baseLog.With("service", "AuthenticationService"),
		cfg:         cfg,
		ingestor:    ingestor,
		eng:         eng,
		matcher:     matcher,
		store:       st,
		decisions:   decisions,
		limiter:     limiter,
		transcriber: transcriber,
	}
}

func (as *authenticationService) Authenticate(ctx context.Context, userID string, rawAudio []byte, declaredFormat string) (*AuthenticationResult, error) {
	if !as.cfg.Enabled {
		return nil, apierr.FeatureDisabled(fmt.Errorf("voice authentication is disabled"))
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apierr.BadRequest(fmt.Errorf("user_id is required"))
	}

	allowed, retryAfter, err := as.limiter.Allow(ctx, userID)
	if err != nil {
		// A broken limiter must not open the gate.
		return nil, apierr.StorageUnavailable(fmt.Errorf("rate limiter unavailable: %w", err))
	}
	if !allowed {
		as.log.Warn("Authentication attempt rate limited", "user_id", userID, "retry_after", retryAfter.String())
		return nil, apierr.RateLimitedFor(retryAfter)
	}

	sample, err := as.ingestor.Process(rawAudio, declaredFormat)
	if err != nil {
		return nil, err
	}

	fresh, err := as.extract(ctx, sample)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierr.Timeout(ctx.Err())
		}
		aerr := apierr.ExtractionFailed(err)
		as.recordFailure(ctx, userID, aerr.Code)
		return nil, aerr
	}

	refs, err := as.store.GetReferenceVoiceprints(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotEnrolled) || errors.Is(err, store.ErrProfileNotFound) {
			return nil, apierr.UserNotEnrolled(fmt.Errorf("user has no enrolled voiceprints"))
		}
		if ctx.Err() != nil {
			return nil, apierr.Timeout(ctx.Err())
		}
		return nil, apierr.From(err)
	}

	result, err := as.matcher.Compare(fresh, as.eng.Version(), refs)
	if err != nil {
		aerr := apierr.From(err)
		if aerr.Code == apierr.CodeModelVersionMismatch {
			as.recordDecision(ctx, userID, &match.Result{
				Threshold:    as.matcher.Config().Threshold,
				Policy:       as.matcher.Config().Policy,
				ModelVersion: as.eng.Version(),
			}, aerr.Code)
		}
		return nil, aerr
	}

	failureCode := ""
	if result.Accepted && as.transcriber != nil {
		ok, verr := as.verifyPassphrase(ctx, userID, sample)
		if verr != nil {
			return nil, verr
		}
		if !ok {
			result.Accepted = false
			failureCode = codePassphraseMismatch
		}
	}

	if ctx.Err() != nil {
		// Deadline hit after comparison: report timeout, persist nothing.
		return nil, apierr.Timeout(ctx.Err())
	}

	decidedAt := as.recordDecision(ctx, userID, result, failureCode)
	if result.Accepted {
		if err := as.store.TouchAuthenticated(ctx, userID, decidedAt); err != nil {
			as.log.Warn("Failed to update last authenticated timestamp", "user_id", userID, "error", err.Error())
		}
	} else {
		as.recordLimiterFailure(ctx, userID)
	}

	as.log.Info("Authentication decided",
		"user_id", userID,
		"accepted", result.Accepted,
		"score", result.Score,
		"threshold", result.Threshold,
		"policy", string(result.Policy),
		"comparisons", result.Comparisons,
	)

	return &AuthenticationResult{
		UserID:       userID,
		Accepted:     result.Accepted,
		Score:        result.Score,
		Threshold:    result.Threshold,
		Policy:       string(result.Policy),
		ModelVersion: result.ModelVersion,
		Comparisons:  result.Comparisons,
		DecidedAt:    decidedAt,
	}, nil
}

// verifyPassphrase transcribes the sample and checks the spoken words
// against the hash issued at enrollment. Profiles created before passphrases
// were issued carry no hash and pass the check.
func (as *authenticationService) verifyPassphrase(ctx context.Context, userID string, sample *ingest.NormalizedSample) (bool, error) {
	profile, err := as.store.GetProfile(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return false, apierr.Timeout(ctx.Err())
		}
		return false, apierr.From(err)
	}
	if profile.PassphraseHash == "" {
		return true, nil
	}

	transcript, err := as.transcriber.Transcribe(ctx, sample)
	if err != nil {
		if ctx.Err() != nil {
			return false, apierr.Timeout(ctx.Err())
		}
		aerr := apierr.ExtractionFailed(fmt.Errorf("transcribe passphrase: %w", err))
		as.recordFailure(ctx, userID, aerr.Code)
		return false, aerr
	}

	spoken := transcribe.Normalize(transcript)
	if bcrypt.CompareHashAndPassword([]byte(profile.PassphraseHash), []byte(spoken)) != nil {
		as.log.Warn("Spoken passphrase did not match", "user_id", userID)
		return false, nil
	}
	return true, nil
}

// extract runs the engine, retrying once when the sample needed repair
// during ingestion. A repaired sample sometimes fails the first pass on
// residual noise; a clean sample that fails is failed for real.
func (as *authenticationService) extract(ctx context.Context, sample *ingest.NormalizedSample) (domain.Vector, error) {
	vec, err := as.eng.Extract(ctx, sample)
	if err == nil {
		return vec, nil
	}
	if ctx.Err() != nil || !sample.Recovered {
		return nil, err
	}
	as.log.Debug("Retrying extraction on repaired sample")
	return as.eng.Extract(ctx, sample)
}

// recordDecision appends to the decision log. Logging is best-effort: a
// decided outcome is returned to the caller even if the audit write fails.
func (as *authenticationService) recordDecision(ctx context.Context, userID string, result *match.Result, failureCode string) time.Time {
	decidedAt := time.Now().UTC()
	decision := &domain.AuthDecision{
		ID:           uuid.New(),
		UserID:       userID,
		Accepted:     failureCode == "" && result.Accepted,
		Score:        result.Score,
		Threshold:    result.Threshold,
		Policy:       string(result.Policy),
		ModelVersion: result.ModelVersion,
		FailureCode:  failureCode,
		DecidedAt:    decidedAt,
	}
	if err := as.decisions.Append(ctx, decision); err != nil {
		as.log.Error("Failed to append auth decision", "user_id", userID, "error", err.Error())
	}
	return decidedAt
}

// recordFailure logs a failed attempt and counts it toward the rate limit.
func (as *authenticationService) recordFailure(ctx context.Context, userID, code string) {
	as.recordDecision(ctx, userID, &match.Result{
		Threshold:    as.matcher.Config().Threshold,
		Policy:       as.matcher.Config().Policy,
		ModelVersion: as.eng.Version(),
	}, code)
	as.recordLimiterFailure(ctx, userID)
}

func (as *authenticationService) recordLimiterFailure(ctx context.Context, userID string) {
	if err := as.limiter.RecordFailure(ctx, userID); err != nil {
		as.log.Error("Failed to record rate limit failure", "user_id", userID, "error", err.Error())
	}
}

func (as *authenticationService) Decisions(ctx context.Context, userID string, limit int) ([]*domain.AuthDecision, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	decisions, err := as.decisions.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, apierr.From(err)
	}
	return decisions, nil
}
