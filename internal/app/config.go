package app

import (
	"fmt"
	"time"

	"github.com/voxkey/voicegate-backend/internal/audio/ingest"
	"github.com/voxkey/voicegate-backend/internal/platform/envutil"
	"github.com/voxkey/voicegate-backend/internal/platform/logger"
	"github.com/voxkey/voicegate-backend/internal/ratelimit"
	"github.com/voxkey/voicegate-backend/internal/voiceprint/match"
)

// Config collects every runtime knob in one place. All values come from
// the environment; defaults suit a local single-instance deployment.
type Config struct {
	LogMode string
	Port    string

	EnableRegistration           bool
	EnableAuthentication         bool
	EnablePassphraseVerification bool

	SpeechLanguageCode string

	MaxAudioSizeMB   int
	MinAudioDuration time.Duration
	MaxAudioDuration time.Duration

	Threshold   float64
	ScorePolicy match.Policy

	MinEnrollmentSamples int

	RateLimitWindow      time.Duration
	RateLimitMaxFailures int

	RequestTimeout time.Duration

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresName     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GCSBucketName   string
	CredentialsFile string

	CORSOrigins []string
}

func Load(log *logger.Logger) (*Config, error) {
	policy, err := match.ParsePolicy(envutil.Str("VOICE_AUTH_SCORE_POLICY", ""))
	if err != nil {
		return nil, fmt.Errorf("VOICE_AUTH_SCORE_POLICY: %w", err)
	}

	threshold := envutil.Float("VOICE_AUTH_THRESHOLD", 0.75)
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("VOICE_AUTH_THRESHOLD must be in (0,1], got %v", threshold)
	}

	cfg := &Config{
		LogMode: envutil.Str("LOG_MODE", "development"),
		Port:    envutil.Str("PORT", "8080"),

		EnableRegistration:           envutil.Bool("ENABLE_VOICE_REGISTRATION", true),
		EnableAuthentication:         envutil.Bool("ENABLE_VOICE_AUTHENTICATION", true),
		EnablePassphraseVerification: envutil.Bool("ENABLE_PASSPHRASE_VERIFICATION", false),

		SpeechLanguageCode: envutil.Str("SPEECH_LANGUAGE_CODE", "en-US"),

		MaxAudioSizeMB:   envutil.Int("MAX_AUDIO_FILE_SIZE_MB", 10),
		MinAudioDuration: envutil.DurationSeconds("MIN_AUDIO_DURATION_SECONDS", 1*time.Second),
		MaxAudioDuration: envutil.DurationSeconds("MAX_AUDIO_DURATION_SECONDS", 30*time.Second),

		Threshold:   threshold,
		ScorePolicy: policy,

		MinEnrollmentSamples: envutil.Int("MIN_ENROLLMENT_SAMPLES", 1),

		RateLimitWindow:      envutil.DurationSeconds("RATE_LIMIT_WINDOW_SECONDS", 5*time.Minute),
		RateLimitMaxFailures: envutil.Int("RATE_LIMIT_MAX_FAILURES", 5),

		RequestTimeout: envutil.DurationSeconds("REQUEST_TIMEOUT_SECONDS", 15*time.Second),

		PostgresHost:     envutil.Str("POSTGRES_HOST", ""),
		PostgresPort:     envutil.Str("POSTGRES_PORT", "5432"),
		PostgresUser:     envutil.Str("POSTGRES_USER", "postgres"),
		PostgresPassword: envutil.Str("POSTGRES_PASSWORD", ""),
		PostgresName:     envutil.Str("POSTGRES_NAME", "voicegate"),

		RedisAddr:     envutil.Str("REDIS_ADDR", ""),
		RedisPassword: envutil.Str("REDIS_PASSWORD", ""),
		RedisDB:       envutil.Int("REDIS_DB", 0),

		GCSBucketName:   envutil.Str("GCS_BUCKET_NAME", ""),
		CredentialsFile: envutil.Str("GOOGLE_APPLICATION_CREDENTIALS_JSON", ""),

		CORSOrigins: envutil.StrSlice("CORS_ALLOWED_ORIGINS", defaultCORSOrigins()),
	}

	if cfg.MinEnrollmentSamples < 1 {
		cfg.MinEnrollmentSamples = 1
	}
	if cfg.MinAudioDuration >= cfg.MaxAudioDuration {
		return nil, fmt.Errorf("audio duration window is empty: min %s >= max %s",
			cfg.MinAudioDuration, cfg.MaxAudioDuration)
	}

	log.Info("Configuration loaded",
		"threshold", cfg.Threshold,
		"policy", string(cfg.ScorePolicy),
		"min_enrollment_samples", cfg.MinEnrollmentSamples,
		"registration_enabled", cfg.EnableRegistration,
		"authentication_enabled", cfg.EnableAuthentication,
		"passphrase_verification_enabled", cfg.EnablePassphraseVerification,
	)
	return cfg, nil
}

func (c *Config) IngestConfig() ingest.Config {
	cfg := ingest.DefaultConfig()
	cfg.MaxSizeBytes = c.MaxAudioSizeMB << 20
	cfg.MinDuration = c.MinAudioDuration
	cfg.MaxDuration = c.MaxAudioDuration
	return cfg
}

func (c *Config) MatchConfig() match.Config {
	return match.Config{Threshold: c.Threshold, Policy: c.ScorePolicy}
}

func (c *Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{Window: c.RateLimitWindow, MaxFailures: c.RateLimitMaxFailures}
}

func defaultCORSOrigins() []string {
	return []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
