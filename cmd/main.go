package main

import (
	"context"
	"fmt"
	"os"

	"github.com/voxkey/voicegate-backend/internal/app"
	"github.com/voxkey/voicegate-backend/internal/audio/ingest"
	"github.com/voxkey/voicegate-backend/internal/data/store"
	storememory "github.com/voxkey/voicegate-backend/internal/data/store/memory"
	storepostgres "github.com/voxkey/voicegate-backend/internal/data/store/postgres"
	"github.com/voxkey/voicegate-backend/internal/db"
	httpserver "github.com/voxkey/voicegate-backend/internal/http"
	httpH "github.com/voxkey/voicegate-backend/internal/http/handlers"
	"github.com/voxkey/voicegate-backend/internal/platform/logger"
	"github.com/voxkey/voicegate-backend/internal/ratelimit"
	limitmemory "github.com/voxkey/voicegate-backend/internal/ratelimit/memory"
	limitredis "github.com/voxkey/voicegate-backend/internal/ratelimit/redis"
	"github.com/voxkey/voicegate-backend/internal/services"
	"github.com/voxkey/voicegate-backend/internal/voiceprint/engine/spectral"
	"github.com/voxkey/voicegate-backend/internal/voiceprint/match"
	"github.com/voxkey/voicegate-backend/internal/voiceprint/transcribe"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	log.Info("Loading configuration from main...")
	cfg, err := app.Load(log)
	if err != nil {
		log.Fatal("Invalid configuration", "error", err)
	}

	// Storage
	var (
		enrollStore store.EnrollmentStore
		decisionLog store.DecisionLog
	)
	if cfg.PostgresHost != "" {
		postgresService, err := db.NewPostgresService(db.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			Name:     cfg.PostgresName,
		}, log)
		if err != nil {
			log.Fatal("Postgres init failed", "error", err)
		}
		if err := postgresService.AutoMigrateAll(); err != nil {
			log.Fatal("Postgres auto migration failed", "error", err)
		}
		pgStore := storepostgres.New(postgresService.DB(), storepostgres.Config{
			MinEnrollmentSamples: cfg.MinEnrollmentSamples,
		}, log)
		enrollStore = pgStore
		decisionLog = pgStore
	} else {
		log.Warn("POSTGRES_HOST not set, using in-memory store; enrollments will not survive restarts")
		memStore := storememory.New(storememory.Config{
			MinEnrollmentSamples: cfg.MinEnrollmentSamples,
		})
		enrollStore = memStore
		decisionLog = memStore
	}

	// Rate limiter
	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		redisLimiter, err := limitredis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RateLimitConfig(), log)
		if err != nil {
			log.Fatal("Redis rate limiter init failed", "error", err)
		}
		limiter = redisLimiter
	} else {
		log.Warn("REDIS_ADDR not set, using in-memory rate limiter")
		limiter = limitmemory.New(cfg.RateLimitConfig())
	}

	// Object storage (optional)
	var audioStorage services.AudioStorageService
	if cfg.GCSBucketName != "" {
		audioStorage, err = services.NewAudioStorageService(services.AudioStorageConfig{
			BucketName:      cfg.GCSBucketName,
			CredentialsFile: cfg.CredentialsFile,
		}, log)
		if err != nil {
			log.Fatal("Audio storage init failed", "error", err)
		}
	} else {
		log.Warn("GCS_BUCKET_NAME not set, audio must be sent inline")
	}

	// Pipeline
	log.Info("Setting up voice pipeline from main...")
	ingestor := ingest.New(cfg.IngestConfig(), log)
	eng := spectral.New(log)
	matcher := match.New(cfg.MatchConfig())

	// Spoken-passphrase verification (optional)
	var transcriber transcribe.Transcriber
	if cfg.EnablePassphraseVerification {
		googleTranscriber, err := transcribe.NewGoogle(context.Background(), transcribe.GoogleConfig{
			CredentialsFile: cfg.CredentialsFile,
			LanguageCode:    cfg.SpeechLanguageCode,
		}, log)
		if err != nil {
			log.Fatal("Speech transcriber init failed", "error", err)
		}
		defer googleTranscriber.Close()
		transcriber = googleTranscriber
	} else {
		log.Warn("ENABLE_PASSPHRASE_VERIFICATION not set, accepting on voiceprint match alone")
	}

	// Services
	log.Info("Setting up services from main...")
	enrollmentService := services.NewEnrollmentService(
		services.EnrollmentConfig{Enabled: cfg.EnableRegistration},
		ingestor, eng, enrollStore, log)
	authenticationService := services.NewAuthenticationService(
		services.AuthenticationConfig{Enabled: cfg.EnableAuthentication},
		ingestor, eng, matcher, enrollStore, decisionLog, limiter, transcriber, log)

	// Handlers
	log.Info("Setting up handlers from main...")
	voiceHandler := httpH.NewVoiceHandler(log, enrollmentService, authenticationService, audioStorage)
	userHandler := httpH.NewUserHandler(log, enrollmentService, authenticationService)
	var audioHandler *httpH.AudioHandler
	if audioStorage != nil {
		audioHandler = httpH.NewAudioHandler(log, audioStorage)
	}

	// Router
	log.Info("Setting up router from main...")
	server := httpserver.NewServer(httpserver.RouterConfig{
		Log:            log,
		VoiceHandler:   voiceHandler,
		UserHandler:    userHandler,
		AudioHandler:   audioHandler,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
	})

	fmt.Printf("Server listening on :%s\n", cfg.Port)
	if err := server.Run(":" + cfg.Port); err != nil {
		log.Fatal("Server failed", "error", err)
	}
}
