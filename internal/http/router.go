package http

import (
	"time"

	"github.com/gin-gonic/gin"

	httpH "github.com/voxkey/voicegate-backend/internal/http/handlers"
	httpMW "github.com/voxkey/voicegate-backend/internal/http/middleware"
	"github.com/voxkey/voicegate-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	VoiceHandler *httpH.VoiceHandler
	UserHandler  *httpH.UserHandler
	AudioHandler *httpH.AudioHandler

	CORSOrigins    []string
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	r.GET("/healthcheck", httpH.HealthCheck)

	api := r.Group("/api")
	api.Use(httpMW.RequestTimeout(cfg.RequestTimeout))
	{
		api.GET("/ping", httpH.Ping)

		if cfg.VoiceHandler != nil {
			api.POST("/register", cfg.VoiceHandler.Register)
			api.POST("/authenticate", cfg.VoiceHandler.Authenticate)
		}

		if cfg.UserHandler != nil {
			api.GET("/users/:id/profile", cfg.UserHandler.GetProfile)
			api.GET("/users/:id/decisions", cfg.UserHandler.ListDecisions)
			api.DELETE("/users/:id/enrollment", cfg.UserHandler.RemoveEnrollment)
		}

		if cfg.AudioHandler != nil {
			api.POST("/audio", cfg.AudioHandler.Upload)
			api.POST("/audio/upload-url", cfg.AudioHandler.UploadURL)
			api.POST("/audio/download-url", cfg.AudioHandler.DownloadURL)
			api.DELETE("/audio/*key", cfg.AudioHandler.Delete)
		}
	}

	return r
}
