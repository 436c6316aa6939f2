package handlers

import (
	"encoding/base64"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/voxkey/voicegate-backend/internal/platform/apierr"
	"github.com/voxkey/voicegate-backend/internal/platform/logger"
	"github.com/voxkey/voicegate-backend/internal/services"
)

const maxMultipartMemory = 12 << 20

// VoiceHandler serves the two core operations: enrolling a voice sample and
// authenticating against enrolled samples. Audio arrives one of three ways:
// a multipart file upload, inline base64 in a JSON body, or a storage key
// referencing a previously uploaded object.
type VoiceHandler struct {
	log       *logger.Logger
	enrollSvc services.EnrollmentService
	authSvc   services.AuthenticationService
	audioSvc  services.AudioStorageService
}

func NewVoiceHandler(
	log *logger.Logger,
	enrollSvc services.EnrollmentService,
	authSvc services.AuthenticationService,
	audioSvc services.AudioStorageService,
) *VoiceHandler {
	return &VoiceHandler{
		log:       log.With("handler", "VoiceHandler"),
		enrollSvc: enrollSvc,
		authSvc:   authSvc,
		audioSvc:  audioSvc,
	}
}

type voiceRequest struct {
	UserID      string `json:"user_id"`
	AudioBase64 string `json:"audio_base64"`
	AudioKey    string `json:"audio_key"`
	Format      string `json:"format"`
}

// POST /api/register
func (h *VoiceHandler) Register(c *gin.Context) {
	userID, raw, format, audioKey, err := h.parseAudioRequest(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	result, err := h.enrollSvc.Register(c.Request.Context(), userID, raw, format)
	if err != nil {
		RespondError(c, err)
		return
	}
	h.cleanupStoredAudio(c, audioKey)
	RespondOK(c, result)
}

// POST /api/authenticate
func (h *VoiceHandler) Authenticate(c *gin.Context) {
	userID, raw, format, audioKey, err := h.parseAudioRequest(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	result, err := h.authSvc.Authenticate(c.Request.Context(), userID, raw, format)
	if err != nil {
		RespondError(c, err)
		return
	}
	h.cleanupStoredAudio(c, audioKey)
	RespondOK(c, result)
}

func (h *VoiceHandler) parseAudioRequest(c *gin.Context) (userID string, raw []byte, format, audioKey string, err error) {
	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "multipart/form-data") {
		userID, raw, format, err = h.parseMultipart(c)
		return userID, raw, format, "", err
	}

	var req voiceRequest
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
		return "", nil, "", "", apierr.BadRequest(fmt.Errorf("invalid request body: %w", bindErr))
	}

	switch {
	case req.AudioBase64 != "":
		raw, err = decodeBase64Audio(req.AudioBase64)
		if err != nil {
			return "", nil, "", "", err
		}
	case req.AudioKey != "":
		raw, err = h.fetchStoredAudio(c, req.AudioKey)
		if err != nil {
			return "", nil, "", "", err
		}
		audioKey = req.AudioKey
		if req.Format == "" {
			req.Format = formatFromKey(req.AudioKey)
		}
	default:
		return "", nil, "", "", apierr.BadRequest(fmt.Errorf("one of audio_base64 or audio_key is required"))
	}
	return req.UserID, raw, req.Format, audioKey, nil
}

func (h *VoiceHandler) parseMultipart(c *gin.Context) (string, []byte, string, error) {
	if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil {
		return "", nil, "", apierr.BadRequest(fmt.Errorf("invalid multipart form: %w", err))
	}
	fileHeader, err := c.FormFile("audio")
	if err != nil {
		return "", nil, "", apierr.BadRequest(fmt.Errorf("missing audio file field: %w", err))
	}
	f, err := fileHeader.Open()
	if err != nil {
		return "", nil, "", apierr.BadRequest(fmt.Errorf("cannot open uploaded file: %w", err))
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, maxMultipartMemory))
	if err != nil {
		return "", nil, "", apierr.BadRequest(fmt.Errorf("cannot read uploaded file: %w", err))
	}

	format := c.PostForm("format")
	if format == "" {
		format = formatFromKey(fileHeader.Filename)
	}
	return c.PostForm("user_id"), raw, format, nil
}

// cleanupStoredAudio removes a consumed audio object. Raw samples are kept
// only until they have been turned into a voiceprint or a decision; failures
// here are logged, not surfaced, since the operation already succeeded.
func (h *VoiceHandler) cleanupStoredAudio(c *gin.Context, key string) {
	if key == "" || h.audioSvc == nil {
		return
	}
	if err := h.audioSvc.DeleteAudio(c.Request.Context(), key); err != nil {
		h.log.Warn("Failed to delete consumed audio object", "key", key, "error", err.Error())
	}
}

func (h *VoiceHandler) fetchStoredAudio(c *gin.Context, key string) ([]byte, error) {
	if h.audioSvc == nil {
		return nil, apierr.FeatureDisabled(fmt.Errorf("object storage is not configured"))
	}
	raw, err := h.audioSvc.DownloadAudio(c.Request.Context(), key)
	if err != nil {
		return nil, apierr.StorageUnavailable(fmt.Errorf("cannot fetch audio object: %w", err))
	}
	return raw, nil
}

func decodeBase64Audio(encoded string) ([]byte, error) {
	// Tolerate data URI prefixes like "data:audio/wav;base64,".
	if idx := strings.Index(encoded, ","); idx != -1 && strings.Contains(encoded[:idx], "base64") {
		encoded = encoded[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apierr.BadRequest(fmt.Errorf("audio_base64 is not valid base64: %w", err))
	}
	return raw, nil
}

func formatFromKey(key string) string {
	ext := strings.TrimPrefix(filepath.Ext(key), ".")
	return strings.ToLower(ext)
}
