package handlers

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/voxkey/voicegate-backend/internal/platform/apierr"
	"github.com/voxkey/voicegate-backend/internal/platform/logger"
	"github.com/voxkey/voicegate-backend/internal/services"
)

// AudioHandler issues signed URLs so clients can move audio directly to and
// from object storage without proxying bytes through the API.
type AudioHandler struct {
	log      *logger.Logger
	audioSvc services.AudioStorageService
}

func NewAudioHandler(log *logger.Logger, audioSvc services.AudioStorageService) *AudioHandler {
	return &AudioHandler{
		log:      log.With("handler", "AudioHandler"),
		audioSvc: audioSvc,
	}
}

// POST /api/audio
// Server-side upload for clients that cannot use signed URLs. The audio
// lands in the bucket unvalidated; validation happens when the key is
// consumed by register or authenticate.
func (h *AudioHandler) Upload(c *gin.Context) {
	userID := strings.TrimSpace(c.PostForm("user_id"))
	if userID == "" {
		RespondError(c, apierr.BadRequest(fmt.Errorf("user_id is required")))
		return
	}
	fileHeader, err := c.FormFile("audio")
	if err != nil {
		RespondError(c, apierr.BadRequest(fmt.Errorf("missing audio file field: %w", err)))
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		RespondError(c, apierr.BadRequest(fmt.Errorf("cannot open uploaded file: %w", err)))
		return
	}
	defer f.Close()

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileHeader.Filename)), ".")
	if ext == "" {
		ext = "wav"
	}
	key := fmt.Sprintf("voice-samples/%s/%s.%s", userID, uuid.New().String(), ext)
	if err := h.audioSvc.UploadAudio(c.Request.Context(), key, io.LimitReader(f, maxMultipartMemory)); err != nil {
		RespondError(c, apierr.StorageUnavailable(err))
		return
	}
	RespondOK(c, gin.H{"key": key})
}

// DELETE /api/audio/*key
func (h *AudioHandler) Delete(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		RespondError(c, apierr.BadRequest(fmt.Errorf("key is required")))
		return
	}
	if err := h.audioSvc.DeleteAudio(c.Request.Context(), key); err != nil {
		RespondError(c, apierr.StorageUnavailable(err))
		return
	}
	RespondOK(c, gin.H{"key": key, "deleted": true})
}

type uploadURLRequest struct {
	UserID      string `json:"user_id"`
	ContentType string `json:"content_type"`
}

// POST /api/audio/upload-url
func (h *AudioHandler) UploadURL(c *gin.Context) {
	var req uploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.BadRequest(fmt.Errorf("invalid request body: %w", err)))
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		RespondError(c, apierr.BadRequest(fmt.Errorf("user_id is required")))
		return
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = "audio/wav"
	}

	key := fmt.Sprintf("voice-samples/%s/%s.wav", req.UserID, uuid.New().String())
	url, err := h.audioSvc.SignedUploadURL(key, contentType)
	if err != nil {
		RespondError(c, apierr.StorageUnavailable(err))
		return
	}
	RespondOK(c, gin.H{"key": key, "url": url, "content_type": contentType})
}

type downloadURLRequest struct {
	Key string `json:"key"`
}

// POST /api/audio/download-url
func (h *AudioHandler) DownloadURL(c *gin.Context) {
	var req downloadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.BadRequest(fmt.Errorf("invalid request body: %w", err)))
		return
	}
	if strings.TrimSpace(req.Key) == "" {
		RespondError(c, apierr.BadRequest(fmt.Errorf("key is required")))
		return
	}
	url, err := h.audioSvc.SignedDownloadURL(req.Key)
	if err != nil {
		RespondError(c, apierr.StorageUnavailable(err))
		return
	}
	RespondOK(c, gin.H{"key": req.Key, "url": url})
}
