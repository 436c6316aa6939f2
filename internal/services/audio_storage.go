package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/voxkey/voicegate-backend/internal/platform/logger"
)

const (
	signedURLTTL    = 15 * time.Minute
	maxDownloadSize = 11 << 20
)

// AudioStorageService moves raw audio blobs in and out of object storage.
// Clients either push audio inline with the request or upload it first via
// a signed URL and pass the object key instead.
type AudioStorageService interface {
	UploadAudio(ctx context.Context, key string, audio io.Reader) error
	DownloadAudio(ctx context.Context, key string) ([]byte, error)
	DeleteAudio(ctx context.Context, key string) error
	SignedUploadURL(key, contentType string) (string, error)
	SignedDownloadURL(key string) (string, error)
}

type audioStorageService struct {
	log           *logger.Logger
	storageClient *storage.Client
	bucketName    string
}

type AudioStorageConfig struct {
	BucketName      string
	CredentialsFile string
}

func NewAudioStorageService(cfg AudioStorageConfig, baseLog *logger.Logger) (AudioStorageService, error) {
	serviceLog := baseLog.With("service", "AudioStorageService")
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("missing GCS bucket name")
	}
	if cfg.CredentialsFile == "" {
		serviceLog.Warn("No explicit credentials file, storage client falls back to ADC")
	}
	ctx := context.Background()
	var stClient *storage.Client
	var err error
	if cfg.CredentialsFile != "" {
		stClient, err = storage.NewClient(ctx, option.WithCredentialsFile(cfg.CredentialsFile), option.WithScopes(storage.ScopeReadWrite))
	} else {
		stClient, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &audioStorageService{
		log:           serviceLog,
		storageClient: stClient,
		bucketName:    cfg.BucketName,
	}, nil
}

func (as *audioStorageService) UploadAudio(ctx context.Context, key string, audio io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	w := as.storageClient.Bucket(as.bucketName).Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, audio); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write audio to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (as *audioStorageService) DownloadAudio(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	r, err := as.storageClient.Bucket(as.bucketName).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS object %q: %w", key, err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(r, maxDownloadSize)); err != nil {
		return nil, fmt.Errorf("failed to read GCS object %q: %w", key, err)
	}
	return buf.Bytes(), nil
}

func (as *audioStorageService) DeleteAudio(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := as.storageClient.Bucket(as.bucketName).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete GCS object %q: %w", key, err)
	}
	return nil
}

func (as *audioStorageService) SignedUploadURL(key, contentType string) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      http.MethodPut,
		ContentType: contentType,
		Expires:     time.Now().Add(signedURLTTL),
	}
	url, err := as.storageClient.Bucket(as.bucketName).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("failed to sign upload URL for %q: %w", key, err)
	}
	return url, nil
}

func (as *audioStorageService) SignedDownloadURL(key string) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(signedURLTTL),
	}
	url, err := as.storageClient.Bucket(as.bucketName).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("failed to sign download URL for %q: %w", key, err)
	}
	return url, nil
}
