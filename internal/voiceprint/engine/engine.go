package engine

import (
	"context"
	"errors"

	"github.com/voxkey/voicegate-backend/internal/audio/ingest"
	"github.com/voxkey/voicegate-backend/internal/domain"
)

// ErrSilentAudio is returned when the sample carries too little energy to
// produce a meaningful voiceprint.
var ErrSilentAudio = errors.New("audio energy below silence threshold")

// Engine turns a normalized sample into a fixed-length voiceprint vector.
// Every vector an engine emits carries the engine's version tag; vectors
// from different versions are never comparable.
type Engine interface {
	Extract(ctx context.Context, sample *ingest.NormalizedSample) (domain.Vector, error)
	Version() string
	Dimensions() int
}
