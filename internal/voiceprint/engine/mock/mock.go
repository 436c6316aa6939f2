// Package mock provides a deterministic in-memory engine for tests: the
// vector is derived from a hash of the PCM payload, so equal audio yields
// equal vectors and distinct audio yields (near-)orthogonal ones.
package mock

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"

	"github.com/voxkey/voicegate-backend/internal/audio/ingest"
	"github.com/voxkey/voicegate-backend/internal/domain"
	"github.com/voxkey/voicegate-backend/internal/voiceprint/engine"
)

const dimensions = 16

type Engine struct {
	// FailNext forces the next Extract call to report silent audio, then
	// resets. Used to exercise retry paths.
	FailNext bool

	version string
}

func New() *Engine {
	return &Engine{version: "mock-v1"}
}

func NewWithVersion(version string) *Engine {
	return &Engine{version: version}
}

func (e *Engine) Version() string { return e.version }
func (e *Engine) Dimensions() int { return dimensions }

func (e *Engine) Extract(ctx context.Context, sample *ingest.NormalizedSample) (domain.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.FailNext {
		e.FailNext = false
		return nil, engine.ErrSilentAudio
	}
	if len(sample.PCM) == 0 {
		return nil, engine.ErrSilentAudio
	}

	h := fnv.New64a()
	raw := make([]byte, 2)
	for _, s := range sample.PCM {
		binary.LittleEndian.PutUint16(raw, uint16(s))
		_, _ = h.Write(raw)
	}
	seed := h.Sum64()

	vec := make(domain.Vector, dimensions)
	var sum float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed)) / float64(math.MaxInt64)
		vec[i] = float32(v)
		sum += v * v
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
