// Package spectral implements a deterministic voiceprint extractor built
// on a log-spaced Goertzel filterbank. Identical input audio always yields
// the identical vector, so downstream thresholds need no allowance for
// extraction variance.
package spectral

import (
	"context"
	"math"

	"github.com/voxkey/voicegate-backend/internal/audio/ingest"
	"github.com/voxkey/voicegate-backend/internal/domain"
	"github.com/voxkey/voicegate-backend/internal/platform/logger"
	"github.com/voxkey/voicegate-backend/internal/voiceprint/engine"
)

const (
	// ModelVersion tags every vector this extractor produces.
	ModelVersion = "spectral-v1"

	bands      = 64
	statsPer   = 4
	dimensions = bands * statsPer // 256

	frameLen = 400 // 25ms at 16kHz
	frameHop = 160 // 10ms at 16kHz

	minBandHz = 100.0
	maxBandHz = 7000.0

	// Mean frame RMS below this fraction of full scale counts as silence.
	silenceRMS = 0.004

	logEps = 1e-10
)

type Extractor struct {
	log     *logger.Logger
	window  []float64
	coeffs  []float64
	centers []float64
}

func New(log *logger.Logger) *Extractor {
	window := make([]float64, frameLen)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(frameLen-1))
	}

	// Log-spaced band centers give finer resolution where speech energy
	// concentrates.
	centers := make([]float64, bands)
	coeffs := make([]float64, bands)
	ratio := math.Log(maxBandHz / minBandHz)
	for b := 0; b < bands; b++ {
		f := minBandHz * math.Exp(ratio*float64(b)/float64(bands-1))
		centers[b] = f
		coeffs[b] = 2 * math.Cos(2*math.Pi*f/float64(ingest.CanonicalSampleRate))
	}

	return &Extractor{
		log:     log.With("component", "SpectralExtractor"),
		window:  window,
		coeffs:  coeffs,
		centers: centers,
	}
}

func (e *Extractor) Version() string { return ModelVersion }
func (e *Extractor) Dimensions() int { return dimensions }

// Extract computes per-band log energies over 25ms frames, then collapses
// them into band statistics (mean, spread, delta mean, delta spread) and
// L2-normalizes the result.
func (e *Extractor) Extract(ctx context.Context, sample *ingest.NormalizedSample) (domain.Vector, error) {
	pcm := sample.PCM
	if len(pcm) < frameLen {
		return nil, engine.ErrSilentAudio
	}

	frames := 1 + (len(pcm)-frameLen)/frameHop
	energies := make([][]float64, 0, frames)
	var rmsSum float64

	buf := make([]float64, frameLen)
	for f := 0; f < frames; f++ {
		if f%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		off := f * frameHop
		var sq float64
		for i := 0; i < frameLen; i++ {
			v := float64(pcm[off+i]) / 32768.0
			sq += v * v
			buf[i] = v * e.window[i]
		}
		rmsSum += math.Sqrt(sq / frameLen)

		row := make([]float64, bands)
		for b := 0; b < bands; b++ {
			row[b] = math.Log(goertzelPower(buf, e.coeffs[b]) + logEps)
		}
		energies = append(energies, row)
	}

	if rmsSum/float64(frames) < silenceRMS {
		return nil, engine.ErrSilentAudio
	}

	vec := make(domain.Vector, dimensions)
	for b := 0; b < bands; b++ {
		var sum, sumSq float64
		for f := 0; f < frames; f++ {
			v := energies[f][b]
			sum += v
			sumSq += v * v
		}
		mean := sum / float64(frames)
		variance := sumSq/float64(frames) - mean*mean
		if variance < 0 {
			variance = 0
		}

		var dSum, dSumSq float64
		for f := 1; f < frames; f++ {
			d := energies[f][b] - energies[f-1][b]
			dSum += d
			dSumSq += d * d
		}
		deltas := float64(frames - 1)
		var dMean, dVar float64
		if deltas > 0 {
			dMean = dSum / deltas
			dVar = dSumSq/deltas - dMean*dMean
			if dVar < 0 {
				dVar = 0
			}
		}

		vec[b] = float32(mean)
		vec[bands+b] = float32(math.Sqrt(variance))
		vec[2*bands+b] = float32(dMean)
		vec[3*bands+b] = float32(math.Sqrt(dVar))
	}

	if !normalize(vec) {
		return nil, engine.ErrSilentAudio
	}
	return vec, nil
}

// goertzelPower evaluates a single DFT bin over the windowed frame.
func goertzelPower(frame []float64, coeff float64) float64 {
	var s1, s2 float64
	for _, x := range frame {
		s := x + coeff*s1 - s2
		s2 = s1
		s1 = s
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}

func normalize(v domain.Vector) bool {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return false
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return true
}
