// Package match implements the comparison half of the decision engine:
// cosine similarity between a fresh voiceprint and a user's references,
// aggregated under a configurable policy and checked against a threshold.
package match

import (
	"fmt"
	"math"
	"strings"

	"github.com/voxkey/voicegate-backend/internal/domain"
	"github.com/voxkey/voicegate-backend/internal/platform/apierr"
)

type Policy string

const (
	// PolicyMax scores by the best-matching reference. Most permissive to
	// recording variance; the default.
	PolicyMax Policy = "max"
	// PolicyMean scores by the mean over references, robust to a single
	// noisy enrollment.
	PolicyMean Policy = "mean"
	// PolicyWeighted blends both: 0.6*mean + 0.4*max.
	PolicyWeighted Policy = "weighted"
)

const (
	weightedMeanShare = 0.6
	weightedMaxShare  = 0.4
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyMax, "":
		return PolicyMax, nil
	case PolicyMean:
		return PolicyMean, nil
	case PolicyWeighted:
		return PolicyWeighted, nil
	default:
		return "", fmt.Errorf("unknown score policy %q", s)
	}
}

type Config struct {
	Threshold float64
	Policy    Policy
}

func DefaultConfig() Config {
	return Config{Threshold: 0.75, Policy: PolicyMax}
}

type Result struct {
	Score        float64
	Accepted     bool
	Best         float64
	Mean         float64
	Comparisons  int
	Threshold    float64
	Policy       Policy
	ModelVersion string
}

type Matcher struct {
	cfg Config
}

func New(cfg Config) *Matcher {
	return &Matcher{cfg: cfg}
}

func (m *Matcher) Config() Config { return m.cfg }

// Compare scores a fresh vector against the stored references. Any
// model-version or dimensionality disagreement fails fast; a meaningless
// numeric score is never produced.
//
// The threshold boundary is inclusive: score == threshold accepts.
func (m *Matcher) Compare(fresh domain.Vector, freshVersion string, refs []*domain.Voiceprint) (*Result, error) {
	if len(fresh) == 0 {
		return nil, apierr.ExtractionFailed(fmt.Errorf("empty input voiceprint"))
	}
	if len(refs) == 0 {
		return nil, apierr.UserNotEnrolled(fmt.Errorf("no reference voiceprints"))
	}

	var (
		best  float64
		sum   float64
		count int
	)
	for _, ref := range refs {
		if ref.ModelVersion != freshVersion {
			return nil, apierr.ModelVersionMismatch(fmt.Errorf(
				"reference voiceprint model %q does not match extractor %q", ref.ModelVersion, freshVersion))
		}
		sim, err := Cosine(fresh, ref.Embedding)
		if err != nil {
			return nil, apierr.ModelVersionMismatch(err)
		}
		if sim > best {
			best = sim
		}
		sum += sim
		count++
	}

	mean := sum / float64(count)

	var score float64
	switch m.cfg.Policy {
	case PolicyMean:
		score = mean
	case PolicyWeighted:
		score = weightedMeanShare*mean + weightedMaxShare*best
	default:
		score = best
	}

	return &Result{
		Score:        score,
		Accepted:     score >= m.cfg.Threshold,
		Best:         best,
		Mean:         mean,
		Comparisons:  count,
		Threshold:    m.cfg.Threshold,
		Policy:       m.cfg.Policy,
		ModelVersion: freshVersion,
	}, nil
}

// Cosine computes cosine similarity clamped to [0,1]; opposed vectors
// score zero rather than negative. A zero-norm vector scores zero.
func Cosine(a, b domain.Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("voiceprint dimensions mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("empty voiceprint")
	}
	var dot, na, nb float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0, nil
	}
	if sim > 1 {
		sim = 1
	}
	return sim, nil
}
