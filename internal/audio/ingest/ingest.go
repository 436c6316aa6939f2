package ingest

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/voxkey/voicegate-backend/internal/platform/apierr"
	"github.com/voxkey/voicegate-backend/internal/platform/logger"
)

// CanonicalSampleRate is the rate every sample is normalized to before
// embedding extraction.
const CanonicalSampleRate = 16000

type Config struct {
	MaxSizeBytes   int
	MinSizeBytes   int
	MinDuration    time.Duration
	MaxDuration    time.Duration
	AllowedFormats []string
}

func DefaultConfig() Config {
	return Config{
		MaxSizeBytes:   10 * 1024 * 1024,
		MinSizeBytes:   1024,
		MinDuration:    1 * time.Second,
		MaxDuration:    30 * time.Second,
		AllowedFormats: []string{"wav"},
	}
}

// NormalizedSample is the transient output of ingestion: canonical-rate
// mono PCM plus measured properties. It is never persisted; callers drop
// it as soon as an embedding has been extracted.
type NormalizedSample struct {
	PCM        []int16
	SampleRate int
	Duration   time.Duration
	Format     string
	Recovered  bool
	ReceivedAt time.Time
}

type Ingestor interface {
	Process(raw []byte, declaredFormat string) (*NormalizedSample, error)
}

type ingestor struct {
	cfg Config
	log *logger.Logger
}

func New(cfg Config, log *logger.Logger) Ingestor {
	return &ingestor{cfg: cfg, log: log.With("component", "AudioIngestor")}
}

// Process validates raw audio and converts it to canonical-rate mono PCM.
// Validation is a pure gate: nothing is persisted on either path.
func (in *ingestor) Process(raw []byte, declaredFormat string) (*NormalizedSample, error) {
	if len(raw) == 0 {
		return nil, apierr.InvalidAudioFormat(fmt.Errorf("empty audio payload"))
	}
	if len(raw) > in.cfg.MaxSizeBytes {
		return nil, apierr.AudioTooLarge(fmt.Errorf("audio is %d bytes, limit %d", len(raw), in.cfg.MaxSizeBytes))
	}
	if len(raw) < in.cfg.MinSizeBytes {
		return nil, apierr.AudioTooShort(fmt.Errorf("audio is %d bytes, minimum %d", len(raw), in.cfg.MinSizeBytes))
	}
	if err := scanSuspiciousContent(raw); err != nil {
		return nil, apierr.InvalidAudioFormat(err)
	}

	format := SniffFormat(raw)
	if format == "" {
		return nil, apierr.InvalidAudioFormat(fmt.Errorf("unrecognized audio container"))
	}
	if declared := strings.ToLower(strings.TrimSpace(declaredFormat)); declared != "" && declared != format {
		return nil, apierr.InvalidAudioFormat(fmt.Errorf("declared format %q does not match detected %q", declared, format))
	}
	if !in.formatAllowed(format) {
		return nil, apierr.InvalidAudioFormat(fmt.Errorf("format %q not supported (allowed: %s)", format, strings.Join(in.cfg.AllowedFormats, ", ")))
	}

	wav, err := decodeWAV(raw)
	if err != nil {
		return nil, apierr.InvalidAudioFormat(err)
	}

	pcm := wav.Samples
	if wav.Channels == 2 {
		pcm = downmixMono(pcm)
	}

	duration := time.Duration(len(pcm)) * time.Second / time.Duration(wav.SampleRate)
	if duration < in.cfg.MinDuration {
		return nil, apierr.AudioTooShort(fmt.Errorf("audio duration %.2fs below minimum %.2fs", duration.Seconds(), in.cfg.MinDuration.Seconds()))
	}
	if duration > in.cfg.MaxDuration {
		return nil, apierr.AudioTooLong(fmt.Errorf("audio duration %.2fs above maximum %.2fs", duration.Seconds(), in.cfg.MaxDuration.Seconds()))
	}

	recovered := removeDCOffset(pcm)

	if wav.SampleRate != CanonicalSampleRate {
		pcm, err = resamplePCM(pcm, wav.SampleRate, CanonicalSampleRate)
		if err != nil {
			return nil, apierr.ExtractionFailed(fmt.Errorf("resample %dHz to %dHz: %w", wav.SampleRate, CanonicalSampleRate, err))
		}
	}

	in.log.Debug("audio normalized",
		"format", format,
		"source_rate", wav.SampleRate,
		"channels", wav.Channels,
		"duration_ms", duration.Milliseconds(),
		"recovered", recovered,
	)

	return &NormalizedSample{
		PCM:        pcm,
		SampleRate: CanonicalSampleRate,
		Duration:   duration,
		Format:     format,
		Recovered:  recovered,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

func (in *ingestor) formatAllowed(format string) bool {
	for _, f := range in.cfg.AllowedFormats {
		if strings.EqualFold(strings.TrimSpace(f), format) {
			return true
		}
	}
	return false
}

// SniffFormat identifies the container from magic bytes. An empty string
// means no known audio signature matched.
func SniffFormat(raw []byte) string {
	if len(raw) < 12 {
		return ""
	}
	switch {
	case bytes.HasPrefix(raw, []byte("RIFF")) && bytes.Equal(raw[8:12], []byte("WAVE")):
		return "wav"
	case bytes.HasPrefix(raw, []byte("fLaC")):
		return "flac"
	case bytes.HasPrefix(raw, []byte("ID3")),
		bytes.HasPrefix(raw, []byte{0xFF, 0xFB}),
		bytes.HasPrefix(raw, []byte{0xFF, 0xF3}),
		bytes.HasPrefix(raw, []byte{0xFF, 0xF2}):
		return "mp3"
	case bytes.Contains(raw[:12], []byte("ftypM4A")):
		return "m4a"
	default:
		return ""
	}
}

// scanSuspiciousContent rejects payloads whose first KiB carries an
// executable or script signature anywhere, not just at offset zero; a
// hostile payload can splice one behind a valid audio header.
func scanSuspiciousContent(raw []byte) error {
	window := raw
	if len(window) > 1024 {
		window = window[:1024]
	}
	patterns := [][]byte{
		[]byte("MZ"),
		{0x7F, 'E', 'L', 'F'},
		{0xCA, 0xFE, 0xBA, 0xBE},
		[]byte("#!/bin/"),
		[]byte("<script"),
		[]byte("javascript:"),
	}
	for _, p := range patterns {
		if bytes.Contains(window, p) {
			return fmt.Errorf("payload carries a non-audio signature")
		}
	}
	return nil
}

// removeDCOffset subtracts a constant bias when the mean amplitude drifts
// far from zero. Returns true when a repair was applied; such samples are
// eligible for one extraction retry.
func removeDCOffset(pcm []int16) bool {
	if len(pcm) == 0 {
		return false
	}
	var sum int64
	for _, s := range pcm {
		sum += int64(s)
	}
	mean := sum / int64(len(pcm))
	if mean > -256 && mean < 256 {
		return false
	}
	for i, s := range pcm {
		v := int32(s) - int32(mean)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		pcm[i] = int16(v)
	}
	return true
}

func resamplePCM(pcm []int16, srcRate, dstRate int) ([]int16, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, err
	}

	input := make([]float64, len(pcm))
	for i, s := range pcm {
		input[i] = float64(s) / 32768.0
	}

	output, err := rs.Process(input)
	if err != nil {
		return nil, err
	}

	out := make([]int16, len(output))
	for i, f := range output {
		v := f * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out, nil
}
