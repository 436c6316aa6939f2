package transcribe

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/voxkey/voicegate-backend/internal/audio/ingest"
	"github.com/voxkey/voicegate-backend/internal/platform/logger"
)

const (
	recognizeTimeout = 30 * time.Second
	maxRetries       = 3
)

type GoogleConfig struct {
	CredentialsFile string
	LanguageCode    string
}

// GoogleTranscriber recognizes short passphrase utterances with the Cloud
// Speech-to-Text API. Samples are canonical-rate mono PCM16, so the request
// config is fixed to LINEAR16.
type GoogleTranscriber struct {
	log    *logger.Logger
	client *speech.Client
	lang   string
}

func NewGoogle(ctx context.Context, cfg GoogleConfig, baseLog *logger.Logger) (*GoogleTranscriber, error) {
	lang := strings.TrimSpace(cfg.LanguageCode)
	if lang == "" {
		lang = "en-US"
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}

	return &GoogleTranscriber{
		log:    baseLog.With("component", "GoogleTranscriber"),
		client: client,
		lang:   lang,
	}, nil
}

func (g *GoogleTranscriber) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GoogleTranscriber) Transcribe(ctx context.Context, sample *ingest.NormalizedSample) (string, error) {
	if sample == nil || len(sample.PCM) == 0 {
		return "", fmt.Errorf("empty sample")
	}
	ctx, cancel := context.WithTimeout(ctx, recognizeTimeout)
	defer cancel()

	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:          speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:   int32(sample.SampleRate),
			AudioChannelCount: 1,
			LanguageCode:      g.lang,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: pcmBytes(sample.PCM)},
		},
	}

	resp, err := g.retryRecognize(ctx, req)
	if err != nil {
		return "", fmt.Errorf("speech recognize: %w", err)
	}

	var full strings.Builder
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		text := strings.TrimSpace(alts[0].GetTranscript())
		if text == "" {
			continue
		}
		if full.Len() > 0 {
			full.WriteByte(' ')
		}
		full.WriteString(text)
	}
	return full.String(), nil
}

func (g *GoogleTranscriber) retryRecognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	backoff := 500 * time.Millisecond
	var last error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := g.client.Recognize(ctx, req)
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted {
			return nil, err
		}
		if attempt == maxRetries {
			break
		}
		g.log.Warn("Speech recognize retrying", "attempt", attempt+1, "error", err.Error())
		time.Sleep(backoff)
		backoff *= 2
	}
	return nil, last
}

func pcmBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
