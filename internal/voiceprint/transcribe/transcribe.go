// Package transcribe turns a normalized audio sample into the words that
// were spoken, so an authentication attempt can be checked against the
// user's enrolled passphrase as well as their voiceprint.
package transcribe

import (
	"context"
	"strings"
	"unicode"

	"github.com/voxkey/voicegate-backend/internal/audio/ingest"
)

type Transcriber interface {
	Transcribe(ctx context.Context, sample *ingest.NormalizedSample) (string, error)
}

// Normalize lowercases a transcript and strips everything but letters,
// digits, and single spaces, matching the form passphrases are stored in.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case !space:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
