// Package transcription turns meeting audio into text.
package transcription

import "context"

// Provider transcribes one audio file. The deployment picks a single provider
// at start-up; there is no per-call fallback.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}
