// Package extractor derives a summary, action items and key decisions from a
// meeting transcript using a language model.
package extractor

import (
	"context"

	"meeting-insights-go/internal/types"
)

// Provider analyzes one transcript. title may be empty.
type Provider interface {
	Analyze(ctx context.Context, transcript, title string) (types.Analysis, error)
}

// Prober is a provider that can report whether it is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// Params are the sampling settings shared by both model backends.
type Params struct {
	Temperature float64
	MaxTokens   int
}
