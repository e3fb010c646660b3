package extractor

import (
	"context"
	"errors"
	"time"

	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/types"
)

// Primary is a provider with a liveness probe, normally the local model.
type Primary interface {
	Provider
	Prober
}

// Selector picks one provider per call. The primary is probed fresh every
// time with its own short timeout; if it answers, it does the analysis and
// any failure is returned as is. Only a failed probe routes the call to the
// fallback. Exactly one provider's Analyze runs per call.
type Selector struct {
	primary      Primary
	fallback     Provider
	probeTimeout time.Duration
	log          *logger.Logger
}

func NewSelector(primary Primary, fallback Provider, probeTimeout time.Duration, log *logger.Logger) *Selector {
	return &Selector{
		primary:      primary,
		fallback:     fallback,
		probeTimeout: probeTimeout,
		log:          log.Component("extractor.selector"),
	}
}

var errNoProvider = errors.New("no analysis provider configured")

func (s *Selector) Analyze(ctx context.Context, transcript, title string) (types.Analysis, error) {
	if s.primary != nil {
		err := s.probe(ctx)
		if err == nil {
			s.log.Debug("primary analysis provider is up")
			return s.primary.Analyze(ctx, transcript, title)
		}
		s.log.WithError(err).Warn("primary analysis provider unavailable, using fallback")
	}
	if s.fallback == nil {
		return types.Analysis{}, errNoProvider
	}
	return s.fallback.Analyze(ctx, transcript, title)
}

func (s *Selector) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	return s.primary.Ping(ctx)
}
