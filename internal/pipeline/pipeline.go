// Package pipeline drives one meeting job from upload to a terminal state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meeting-insights-go/internal/extractor"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/media"
	"meeting-insights-go/internal/queue"
	"meeting-insights-go/internal/store"
	"meeting-insights-go/internal/transcription"
	"meeting-insights-go/internal/types"
)

// AudioExtractor pulls the audio track out of a video container.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath string) (*media.Artifact, error)
}

// Notifier is told about every status change the pipeline writes.
type Notifier interface {
	JobUpdated(job types.Job)
}

type Deps struct {
	Store       store.Store
	Transcriber transcription.Provider
	Analyzer    extractor.Provider
	Extractor   AudioExtractor
	Notifier    Notifier
	// ExtractTimeout bounds audio extraction. Providers bound their own calls
	// so that waiting for an inference slot is not charged to them.
	ExtractTimeout time.Duration
	Log     *logger.Logger
}

// Pipeline is the only writer of terminal job state. Each Run owns the job's
// uploaded file and any extracted audio, and removes both before it records
// the outcome.
type Pipeline struct {
	store       store.Store
	transcriber transcription.Provider
	analyzer    extractor.Provider
	extractor   AudioExtractor
	notifier    Notifier
	timeout     time.Duration
	log         *logger.Logger
}

func New(d Deps) *Pipeline {
	if d.ExtractTimeout <= 0 {
		d.ExtractTimeout = 5 * time.Minute
	}
	return &Pipeline{
		store:       d.Store,
		transcriber: d.Transcriber,
		analyzer:    d.Analyzer,
		extractor:   d.Extractor,
		notifier:    d.Notifier,
		timeout:     d.ExtractTimeout,
		log:         d.Log.Component("pipeline"),
	}
}

// stageError tags a failure with the pipeline step that produced it.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s failed: %v", e.stage, e.err) }

func (e *stageError) Unwrap() error { return e.err }

// Run processes t to completion. It matches queue.Handler.
func (p *Pipeline) Run(ctx context.Context, t queue.Task) {
	log := p.log.With("job_id", t.JobID)
	start := time.Now()
	log.WithField("filename", t.Filename).Info("processing started")

	res, err := p.safeProcess(ctx, t, log)
	switch {
	case errors.Is(err, store.ErrTerminal), errors.Is(err, store.ErrNotFound):
		log.WithError(err).Warn("job no longer active, skipping")
		return
	case err != nil:
		p.fail(ctx, t.JobID, err, log)
		return
	}

	job, err := p.store.UpdateResults(ctx, t.JobID, res, types.StatusCompleted)
	if err != nil {
		log.WithError(err).Error("failed to record results")
		if !errors.Is(err, store.ErrTerminal) && !errors.Is(err, store.ErrNotFound) {
			p.fail(ctx, t.JobID, fmt.Errorf("saving results: %w", err), log)
		}
		return
	}
	p.notify(job)
	log.WithField("duration_ms", time.Since(start).Milliseconds()).
		WithField("action_items", len(res.ActionItems)).
		WithField("key_decisions", len(res.KeyDecisions)).
		Info("processing completed")
}

// safeProcess turns a panic anywhere below into an error. Deferred cleanup in
// process has already run by the time the panic reaches here.
func (p *Pipeline) safeProcess(ctx context.Context, t queue.Task, log *logger.Logger) (res types.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("pipeline panicked")
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return p.process(ctx, t, log)
}

func (p *Pipeline) process(ctx context.Context, t queue.Task, log *logger.Logger) (types.Result, error) {
	source := media.NewArtifact(t.SourcePath, log)
	defer source.Release()

	// 1. re-assert processing
	job, err := p.store.UpdateStatus(ctx, t.JobID, types.StatusProcessing, "")
	if err != nil {
		return types.Result{}, err
	}
	p.notify(job)

	// 2. audio extraction for video containers
	var audio *media.Artifact
	defer func() { audio.Release() }()
	audioPath := t.SourcePath
	if media.IsVideo(t.SourcePath) {
		if audio, err = p.extract(ctx, t.SourcePath); err != nil {
			return types.Result{}, err
		}
		audioPath = audio.Path
	}

	// 3. transcription; neither file is needed afterwards
	transcript, err := p.transcribe(ctx, audioPath)
	audio.Release()
	source.Release()
	if err != nil {
		return types.Result{}, &stageError{stage: "transcription", err: err}
	}
	log.WithField("chars", len(transcript)).Debug("transcript ready")

	// 4. analysis
	analysis, err := p.analyze(ctx, transcript, t.Title)
	if err != nil {
		return types.Result{}, &stageError{stage: "analysis", err: err}
	}

	return types.Result{Transcript: transcript, Analysis: analysis}, nil
}

func (p *Pipeline) extract(ctx context.Context, path string) (*media.Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	audio, err := p.extractor.ExtractAudio(ctx, path)
	if errors.Is(err, media.ErrNoAudioTrack) {
		return nil, err
	}
	if err != nil {
		return nil, &stageError{stage: "audio extraction", err: err}
	}
	return audio, nil
}

func (p *Pipeline) transcribe(ctx context.Context, audioPath string) (string, error) {
	return p.transcriber.Transcribe(ctx, audioPath)
}

func (p *Pipeline) analyze(ctx context.Context, transcript, title string) (types.Analysis, error) {
	return p.analyzer.Analyze(ctx, transcript, title)
}

func (p *Pipeline) fail(ctx context.Context, id string, cause error, log *logger.Logger) {
	log.WithError(cause).Warn("processing failed")
	job, err := p.store.UpdateStatus(ctx, id, types.StatusFailed, cause.Error())
	if err != nil {
		log.WithError(err).Error("failed to record job failure")
		return
	}
	p.notify(job)
}

func (p *Pipeline) notify(job types.Job) {
	if p.notifier != nil {
		p.notifier.JobUpdated(job)
	}
}
