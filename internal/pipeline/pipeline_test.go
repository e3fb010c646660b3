package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"meeting-insights-go/internal/extractor"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/media"
	"meeting-insights-go/internal/queue"
	"meeting-insights-go/internal/store"
	"meeting-insights-go/internal/types"
)

type fakeTranscriber struct {
	text  string
	err   error
	panic bool
	paths []string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	if f.panic {
		panic("model crashed")
	}
	return f.text, f.err
}

type fakeAnalyzer struct {
	out   types.Analysis
	err   error
	calls int
	title string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, _, title string) (types.Analysis, error) {
	f.calls++
	f.title = title
	return f.out, f.err
}

type fakeExtractor struct {
	dir   string
	err   error
	audio string
}

func (f *fakeExtractor) ExtractAudio(_ context.Context, _ string) (*media.Artifact, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.audio = filepath.Join(f.dir, "extracted.wav")
	if err := os.WriteFile(f.audio, []byte("wav"), 0o644); err != nil {
		return nil, err
	}
	return media.NewArtifact(f.audio, nil), nil
}

// recorder captures notifications and checks the upload is already gone
// whenever a terminal state is announced.
type recorder struct {
	mu       sync.Mutex
	statuses []types.JobStatus
	t        *testing.T
	source   string
}

func (r *recorder) JobUpdated(job types.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, job.Status)
	if job.Status.Terminal() {
		if _, err := os.Stat(r.source); !os.IsNotExist(err) {
			r.t.Errorf("upload still present when %s was written", job.Status)
		}
	}
}

type harness struct {
	store    *store.Memory
	tr       *fakeTranscriber
	an       *fakeAnalyzer
	ex       *fakeExtractor
	rec      *recorder
	pipeline *Pipeline
	task     queue.Task
}

func newHarness(t *testing.T, filename string) *harness {
	t.Helper()
	dir := t.TempDir()
	source := filepath.Join(dir, "job-1"+filepath.Ext(filename))
	if err := os.WriteFile(source, []byte("media"), 0o644); err != nil {
		t.Fatal(err)
	}

	st := store.NewMemory()
	now := time.Now()
	if err := st.Create(context.Background(), types.Job{
		ID: "job-1", Title: "Sprint review", Filename: filename, SourcePath: source,
		Status: types.StatusProcessing, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	l, _ := test.NewNullLogger()
	h := &harness{
		store: st,
		tr:    &fakeTranscriber{text: "we will ship friday"},
		an:    &fakeAnalyzer{out: types.Analysis{Summary: "S", ActionItems: []string{"A"}, KeyDecisions: []string{"D"}}},
		ex:    &fakeExtractor{dir: dir},
		rec:   &recorder{t: t, source: source},
		task:  queue.Task{JobID: "job-1", SourcePath: source, Filename: filename, Title: "Sprint review"},
	}
	h.pipeline = New(Deps{
		Store:          st,
		Transcriber:    h.tr,
		Analyzer:       h.an,
		Extractor:      h.ex,
		Notifier:       h.rec,
		ExtractTimeout: time.Second,
		Log:            logger.Wrap(l),
	})
	return h
}

func (h *harness) run(t *testing.T) types.Job {
	t.Helper()
	h.pipeline.Run(context.Background(), h.task)
	job, err := h.store.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(h.task.SourcePath); !os.IsNotExist(err) {
		t.Fatalf("upload was not deleted: %v", err)
	}
	return job
}

func TestRunCompletes(t *testing.T) {
	h := newHarness(t, "standup.mp3")
	job := h.run(t)

	if job.Status != types.StatusCompleted || job.Result == nil {
		t.Fatalf("job = %+v", job)
	}
	if job.Transcript != "we will ship friday" || job.Summary != "S" || job.ActionItems[0] != "A" || job.KeyDecisions[0] != "D" {
		t.Fatalf("result = %+v", *job.Result)
	}
	if h.an.title != "Sprint review" {
		t.Fatalf("analyzer title = %q", h.an.title)
	}
	if len(h.rec.statuses) != 2 || h.rec.statuses[0] != types.StatusProcessing || h.rec.statuses[1] != types.StatusCompleted {
		t.Fatalf("notifications = %v", h.rec.statuses)
	}
}

func TestRunUnparsableAnalysisStillCompletes(t *testing.T) {
	h := newHarness(t, "standup.wav")
	h.pipeline.analyzer = extractor.NewSelector(nil, &replyAnalyzer{reply: "not json at all"}, time.Second, h.pipeline.log)

	job := h.run(t)
	if job.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.Summary != extractor.FallbackSummary || len(job.ActionItems) != 0 || len(job.KeyDecisions) != 0 {
		t.Fatalf("result = %+v", *job.Result)
	}
}

type replyAnalyzer struct{ reply string }

func (r *replyAnalyzer) Analyze(context.Context, string, string) (types.Analysis, error) {
	l, _ := test.NewNullLogger()
	return extractor.ParseAnalysis(r.reply, logger.Wrap(l)), nil
}

func TestRunTranscriptionFailure(t *testing.T) {
	h := newHarness(t, "standup.m4a")
	h.tr.err = &types.ProviderError{Provider: "whisper", Code: 502, Body: "bad gateway"}

	job := h.run(t)
	if job.Status != types.StatusFailed || job.Result != nil {
		t.Fatalf("job = %+v", job)
	}
	if !strings.Contains(job.ErrorMessage, "transcription failed") || !strings.Contains(job.ErrorMessage, "502") {
		t.Fatalf("error message = %q", job.ErrorMessage)
	}
	if h.an.calls != 0 {
		t.Fatal("analysis must be skipped after transcription failure")
	}
}

func TestRunAnalysisFailure(t *testing.T) {
	h := newHarness(t, "standup.ogg")
	h.an.err = errors.New("ollama error: 500 - out of memory")

	job := h.run(t)
	if job.Status != types.StatusFailed || !strings.HasPrefix(job.ErrorMessage, "analysis failed") {
		t.Fatalf("job = %+v", job)
	}
}

func TestRunVideoWithoutAudio(t *testing.T) {
	h := newHarness(t, "demo.mp4")
	h.ex.err = media.ErrNoAudioTrack

	job := h.run(t)
	if job.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "no audio track") {
		t.Fatalf("error message = %q", job.ErrorMessage)
	}
	if len(h.tr.paths) != 0 {
		t.Fatal("transcription must not run without audio")
	}
}

func TestRunVideoUsesExtractedAudioAndCleansIt(t *testing.T) {
	h := newHarness(t, "demo.mkv")
	h.an.err = errors.New("boom")

	h.run(t)
	if len(h.tr.paths) != 1 || h.tr.paths[0] != h.ex.audio {
		t.Fatalf("transcribed %v, want extracted audio %s", h.tr.paths, h.ex.audio)
	}
	if _, err := os.Stat(h.ex.audio); !os.IsNotExist(err) {
		t.Fatal("extracted audio was not removed")
	}
}

func TestRunPanicMarksFailed(t *testing.T) {
	h := newHarness(t, "standup.flac")
	h.tr.panic = true

	job := h.run(t)
	if job.Status != types.StatusFailed || !strings.Contains(job.ErrorMessage, "model crashed") {
		t.Fatalf("job = %+v", job)
	}
}

func TestRunProviderTimeout(t *testing.T) {
	h := newHarness(t, "standup.aac")
	h.tr.err = &types.ProviderError{Provider: "whisper", Err: context.DeadlineExceeded}

	job := h.run(t)
	if job.Status != types.StatusFailed || !strings.Contains(job.ErrorMessage, "deadline exceeded") {
		t.Fatalf("job = %+v", job)
	}
}

func TestRunOnTerminalJobIsNoop(t *testing.T) {
	h := newHarness(t, "standup.mp3")
	if _, err := h.store.UpdateStatus(context.Background(), "job-1", types.StatusFailed, "earlier"); err != nil {
		t.Fatal(err)
	}

	job := h.run(t)
	if job.ErrorMessage != "earlier" || len(h.tr.paths) != 0 {
		t.Fatalf("terminal job was reprocessed: %+v", job)
	}
}
