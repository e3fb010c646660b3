// Package processor is the intake and status façade: it accepts uploads,
// records jobs and hands them to the pipeline queue.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meeting-insights-go/internal/aggregator"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/media"
	"meeting-insights-go/internal/queue"
	"meeting-insights-go/internal/store"
	"meeting-insights-go/internal/types"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrJobActive    = errors.New("job is still processing")
)

// InterruptedMessage is recorded for jobs whose upload did not survive a restart.
const InterruptedMessage = "processing interrupted before completion"

// Scheduler accepts pipeline work without blocking.
type Scheduler interface {
	Enqueue(t queue.Task) error
}

type Notifier interface {
	JobUpdated(job types.Job)
}

type Config struct {
	UploadDir      string
	MaxUploadBytes int64
}

type Service struct {
	cfg      Config
	store    store.Store
	sched    Scheduler
	notifier Notifier
	now      func() time.Time
	log      *logger.Logger
}

func NewService(cfg Config, st store.Store, sched Scheduler, notifier Notifier, log *logger.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		sched:    sched,
		notifier: notifier,
		now:      time.Now,
		log:      log.Component("processor"),
	}
}

// SubmitRequest describes one upload. Size may be -1 when unknown.
type SubmitRequest struct {
	Body        io.Reader
	Filename    string
	ContentType string
	Size        int64
	Title       string
}

type SubmitResult struct {
	JobID   string          `json:"job_id"`
	Status  types.JobStatus `json:"status"`
	Message string          `json:"message"`
}

// Submit validates and stores the upload, records a processing job and
// schedules it. It returns without waiting for any processing.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if err := media.Validate(req.Filename, req.ContentType); err != nil {
		s.log.WithError(err).WithField("filename", req.Filename).Warn("upload rejected")
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if s.cfg.MaxUploadBytes > 0 && req.Size > s.cfg.MaxUploadBytes {
		return SubmitResult{}, s.tooLarge()
	}

	id := uuid.NewString()
	path, err := s.save(id, req)
	if err != nil {
		return SubmitResult{}, err
	}

	now := s.now().UTC()
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = DefaultTitle(s.now())
	}
	job := types.Job{
		ID:         id,
		Title:      title,
		Filename:   req.Filename,
		SourcePath: path,
		Status:     types.StatusProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		s.removeUpload(path)
		return SubmitResult{}, fmt.Errorf("recording job: %w", err)
	}

	// a worker may finish the job as soon as it is queued, so PROCESSING
	// has to be published first
	s.notify(job)

	task := queue.Task{JobID: id, SourcePath: path, Filename: req.Filename, Title: title}
	if err := s.sched.Enqueue(task); err != nil {
		job.Status = types.StatusFailed
		job.ErrorMessage = "scheduling failed: " + err.Error()
		job.UpdatedAt = s.now().UTC()
		s.notify(job)
		// no worker will ever own this job; undo it so the caller can retry
		if derr := s.store.Delete(ctx, id); derr != nil {
			s.log.WithError(derr).WithField("job_id", id).Error("failed to roll back unscheduled job")
		}
		s.removeUpload(path)
		return SubmitResult{}, fmt.Errorf("scheduling job: %w", err)
	}

	s.log.WithFields(logrus.Fields{"job_id": id, "filename": req.Filename, "title": title}).Info("job submitted")
	return SubmitResult{
		JobID:   id,
		Status:  types.StatusProcessing,
		Message: "Meeting uploaded successfully. Processing started.",
	}, nil
}

func (s *Service) save(id string, req SubmitRequest) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("creating upload dir: %w", err)
	}
	path := filepath.Join(s.cfg.UploadDir, id+media.Ext(req.Filename))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating upload file: %w", err)
	}

	src := req.Body
	if s.cfg.MaxUploadBytes > 0 {
		src = io.LimitReader(req.Body, s.cfg.MaxUploadBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.removeUpload(path)
		return "", fmt.Errorf("saving upload: %w", err)
	}
	if s.cfg.MaxUploadBytes > 0 && n > s.cfg.MaxUploadBytes {
		s.removeUpload(path)
		return "", s.tooLarge()
	}
	if n == 0 {
		s.removeUpload(path)
		return "", fmt.Errorf("%w: empty upload", ErrInvalidInput)
	}
	return path, nil
}

func (s *Service) tooLarge() error {
	return fmt.Errorf("%w: file exceeds %d MB", ErrInvalidInput, s.cfg.MaxUploadBytes>>20)
}

func (s *Service) removeUpload(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.WithError(err).WithField("path", path).Warn("failed to remove upload")
	}
}

// DefaultTitle names untitled meetings after their upload time.
func DefaultTitle(t time.Time) string {
	return "Meeting " + t.Format("2006-01-02 15:04")
}

// Status returns the job as stored. It never waits on processing.
func (s *Service) Status(ctx context.Context, id string) (types.Job, error) {
	return s.store.Get(ctx, id)
}

// List returns one page of jobs, newest first, and the total job count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]types.Job, int, error) {
	jobs, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// Delete removes a finished job. Jobs still being processed are refused.
func (s *Service) Delete(ctx context.Context, id string) error {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return ErrJobActive
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.WithField("job_id", id).Info("job deleted")
	return nil
}

// RecoveryReport counts what Recover did.
type RecoveryReport struct {
	Requeued int
	Failed   int
}

// Recover resumes jobs left active by a previous process. Jobs whose upload
// still exists are queued again; the rest are marked failed.
func (s *Service) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport
	for _, status := range []types.JobStatus{types.StatusPending, types.StatusProcessing} {
		jobs, err := s.store.ListByStatus(ctx, status)
		if err != nil {
			return rep, err
		}
		for _, job := range jobs {
			log := s.log.With("job_id", job.ID)
			if uploadExists(job.SourcePath) {
				task := queue.Task{JobID: job.ID, SourcePath: job.SourcePath, Filename: job.Filename, Title: job.Title}
				err := s.sched.Enqueue(task)
				if err == nil {
					rep.Requeued++
					log.Info("job requeued after restart")
					continue
				}
				log.WithError(err).Warn("could not requeue job")
			}
			updated, err := s.store.UpdateStatus(ctx, job.ID, types.StatusFailed, InterruptedMessage)
			if err != nil {
				log.WithError(err).Error("failed to mark interrupted job")
				continue
			}
			s.removeUpload(job.SourcePath)
			s.notify(updated)
			rep.Failed++
		}
	}
	if rep.Requeued+rep.Failed > 0 {
		s.log.WithField("requeued", rep.Requeued).WithField("failed", rep.Failed).Info("recovered unfinished jobs")
	}
	return rep, nil
}

func uploadExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Snapshot returns up to limit of the newest jobs.
func (s *Service) Snapshot(ctx context.Context, limit int) ([]types.Job, error) {
	var out []types.Job
	for offset := 0; limit <= 0 || len(out) < limit; {
		page, err := s.store.List(ctx, store.MaxPageSize, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < store.MaxPageSize {
			break
		}
		offset += len(page)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats aggregates every stored job.
func (s *Service) Stats(ctx context.Context) (aggregator.Stats, error) {
	jobs, err := s.Snapshot(ctx, 0)
	if err != nil {
		return aggregator.Stats{}, err
	}
	return aggregator.Aggregate(jobs), nil
}

func (s *Service) notify(job types.Job) {
	if s.notifier != nil {
		s.notifier.JobUpdated(job)
	}
}
