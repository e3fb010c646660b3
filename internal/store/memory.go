package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"meeting-insights-go/internal/types"
)

type memEntry struct {
	job types.Job
	seq uint64
}

// Memory keeps jobs in a map guarded by a single mutex. Reads return deep
// copies.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*memEntry
	seq  uint64
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*memEntry), now: time.Now}
}

func (m *Memory) Create(_ context.Context, job types.Job) error {
	if err := validateNew(job); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return ErrExists
	}
	m.seq++
	m.jobs[job.ID] = &memEntry{job: job.Clone(), seq: m.seq}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok {
		return types.Job{}, ErrNotFound
	}
	return e.job.Clone(), nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, status types.JobStatus, errMsg string) (types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok {
		return types.Job{}, ErrNotFound
	}
	next := e.job.Clone()
	if err := applyStatus(&next, status, errMsg, m.now()); err != nil {
		return types.Job{}, err
	}
	e.job = next
	return next.Clone(), nil
}

func (m *Memory) UpdateResults(_ context.Context, id string, result types.Result, status types.JobStatus) (types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.jobs[id]
	if !ok {
		return types.Job{}, ErrNotFound
	}
	next := e.job.Clone()
	if err := applyResults(&next, result, status, m.now()); err != nil {
		return types.Job{}, err
	}
	e.job = next.Clone()
	return next, nil
}

func (m *Memory) List(_ context.Context, limit, offset int) ([]types.Job, error) {
	limit, offset = NormalizePage(limit, offset)

	m.mu.Lock()
	entries := m.sorted(func(types.Job) bool { return true })
	m.mu.Unlock()

	// newest first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if offset >= len(entries) {
		return []types.Job{}, nil
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end], nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs), nil
}

func (m *Memory) ListByStatus(_ context.Context, status types.JobStatus) ([]types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(j types.Job) bool { return j.Status == status }), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) Close() error { return nil }

// sorted returns matching jobs oldest first. Caller holds mu.
func (m *Memory) sorted(keep func(types.Job) bool) []types.Job {
	entries := make([]*memEntry, 0, len(m.jobs))
	for _, e := range m.jobs {
		if keep(e.job) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(a, b int) bool {
		if !entries[a].job.CreatedAt.Equal(entries[b].job.CreatedAt) {
			return entries[a].job.CreatedAt.Before(entries[b].job.CreatedAt)
		}
		return entries[a].seq < entries[b].seq
	})
	out := make([]types.Job, len(entries))
	for i, e := range entries {
		out[i] = e.job.Clone()
	}
	return out
}
