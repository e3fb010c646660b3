package types

import "time"

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Analysis is the structured output of an analysis provider.
type Analysis struct {
	Summary      string   `json:"summary"`
	ActionItems  []string `json:"action_items"`
	KeyDecisions []string `json:"key_decisions"`
}

// Result groups everything written on the processing -> completed edge.
type Result struct {
	Transcript string `json:"transcript"`
	Analysis
}

// Job is one submitted recording and its processing state. Result is nil
// until the job completes, so the result fields are either all present or
// all absent in the JSON form.
type Job struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Filename     string    `json:"filename"`
	SourcePath   string    `json:"-"`
	Status       JobStatus `json:"status"`
	*Result
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never share slices with a store.
func (j Job) Clone() Job {
	if j.Result != nil {
		r := *j.Result
		r.ActionItems = cloneList(r.ActionItems)
		r.KeyDecisions = cloneList(r.KeyDecisions)
		j.Result = &r
	}
	return j
}

// cloneList keeps an empty list empty rather than nil, so it still encodes as [].
func cloneList(src []string) []string {
	if src == nil {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
