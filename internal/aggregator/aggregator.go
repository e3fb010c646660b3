// Package aggregator computes dashboard figures over stored meetings.
package aggregator

import "meeting-insights-go/internal/types"

type Stats struct {
	Total             int                     `json:"total"`
	ByStatus          map[types.JobStatus]int `json:"by_status"`
	FailureRate       float64                 `json:"failure_rate"`
	AvgActionItems    float64                 `json:"avg_action_items"`
	AvgKeyDecisions   float64                 `json:"avg_key_decisions"`
	TotalActionItems  int                     `json:"total_action_items"`
	TotalKeyDecisions int                     `json:"total_key_decisions"`
}

// Aggregate summarises jobs. Failure rate and averages only consider jobs
// that reached a terminal status.
func Aggregate(jobs []types.Job) Stats {
	st := Stats{
		Total: len(jobs),
		ByStatus: map[types.JobStatus]int{
			types.StatusPending:    0,
			types.StatusProcessing: 0,
			types.StatusCompleted:  0,
			types.StatusFailed:     0,
		},
	}
	for _, j := range jobs {
		st.ByStatus[j.Status]++
		if j.Status == types.StatusCompleted && j.Result != nil {
			st.TotalActionItems += len(j.ActionItems)
			st.TotalKeyDecisions += len(j.KeyDecisions)
		}
	}

	completed := st.ByStatus[types.StatusCompleted]
	finished := completed + st.ByStatus[types.StatusFailed]
	if finished > 0 {
		st.FailureRate = float64(st.ByStatus[types.StatusFailed]) / float64(finished)
	}
	if completed > 0 {
		st.AvgActionItems = float64(st.TotalActionItems) / float64(completed)
		st.AvgKeyDecisions = float64(st.TotalKeyDecisions) / float64(completed)
	}
	return st
}
