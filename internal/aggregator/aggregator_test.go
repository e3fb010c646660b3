package aggregator

import (
	"testing"

	"meeting-insights-go/internal/types"
)

func completed(actions, decisions int) types.Job {
	r := &types.Result{}
	for i := 0; i < actions; i++ {
		r.ActionItems = append(r.ActionItems, "a")
	}
	for i := 0; i < decisions; i++ {
		r.KeyDecisions = append(r.KeyDecisions, "d")
	}
	return types.Job{Status: types.StatusCompleted, Result: r}
}

func TestAggregate(t *testing.T) {
	jobs := []types.Job{
		completed(3, 1),
		completed(1, 0),
		{Status: types.StatusFailed, ErrorMessage: "x"},
		{Status: types.StatusProcessing},
	}
	st := Aggregate(jobs)

	if st.Total != 4 {
		t.Fatalf("Total = %d, want 4", st.Total)
	}
	if st.ByStatus[types.StatusCompleted] != 2 || st.ByStatus[types.StatusFailed] != 1 || st.ByStatus[types.StatusProcessing] != 1 {
		t.Fatalf("ByStatus = %v", st.ByStatus)
	}
	if got, want := st.FailureRate, 1.0/3.0; got != want {
		t.Fatalf("FailureRate = %v, want %v", got, want)
	}
	if st.AvgActionItems != 2 || st.AvgKeyDecisions != 0.5 {
		t.Fatalf("averages = %v / %v, want 2 / 0.5", st.AvgActionItems, st.AvgKeyDecisions)
	}
	if st.TotalActionItems != 4 || st.TotalKeyDecisions != 1 {
		t.Fatalf("totals = %d / %d", st.TotalActionItems, st.TotalKeyDecisions)
	}
}

func TestAggregateEmpty(t *testing.T) {
	st := Aggregate(nil)
	if st.Total != 0 || st.FailureRate != 0 || st.AvgActionItems != 0 {
		t.Fatalf("st = %+v", st)
	}
	if _, ok := st.ByStatus[types.StatusPending]; !ok {
		t.Fatal("every status should be present in ByStatus")
	}
}
