// Package report renders meetings into an xlsx workbook.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"meeting-insights-go/internal/aggregator"
	"meeting-insights-go/internal/types"
)

const (
	MeetingsSheet = "Meetings"
	SummarySheet  = "Summary"
)

var meetingHeader = []string{
	"Job ID", "Title", "Filename", "Status", "Created At", "Updated At",
	"Summary", "Action Items", "Key Decisions", "Error",
}

// Write renders jobs and their aggregate stats as a workbook onto w.
func Write(w io.Writer, jobs []types.Job, stats aggregator.Stats) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", MeetingsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("style: %w", err)
	}

	if err := writeRow(f, MeetingsSheet, 1, toCells(meetingHeader)); err != nil {
		return err
	}
	for i, j := range jobs {
		if err := writeRow(f, MeetingsSheet, i+2, meetingRow(j)); err != nil {
			return err
		}
	}
	if err := f.SetRowStyle(MeetingsSheet, 1, 1, bold); err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	if err := f.SetColWidth(MeetingsSheet, "G", "I", 60); err != nil {
		return fmt.Errorf("col width: %w", err)
	}

	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("new sheet: %w", err)
	}
	for i, row := range summaryRows(stats) {
		if err := writeRow(f, SummarySheet, i+1, row); err != nil {
			return err
		}
	}
	if err := f.SetRowStyle(SummarySheet, 1, 1, bold); err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("%s row %d: %w", sheet, row, err)
	}
	return nil
}

func meetingRow(j types.Job) []any {
	var summary, actions, decisions string
	if j.Result != nil {
		summary = j.Summary
		actions = strings.Join(j.ActionItems, "\n")
		decisions = strings.Join(j.KeyDecisions, "\n")
	}
	return []any{
		j.ID, j.Title, j.Filename, string(j.Status),
		j.CreatedAt.UTC().Format(time.RFC3339), j.UpdatedAt.UTC().Format(time.RFC3339),
		summary, actions, decisions, j.ErrorMessage,
	}
}

func summaryRows(st aggregator.Stats) [][]any {
	return [][]any{
		{"Metric", "Value"},
		{"Total meetings", st.Total},
		{"Pending", st.ByStatus[types.StatusPending]},
		{"Processing", st.ByStatus[types.StatusProcessing]},
		{"Completed", st.ByStatus[types.StatusCompleted]},
		{"Failed", st.ByStatus[types.StatusFailed]},
		{"Failure rate", st.FailureRate},
		{"Avg action items", st.AvgActionItems},
		{"Avg key decisions", st.AvgKeyDecisions},
	}
}

func toCells(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
