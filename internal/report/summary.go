package report

import (
	"fmt"
	"io"
	"time"

	"apiprobe/internal/runner"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Document is the run report written to report.json.
type Document struct {
	RunID      string              `json:"run_id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Passed     int                 `json:"passed"`
	Failed     int                 `json:"failed"`
	Skipped    int                 `json:"skipped"`
	Results    []runner.CaseResult `json:"results"`
}

// NewDocument builds the report document for a finished run.
func NewDocument(runID string, result *runner.RunResult) Document {
	passed, failed, skipped := result.Counts()
	finished := time.Now()
	return Document{
		RunID:      runID,
		StartedAt:  finished.Add(-result.Duration),
		FinishedAt: finished,
		Passed:     passed,
		Failed:     failed,
		Skipped:    skipped,
		Results:    result.Results,
	}
}

// PrintSummary renders the run results as a table followed by totals.
func PrintSummary(w io.Writer, result *runner.RunResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Suite", "Case", "Variant", "Status", "HTTP", "Duration", "Error"})

	for _, res := range result.Results {
		status := string(res.Status)
		switch res.Status {
		case runner.StatusPassed:
			status = text.FgGreen.Sprint(status)
		case runner.StatusFailed:
			status = text.FgRed.Sprint(status)
		case runner.StatusSkipped:
			status = text.FgYellow.Sprint(status)
		}

		httpStatus := ""
		if res.ActualStatus != 0 {
			httpStatus = fmt.Sprintf("%d", res.ActualStatus)
		}

		t.AppendRow(table.Row{
			res.Suite,
			res.Case,
			res.Variant,
			status,
			httpStatus,
			res.Duration.Round(time.Millisecond),
			truncate(res.Err, 60),
		})
	}

	passed, failed, skipped := result.Counts()
	t.AppendFooter(table.Row{
		"", "", "",
		fmt.Sprintf("%d passed, %d failed, %d skipped", passed, failed, skipped),
		"", result.Duration.Round(time.Millisecond), "",
	})
	t.Render()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
