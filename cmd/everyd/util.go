package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/everyd/pkg/client"
	"github.com/olekukonko/tablewriter"
)

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func renderStatusTable(st *client.Status) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Field", "Value")

	table.Append("Running", strconv.FormatBool(st.Running))
	table.Append("Ready", strconv.FormatBool(st.Ready))
	table.Append("Failures", fmt.Sprintf("%d / %d", st.ConsecutiveFailures, st.FailureThreshold))
	table.Append("Total runs", strconv.FormatUint(st.TotalRuns, 10))
	table.Append("Total skips", strconv.FormatUint(st.TotalSkips, 10))
	table.Append("Outcomes", formatOutcomeTotals(st.OutcomeTotals))
	table.Append("Last outcome", orDash(st.LastOutcome))
	table.Append("Last finished", formatTime(st.LastFinishedAt))
	table.Append("Next run", formatTime(st.NextRunAt))
	table.Append("Started", formatTime(st.StartedAt))

	table.Render()
}

func renderRunsTable(recs []client.RunRecord) {
	if len(recs) == 0 {
		fmt.Println("No runs recorded yet")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Seq", "Outcome", "Exit", "Started", "Duration", "PID")

	for _, r := range recs {
		table.Append([]string{
			strconv.Itoa(r.Seq),
			r.Outcome,
			formatExitCode(r.ExitCode),
			formatTime(r.StartedAt),
			r.Duration.Round(time.Millisecond).String(),
			formatPID(r.PID),
		})
	}

	table.Render()
	fmt.Printf("\nTotal: %d run(s)\n", len(recs))
}

// formatOutcomeTotals renders the per-outcome counters in a stable order.
func formatOutcomeTotals(totals map[string]uint64) string {
	if len(totals) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, totals[k]))
	}
	return strings.Join(parts, " ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func formatExitCode(code *int) string {
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}

func formatPID(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
