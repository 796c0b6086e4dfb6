package display

import (
	"fmt"
	"math"
	"strings"

	"metateam/internal/orchestrator"
)

const maxOutputLength = 100

// FormatReport lists every phase of a finished session with its outcome and a
// one-line preview of its output.
func FormatReport(r *orchestrator.Report) string {
	if r == nil {
		return "No report available."
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Session '%s' (ID: %s):\n", r.Name, r.SessionID))
	sb.WriteString("--------------------------------------------------\n")
	if r.Results.Len() == 0 {
		sb.WriteString("  (no phases)\n")
	}
	for i, res := range r.Results.All() {
		status := "ok"
		if res.Degraded {
			status = "fallback: " + res.Reason
		}
		sb.WriteString(fmt.Sprintf("  %2d. %-20s %6s  [%s]\n", i+1, res.Name, FormatDuration(res.Record.DurationMs), status))
		sb.WriteString(fmt.Sprintf("      %s\n", formatValueForDisplay(res.Output, maxOutputLength)))
	}
	if r.HaltedAt != "" {
		sb.WriteString(fmt.Sprintf("Halted after degraded phase '%s'.\n", r.HaltedAt))
	}
	sb.WriteString("--------------------------------------------------\n")
	sb.WriteString(FormatSessionSummary(r.Summary))
	return sb.String()
}

// Keep output on one line; limit < 0 means no limit.
func formatValueForDisplay(value any, limit int) string {
	s := fmt.Sprintf("%v", value)
	s = strings.ReplaceAll(s, "\n", "\\n")
	if r := []rune(s); limit >= 0 && len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}

// FormatDuration renders milliseconds as "850ms", "1.2s" or "3m 4s".
func FormatDuration(ms int64) string {
	switch {
	case ms < 1000:
		return fmt.Sprintf("%dms", max(ms, 0))
	case ms < 60000:
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	total := int64(math.Round(float64(ms) / 1000))
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}
