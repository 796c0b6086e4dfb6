package display

import (
	"fmt"
	"strings"

	"metateam/internal/metrics"
)

func FormatSessionSummary(s metrics.SessionSummary) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Session summary: %s\n", s.Name))
	sb.WriteString(fmt.Sprintf("- Calls:     %d (success=%d, fallback=%d, fatal=%d, skipped=%d)\n",
		s.TotalCalls, s.SuccessCount, s.FallbackCount, s.FatalCount, s.SkippedCount))
	sb.WriteString(fmt.Sprintf("- Success:   %d%%\n", s.SuccessRatePercent))
	sb.WriteString(fmt.Sprintf("- Call time: %s\n", FormatDuration(s.TotalDurationMs)))
	if !s.StartedAt.IsZero() && !s.EndedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("- Wall time: %s\n", FormatDuration(s.EndedAt.Sub(s.StartedAt).Milliseconds())))
	}
	if s.InputTokens > 0 || s.OutputTokens > 0 {
		sb.WriteString(fmt.Sprintf("- Tokens:    %d in / %d out\n", s.InputTokens, s.OutputTokens))
	}
	return sb.String()
}

// FormatGlobalStats is a pure projection of the accumulated statistics.
func FormatGlobalStats(g metrics.GlobalStats) string {
	if g.Sessions == 0 {
		return "No sessions recorded yet.\n"
	}
	var sb strings.Builder
	sb.WriteString("Global usage statistics:\n")
	sb.WriteString(fmt.Sprintf("- Sessions:  %d\n", g.Sessions))
	sb.WriteString(fmt.Sprintf("- Calls:     %d (success=%d, fallback=%d, fatal=%d)\n",
		g.TotalCalls, g.SuccessCount, g.FallbackCount, g.FatalCount))
	sb.WriteString(fmt.Sprintf("- Success:   %d%%\n", g.SuccessRatePercent()))
	sb.WriteString(fmt.Sprintf("- Call time: %s\n", FormatDuration(g.TotalDurationMs)))
	if g.InputTokens > 0 || g.OutputTokens > 0 {
		sb.WriteString(fmt.Sprintf("- Tokens:    %d in / %d out\n", g.InputTokens, g.OutputTokens))
	}
	return sb.String()
}

func FormatTrend(t metrics.TrendReport) string {
	switch t.Trend {
	case metrics.TrendInsufficientData, "":
		return "Trend: not enough sessions yet.\n"
	case metrics.TrendStable:
		return fmt.Sprintf("Trend: stable at %.1f%% success.\n", t.RecentAverage)
	}
	return fmt.Sprintf("Trend: %s by %.1f points (%.1f%% -> %.1f%%).\n",
		t.Trend, t.Change, t.OlderAverage, t.RecentAverage)
}

// FormatRecentSessions lists sessions newest first.
func FormatRecentSessions(sessions []metrics.SessionSummary) string {
	var sb strings.Builder
	sb.WriteString("Recent sessions:\n")
	for i := len(sessions) - 1; i >= 0; i-- {
		s := sessions[i]
		sb.WriteString(fmt.Sprintf("  %s  %-24s calls=%-3d success=%3d%%  %s\n",
			s.EndedAt.Local().Format("2006-01-02 15:04"), s.Name, s.TotalCalls, s.SuccessRatePercent,
			FormatDuration(s.TotalDurationMs)))
	}
	return sb.String()
}
