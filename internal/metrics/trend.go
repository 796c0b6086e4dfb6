package metrics

import "math"

const (
	TrendInsufficientData = "insufficient_data"
	TrendImproving        = "improving"
	TrendDeclining        = "declining"
	TrendStable           = "stable"

	trendWindow = 5
	// TrendSessions is how many recent sessions Trend looks at.
	TrendSessions = 2 * trendWindow
)

type TrendReport struct {
	Trend         string  `json:"trend"`
	Change        float64 `json:"change"`
	RecentAverage float64 `json:"recent_average"`
	OlderAverage  float64 `json:"older_average"`
}

// Trend compares the mean success rate of the last five sessions against the
// five before them. Summaries must be in chronological order.
func Trend(summaries []SessionSummary) TrendReport {
	if len(summaries) < 2 {
		return TrendReport{Trend: TrendInsufficientData}
	}

	recentStart := max(len(summaries)-trendWindow, 0)
	olderStart := max(recentStart-trendWindow, 0)
	recent := summaries[recentStart:]
	older := summaries[olderStart:recentStart]
	if len(older) == 0 {
		// Fewer than six sessions: split what there is in half.
		mid := len(summaries) / 2
		older, recent = summaries[:mid], summaries[mid:]
	}

	ra, oa := meanRate(recent), meanRate(older)
	out := TrendReport{
		Change:        math.Round(math.Abs(ra-oa)*10) / 10,
		RecentAverage: math.Round(ra*10) / 10,
		OlderAverage:  math.Round(oa*10) / 10,
	}
	switch {
	case ra > oa:
		out.Trend = TrendImproving
	case ra < oa:
		out.Trend = TrendDeclining
	default:
		out.Trend = TrendStable
	}
	return out
}

func meanRate(s []SessionSummary) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, x := range s {
		sum += float64(x.SuccessRatePercent)
	}
	return sum / float64(len(s))
}
