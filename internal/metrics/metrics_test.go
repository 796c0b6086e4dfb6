package metrics

import (
	"strings"
	"testing"
)

func TestSuccessRate(t *testing.T) {
	testCases := []struct {
		name     string
		success  int
		total    int
		expected int
	}{
		{name: "No calls reports zero", success: 0, total: 0, expected: 0},
		{name: "All successful", success: 4, total: 4, expected: 100},
		{name: "None successful", success: 0, total: 3, expected: 0},
		{name: "Two of three rounds up", success: 2, total: 3, expected: 67},
		{name: "One of three rounds down", success: 1, total: 3, expected: 33},
		{name: "Half", success: 1, total: 2, expected: 50},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := SuccessRate(tc.success, tc.total)
			if got != tc.expected {
				t.Errorf("SuccessRate(%d, %d) = %d, want %d", tc.success, tc.total, got, tc.expected)
			}
			if got < 0 || got > 100 {
				t.Errorf("rate %d out of range", got)
			}
		})
	}
}

func TestCallRecordValidate(t *testing.T) {
	testCases := []struct {
		name        string
		record      CallRecord
		expectError error
	}{
		{
			name:   "Successful call without reason",
			record: CallRecord{Outcome: OutcomeSuccess, DurationMs: 12},
		},
		{
			name:        "Fallback without reason",
			record:      CallRecord{Outcome: OutcomeFailureFallback},
			expectError: ErrMissingReason,
		},
		{
			name:   "Fallback with reason",
			record: CallRecord{Outcome: OutcomeFailureFallback, FallbackReason: "rate limited"},
		},
		{
			name:        "Success carrying a reason",
			record:      CallRecord{Outcome: OutcomeSuccess, FallbackReason: "oops"},
			expectError: ErrUnexpectedReason,
		},
		{
			name:        "Negative duration",
			record:      CallRecord{Outcome: OutcomeSuccess, DurationMs: -1},
			expectError: ErrNegativeDuration,
		},
		{
			name:        "Unknown outcome",
			record:      CallRecord{Outcome: "maybe"},
			expectError: ErrUnknownOutcome,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.record.Validate()
			if err != tc.expectError {
				t.Errorf("Validate() = %v, want %v", err, tc.expectError)
			}
		})
	}
}

func TestSummarizePrompt(t *testing.T) {
	short := "Plan sprint 3"
	if got := SummarizePrompt(short); got != short {
		t.Errorf("short prompt changed: %q", got)
	}

	long := strings.Repeat("é", 250)
	got := SummarizePrompt(long)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected truncated prompt to end with '...', got %q", got)
	}
	if strings.Count(got, "é") != 100 {
		t.Errorf("expected 100 runes kept, got %d", strings.Count(got, "é"))
	}

	if got := SummarizePrompt("a\n\n  b\tc"); got != "a b c" {
		t.Errorf("whitespace not collapsed: %q", got)
	}
}

func TestSummarize(t *testing.T) {
	calls := []CallRecord{
		{Outcome: OutcomeSuccess, Attempted: true, DurationMs: 10, InputTokens: 5, OutputTokens: 7},
		{Outcome: OutcomeFailureFallback, Attempted: true, FallbackReason: "rate limited", DurationMs: 3},
		{Outcome: OutcomeSuccess, Attempted: true, DurationMs: 20},
		{Outcome: OutcomeFailureFallback, Attempted: false, FallbackReason: "missing key"},
	}

	s := Summarize(calls)
	if s.TotalCalls != 4 || s.SuccessCount != 2 || s.FallbackCount != 2 || s.SkippedCount != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.SuccessRatePercent != 50 {
		t.Errorf("expected 50%%, got %d", s.SuccessRatePercent)
	}
	if s.TotalDurationMs != 33 {
		t.Errorf("expected 33ms, got %d", s.TotalDurationMs)
	}
	if s.InputTokens != 5 || s.OutputTokens != 7 {
		t.Errorf("unexpected tokens: %d/%d", s.InputTokens, s.OutputTokens)
	}

	empty := Summarize(nil)
	if empty.TotalCalls != 0 || empty.SuccessRatePercent != 0 {
		t.Errorf("unexpected empty summary: %+v", empty)
	}
}

func TestGlobalStatsAdd(t *testing.T) {
	var g GlobalStats
	g.Add(SessionSummary{TotalCalls: 3, SuccessCount: 2, FallbackCount: 1, TotalDurationMs: 30})
	g.Add(SessionSummary{TotalCalls: 1, SuccessCount: 1, TotalDurationMs: 5})

	if g.Sessions != 2 || g.TotalCalls != 4 || g.SuccessCount != 3 || g.FallbackCount != 1 {
		t.Fatalf("unexpected stats: %+v", g)
	}
	if g.TotalDurationMs != 35 {
		t.Errorf("expected 35ms, got %d", g.TotalDurationMs)
	}
	if g.SuccessRatePercent() != 75 {
		t.Errorf("expected 75%%, got %d", g.SuccessRatePercent())
	}

	var other GlobalStats
	other.Merge(g)
	other.Merge(g)
	if other.Sessions != 4 || other.TotalCalls != 8 {
		t.Errorf("unexpected merge: %+v", other)
	}
}

func TestTrend(t *testing.T) {
	rates := func(rs ...int) []SessionSummary {
		out := make([]SessionSummary, len(rs))
		for i, r := range rs {
			out[i] = SessionSummary{SuccessRatePercent: r}
		}
		return out
	}

	testCases := []struct {
		name      string
		summaries []SessionSummary
		expected  string
	}{
		{name: "Single session", summaries: rates(80), expected: TrendInsufficientData},
		{name: "Two sessions improving", summaries: rates(20, 80), expected: TrendImproving},
		{name: "Declining window", summaries: rates(100, 100, 100, 100, 100, 50, 50, 50, 50, 50), expected: TrendDeclining},
		{name: "Stable", summaries: rates(60, 60, 60, 60), expected: TrendStable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Trend(tc.summaries)
			if got.Trend != tc.expected {
				t.Errorf("Trend() = %q, want %q (%+v)", got.Trend, tc.expected, got)
			}
		})
	}

	r := Trend(rates(100, 100, 100, 100, 100, 50, 50, 50, 50, 50))
	if r.Change != 50 || r.RecentAverage != 50 || r.OlderAverage != 100 {
		t.Errorf("unexpected trend figures: %+v", r)
	}
}
