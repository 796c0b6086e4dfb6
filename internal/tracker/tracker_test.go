package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metateam/internal/metrics"
)

func success(ms int64) metrics.CallRecord {
	return metrics.CallRecord{Outcome: metrics.OutcomeSuccess, Attempted: true, DurationMs: ms}
}

func fallback(reason string) metrics.CallRecord {
	return metrics.CallRecord{Outcome: metrics.OutcomeFailureFallback, Attempted: true, FallbackReason: reason}
}

func TestStartSessionTwiceFails(t *testing.T) {
	for _, recorded := range []int{0, 1, 5} {
		tr := New()
		_, err := tr.StartSession("first", "")
		require.NoError(t, err)
		for i := 0; i < recorded; i++ {
			require.NoError(t, tr.RecordCall(success(1)))
		}

		_, err = tr.StartSession("second", "")
		assert.ErrorIs(t, err, ErrSessionActive, "after %d calls", recorded)
		assert.True(t, tr.Active())
	}
}

func TestStartSessionRequiresName(t *testing.T) {
	tr := New()
	_, err := tr.StartSession("   ", "desc")
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.False(t, tr.Active())
}

func TestNoActiveSessionFailsLoud(t *testing.T) {
	tr := New()

	err := tr.RecordCall(success(1))
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, err = tr.RecordFallbackCall("missing key", "sprint planning")
	assert.ErrorIs(t, err, ErrNoActiveSession)

	summary, err := tr.EndSession()
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.Equal(t, metrics.SessionSummary{}, summary)

	assert.ErrorIs(t, tr.RecordPhase("a", "x"), ErrNoActiveSession)
	_, err = tr.Calls()
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestEndSessionTwiceFails(t *testing.T) {
	tr := New()
	_, err := tr.StartSession("demo", "")
	require.NoError(t, err)
	_, err = tr.EndSession()
	require.NoError(t, err)

	_, err = tr.EndSession()
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestRecordCallRejectsInvalidRecord(t *testing.T) {
	tr := New()
	_, err := tr.StartSession("demo", "")
	require.NoError(t, err)

	err = tr.RecordCall(metrics.CallRecord{Outcome: metrics.OutcomeFailureFallback})
	assert.ErrorIs(t, err, metrics.ErrMissingReason)

	calls, err := tr.Calls()
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestSessionScenario(t *testing.T) {
	tr := New()
	h, err := tr.StartSession("demo", "three calls, one rate limited")
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)

	require.NoError(t, tr.RecordCall(success(10)))
	require.NoError(t, tr.RecordCall(fallback("rate limited")))
	require.NoError(t, tr.RecordCall(success(20)))

	summary, err := tr.EndSession()
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalCalls)
	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 1, summary.FallbackCount)
	assert.Equal(t, 67, summary.SuccessRatePercent)
	assert.Equal(t, int64(30), summary.TotalDurationMs)
	assert.Equal(t, "demo", summary.Name)
	assert.Equal(t, h.ID, summary.SessionID)
	assert.False(t, tr.Active())

	last, ok := tr.LastSession()
	require.True(t, ok)
	require.Len(t, last.Calls, 3)
	assert.Equal(t, "rate limited", last.Calls[1].FallbackReason)
	for _, c := range last.Calls {
		assert.Equal(t, h.ID, c.Session)
		assert.NotEmpty(t, c.ID)
	}
}

func TestCallCountInvariant(t *testing.T) {
	for n := 0; n < 8; n++ {
		tr := New()
		_, err := tr.StartSession("loop", "")
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			if i%3 == 0 {
				require.NoError(t, tr.RecordCall(fallback("boom")))
			} else {
				require.NoError(t, tr.RecordCall(success(1)))
			}
		}
		summary, err := tr.EndSession()
		require.NoError(t, err)

		last, _ := tr.LastSession()
		assert.Len(t, last.Calls, n)
		assert.Equal(t, n, summary.TotalCalls)
		assert.Equal(t, n, summary.SuccessCount+summary.FallbackCount)
	}
}

func TestRecordFallbackCallIsNotAttempted(t *testing.T) {
	tr := New()
	_, err := tr.StartSession("offline", "")
	require.NoError(t, err)

	rec, err := tr.RecordFallbackCall("ANTHROPIC_API_KEY is not set", "retrospective prompt")
	require.NoError(t, err)
	assert.False(t, rec.Attempted)
	assert.Equal(t, metrics.OutcomeFailureFallback, rec.Outcome)
	assert.Equal(t, "retrospective prompt", rec.PromptSummary)
	assert.NotEmpty(t, rec.Session)

	summary, err := tr.EndSession()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FallbackCount)
	assert.Equal(t, 1, summary.SkippedCount)
	assert.Equal(t, 0, summary.SuccessRatePercent)
}

func TestRecordPhaseKeepsOrderAndUniqueness(t *testing.T) {
	tr := New()
	_, err := tr.StartSession("phases", "")
	require.NoError(t, err)

	require.NoError(t, tr.RecordPhase("plan", "p"))
	require.NoError(t, tr.RecordPhase("review", "r"))
	assert.ErrorIs(t, tr.RecordPhase("plan", "again"), ErrDuplicatePhase)

	v, ok := tr.PhaseResult("plan")
	require.True(t, ok)
	assert.Equal(t, "p", v)

	_, err = tr.EndSession()
	require.NoError(t, err)
	last, _ := tr.LastSession()
	assert.Equal(t, []string{"plan", "review"}, last.Phases)
}

func TestGlobalStatsAccumulateAcrossSessions(t *testing.T) {
	tr := New()
	for i := 0; i < 2; i++ {
		_, err := tr.StartSession("s", "")
		require.NoError(t, err)
		require.NoError(t, tr.RecordCall(success(5)))
		require.NoError(t, tr.RecordCall(fallback("down")))
		_, err = tr.EndSession()
		require.NoError(t, err)
	}

	g := tr.GlobalStats()
	assert.Equal(t, 2, g.Sessions)
	assert.Equal(t, 4, g.TotalCalls)
	assert.Equal(t, 2, g.SuccessCount)
	assert.Equal(t, 2, g.FallbackCount)
	assert.Equal(t, int64(10), g.TotalDurationMs)
	assert.Equal(t, 50, g.SuccessRatePercent())
}

func TestTrackersAreIsolated(t *testing.T) {
	a, b := New(), New()
	_, err := a.StartSession("a", "")
	require.NoError(t, err)
	_, err = b.StartSession("b", "")
	require.NoError(t, err, "separate trackers must not share the active session")

	require.NoError(t, a.RecordCall(success(1)))
	_, err = b.EndSession()
	require.NoError(t, err)
	assert.Equal(t, 0, b.GlobalStats().TotalCalls)
	assert.True(t, a.Active())
}

func TestListenerReceivesEvents(t *testing.T) {
	var events []string
	fixed := time.Date(2025, 7, 27, 10, 0, 0, 0, time.UTC)
	tr := New(
		WithListener(func(e Event) { events = append(events, e.Type) }),
		WithClock(func() time.Time { return fixed }),
	)

	_, err := tr.StartSession("demo", "")
	require.NoError(t, err)
	require.NoError(t, tr.RecordCall(success(1)))
	summary, err := tr.EndSession()
	require.NoError(t, err)

	assert.Equal(t, []string{EventSessionStarted, EventCallRecorded, EventSessionEnded}, events)
	assert.Equal(t, fixed, summary.StartedAt)
	assert.Equal(t, fixed, summary.EndedAt)
}

func TestErrorsWrapSentinels(t *testing.T) {
	tr := New()
	err := tr.RecordCall(success(1))
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}
