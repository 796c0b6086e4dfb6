package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metateam/internal/caller"
	"metateam/internal/config"
	"metateam/internal/llm_client"
	"metateam/internal/metrics"
	"metateam/internal/orchestrator"
	"metateam/internal/store"
	"metateam/internal/tracker"
)

const planFile = `plans:
  - name: alpha
    phases:
      - name: one
        prompt: Say hello.
      - name: two
        prompt: "[[fail:rate limited]] Follow up on @results.one.output"
        fallback: canned two
  - name: beta
    phases:
      - name: only
        prompt: Just this.
`

func testApp(t *testing.T) *app {
	t.Helper()
	return &app{
		cfg: &config.Config{
			Backend:     llm_client.BackendMock,
			MaxTokens:   100,
			CallTimeout: 5 * time.Second,
			Concurrency: 2,
			Policy:      "continue",
			Store:       "json",
			DataDir:     t.TempDir(),
			LogFile:     "test.log",
		},
		newProvider: llm_client.New,
	}
}

func writePlans(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, a *app, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd(a)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRunThenStats(t *testing.T) {
	a := testApp(t)
	path := writePlans(t, planFile)

	out, _, err := execute(t, a, "run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "[Plan alpha DONE]")
	assert.Contains(t, out, "[Plan beta DONE]")
	assert.Contains(t, out, "[fallback: rate limited]")
	assert.Contains(t, out, "All plans:")
	assert.Contains(t, out, "Calls:     3 (success=2, fallback=1, fatal=0)")

	out, _, err = execute(t, a, "stats", "--recent", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Sessions:  2")
	assert.Contains(t, out, "Recent sessions:")
	assert.Contains(t, out, "Trend:")
}

func TestRunOnlySelectedPlans(t *testing.T) {
	a := testApp(t)
	path := writePlans(t, planFile)

	out, errOut, err := execute(t, a, "run", path, "--only", "beta,gamma")
	require.NoError(t, err)
	assert.Contains(t, out, "[Plan beta DONE]")
	assert.NotContains(t, out, "alpha")
	assert.Contains(t, errOut, "plans not found: gamma")

	_, _, err = execute(t, a, "run", path, "--only", "gamma")
	assert.ErrorContains(t, err, "no plans to run")
}

func TestRunRejectsBadPolicyFlag(t *testing.T) {
	a := testApp(t)
	path := writePlans(t, planFile)

	_, _, err := execute(t, a, "run", path, "--policy", "retry")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRunWithoutAPIKeyDegradesEveryCall(t *testing.T) {
	a := testApp(t)
	a.newProvider = func(llm_client.Config) (llm_client.Provider, error) {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY: %w", llm_client.ErrMissingAPIKey)
	}
	path := writePlans(t, planFile)

	out, errOut, err := execute(t, a, "run", path, "--only", "beta")
	require.NoError(t, err)
	assert.Contains(t, errOut, "every call will use its fallback")
	assert.Contains(t, out, "[fallback: provider unavailable]")
	assert.Contains(t, out, "No answer is available for only.")
}

func TestValidateCommand(t *testing.T) {
	a := testApp(t)

	out, _, err := execute(t, a, "validate", writePlans(t, planFile))
	require.NoError(t, err)
	assert.Contains(t, out, "Found 2 plan(s)")
	assert.Contains(t, out, "All plans are valid.")

	bad := writePlans(t, `name: broken
phases:
  - name: first
    prompt: "uses @results.later.output"
  - name: later
    prompt: fine
`)
	out, _, err = execute(t, a, "validate", bad)
	assert.ErrorContains(t, err, "1 problem(s) found")
	assert.Contains(t, out, "invalid broken")
}

func TestChatLoop(t *testing.T) {
	p, err := llm_client.New(llm_client.Config{Backend: llm_client.BackendMock})
	require.NoError(t, err)
	tr := tracker.New()
	c := caller.New(p, tr)
	_, err = tr.StartSession("chat", "test")
	require.NoError(t, err)

	lines := []string{"hello", "", "[[fail:rate limited]] hi", "exit", "never read"}
	read := func() (string, bool) {
		if len(lines) == 0 {
			return "", false
		}
		l := lines[0]
		lines = lines[1:]
		return l, true
	}
	var printed []string
	show := func(s string) { printed = append(printed, s) }

	turns, err := chatLoop(context.Background(), c, read, show)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, []string{"never read"}, lines)
	assert.False(t, turns[0].Degraded)
	assert.True(t, turns[1].Degraded)
	assert.Equal(t, "rate limited", turns[1].Reason)
	require.Len(t, printed, 2)
	assert.Contains(t, printed[0], "[MOCK]")
	assert.Equal(t, "[fallback: rate limited] "+chatFallback, printed[1])

	report, err := endChat(tr, turns)
	require.NoError(t, err)
	assert.Equal(t, []string{"turn-1", "turn-2"}, report.Results.Names())
	assert.Len(t, report.Calls, 2)
	assert.Equal(t, "turn-2", report.Calls[1].Phase)
	assert.Equal(t, 50, report.Summary.SuccessRatePercent)
	assert.False(t, tr.Active())
}

func TestChatLoopStopsOnEndOfInput(t *testing.T) {
	tr := tracker.New()
	c := caller.New(nil, tr)
	_, err := tr.StartSession("chat", "")
	require.NoError(t, err)

	turns, err := chatLoop(context.Background(), c, func() (string, bool) { return "", false }, func(string) {})
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestAbortChatEndsSession(t *testing.T) {
	cause := errors.New("no terminal")

	tr := tracker.New()
	_, err := tr.StartSession("chat", "")
	require.NoError(t, err)
	err = abortChat(tr, cause)
	assert.Equal(t, cause, err)
	assert.False(t, tr.Active())

	err = abortChat(tr, cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, tracker.ErrNoActiveSession)
}

func TestStatsTrendIgnoresListLimit(t *testing.T) {
	a := testApp(t)
	st, err := store.NewJSON(a.cfg.DataDir)
	require.NoError(t, err)

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := range 10 {
		success := 0
		if i >= 5 {
			success = 1
		}
		id := fmt.Sprintf("s%02d", i)
		sum := metrics.SessionSummary{
			SessionID:          id,
			Name:               "session " + id,
			TotalCalls:         1,
			SuccessCount:       success,
			FallbackCount:      1 - success,
			SuccessRatePercent: 100 * success,
			StartedAt:          base.Add(time.Duration(i) * time.Hour),
			EndedAt:            base.Add(time.Duration(i)*time.Hour + time.Minute),
		}
		require.NoError(t, st.SaveReport(context.Background(), &orchestrator.Report{SessionID: id, Name: sum.Name, Summary: sum}))
	}

	out, _, err := execute(t, a, "stats", "--recent", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Trend: improving by 100.0 points")
	assert.Contains(t, out, "session s09")
	assert.Contains(t, out, "session s08")
	assert.NotContains(t, out, "session s07")
}
