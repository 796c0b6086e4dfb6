package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"metateam/internal/caller"
	"metateam/internal/display"
	"metateam/internal/listener"
	"metateam/internal/logger"
	"metateam/internal/metrics"
	"metateam/internal/orchestrator"
	"metateam/internal/tracker"
)

const chatFallback = "The model is not available right now, so this is a canned reply. Please try again later."

func newChatCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the model interactively; every line is a tracked call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := a.provider(cmd)
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			tr := tracker.New(tracker.WithListener(logEvent))
			c := caller.New(provider, tr, caller.WithTimeout(a.cfg.CallTimeout), caller.WithModel(a.cfg.Model))
			h, err := tr.StartSession(name, "interactive chat")
			if err != nil {
				return err
			}

			if err := listener.Init("you> ", filepath.Join(a.cfg.DataDir, "chat_history")); err != nil {
				return abortChat(tr, fmt.Errorf("init terminal input: %w", err))
			}
			listener.AsyncPrintln(fmt.Sprintf("Session %s (%s) started. Type 'exit' or press Ctrl+D to quit.", h.Name, h.ID))

			results, loopErr := chatLoop(cmd.Context(), c, listener.GetInput, listener.AsyncPrintln)
			listener.Close()

			report, err := endChat(tr, results)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), display.FormatSessionSummary(report.Summary))
			if report.Summary.TotalCalls > 0 {
				if err := st.SaveReport(cmd.Context(), report); err != nil {
					logger.Log.Printf("[CLI] Failed to save chat session %s: %v", report.SessionID, err)
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: session not saved: %v\n", err)
				}
			}
			return loopErr
		},
	}
	cmd.Flags().StringVar(&name, "name", "chat", "session name")
	return cmd
}

// chatLoop sends each non-empty line as one call until read reports no more
// input, the user types exit, or ctx is cancelled.
func chatLoop(ctx context.Context, c *caller.Caller, read func() (string, bool), show func(string)) ([]orchestrator.PhaseResult, error) {
	var results []orchestrator.PhaseResult
	for ctx.Err() == nil {
		line, ok := read()
		if !ok {
			break
		}
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return results, nil
		}

		turn := fmt.Sprintf("turn-%d", len(results)+1)
		answer, rec, err := c.WithPhase(turn).Invoke(ctx, line, caller.Static(chatFallback))
		if err != nil {
			return results, err
		}
		results = append(results, orchestrator.PhaseResult{
			Name:     turn,
			Output:   answer,
			Degraded: rec.Outcome != metrics.OutcomeSuccess,
			Reason:   rec.FallbackReason,
			Record:   rec,
		})
		if rec.FallbackReason != "" {
			show(fmt.Sprintf("[fallback: %s] %s", rec.FallbackReason, answer))
			continue
		}
		show(answer)
	}
	return results, nil
}

// abortChat ends the session after a setup failure, keeping both errors.
func abortChat(tr *tracker.Tracker, cause error) error {
	if _, err := tr.EndSession(); err != nil {
		logger.Log.Printf("[CLI] Failed to end chat session: %v", err)
		return errors.Join(cause, err)
	}
	return cause
}

// endChat closes the session and packs it into a report for the store.
func endChat(tr *tracker.Tracker, turns []orchestrator.PhaseResult) (*orchestrator.Report, error) {
	summary, err := tr.EndSession()
	if err != nil {
		return nil, err
	}
	results, err := orchestrator.NewResults(turns...)
	if err != nil {
		return nil, err
	}
	report := &orchestrator.Report{
		SessionID: summary.SessionID,
		Name:      summary.Name,
		Results:   results,
		Summary:   summary,
	}
	if last, ok := tr.LastSession(); ok {
		report.Calls = last.Calls
	}
	return report, nil
}
