package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"metateam/internal/display"
	"metateam/internal/executor"
	"metateam/internal/listener"
	"metateam/internal/logger"
	"metateam/internal/orchestrator"
	"metateam/internal/plan"
	"metateam/internal/webcontext"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		only        []string
		policy      string
		concurrency int
		confirm     bool
	)
	cmd := &cobra.Command{
		Use:   "run <plan-file>...",
		Short: "Run the plans in one or more YAML/JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("policy") {
				a.cfg.Policy = policy
			}
			if cmd.Flags().Changed("concurrency") {
				a.cfg.Concurrency = concurrency
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			defaultPolicy, _ := orchestrator.ParsePolicy(a.cfg.Policy)

			plans, err := loadPlans(cmd, args, only)
			if err != nil {
				return err
			}
			if len(plans) == 0 {
				return fmt.Errorf("no plans to run")
			}
			for _, p := range plans {
				logger.Log.Printf("[CLI] Plan %q (FULL):\n%s", p.Name, display.FormatPlanFull(p))
			}

			if confirm {
				fmt.Fprint(cmd.OutOrStdout(), display.FormatPlansCatalog(strings.Join(args, ", "), plans))
				if err := listener.Init("> ", ""); err != nil {
					return fmt.Errorf("init terminal input: %w", err)
				}
				ok := listener.AskYesNo(fmt.Sprintf("About to run %d plan(s). Proceed?", len(plans)))
				listener.Close()
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}
			}

			provider, err := a.provider(cmd)
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			var fetcher plan.ContextFetcher
			if a.cfg.ContextChars > 0 {
				fetcher = webcontext.New(a.cfg.ContextChars)
			}

			outcomes := executor.ExecutePlans(cmd.Context(), plans, provider, executor.Options{
				Concurrency: a.cfg.Concurrency,
				Policy:      defaultPolicy,
				CallTimeout: a.cfg.CallTimeout,
				Model:       a.cfg.Model,
				Fetcher:     fetcher,
				Listener:    logEvent,
			})

			out := cmd.OutOrStdout()
			for _, o := range outcomes {
				printOutcome(out, o)
				if o.Report == nil || o.Report.SessionID == "" {
					continue
				}
				if err := st.SaveReport(cmd.Context(), o.Report); err != nil {
					logger.Log.Printf("[CLI] Failed to save session %s: %v", o.Report.SessionID, err)
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: session %s not saved: %v\n", o.Report.SessionID, err)
				}
			}
			if len(outcomes) > 1 {
				fmt.Fprint(out, "\nAll plans:\n")
				fmt.Fprint(out, display.FormatGlobalStats(executor.Totals(outcomes)))
			}

			if failed := executor.Failed(outcomes); len(failed) > 0 {
				return fmt.Errorf("%d of %d plan(s) failed", len(failed), len(outcomes))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&only, "only", nil, "run only the named plans, in the given order")
	cmd.Flags().StringVar(&policy, "policy", "", "what to do after a degraded phase: continue or halt")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "plans run in parallel")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "list the plans and ask before running")
	return cmd
}

// loadPlans reads every file and applies --only. Missing names are reported
// but do not stop the run.
func loadPlans(cmd *cobra.Command, files, only []string) ([]plan.Plan, error) {
	var all []plan.Plan
	for _, f := range files {
		plans, err := plan.LoadFile(f)
		if err != nil {
			return nil, err
		}
		all = append(all, plans...)
	}
	if len(only) == 0 {
		return all, nil
	}
	selected, missing := plan.SelectByNames(all, only)
	if len(missing) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: plans not found: %s\n", strings.Join(missing, ", "))
	}
	return selected, nil
}
