package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"metateam/internal/display"
	"metateam/internal/plan"
)

func newValidateCmd(a *app) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "validate <plan-file>...",
		Short: "Check plan files without calling a model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			invalid := 0
			for _, f := range args {
				plans, err := plan.LoadFile(f)
				if err != nil {
					fmt.Fprintf(out, "%s: %v\n", f, err)
					invalid++
					continue
				}
				fmt.Fprint(out, display.FormatPlansCatalog(f, plans))
				for _, p := range plans {
					if err := plan.Validate(p); err != nil {
						fmt.Fprintf(out, "  invalid %s: %v\n", p.Name, err)
						invalid++
						continue
					}
					if verbose {
						fmt.Fprintln(out, display.FormatPlan(p))
					}
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d problem(s) found", invalid)
			}
			fmt.Fprintln(out, "All plans are valid.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every phase of each plan")
	return cmd
}
