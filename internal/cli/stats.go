package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"metateam/internal/display"
	"metateam/internal/metrics"
)

func newStatsCmd(a *app) *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show usage statistics for all stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			g, err := st.GlobalStats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, display.FormatGlobalStats(g))
			if g.Sessions == 0 || recent <= 0 {
				return nil
			}

			sessions, err := st.RecentSessions(cmd.Context(), max(recent, metrics.TrendSessions))
			if err != nil {
				return err
			}
			fmt.Fprint(out, display.FormatTrend(metrics.Trend(sessions)))
			if len(sessions) > recent {
				sessions = sessions[len(sessions)-recent:]
			}
			fmt.Fprint(out, display.FormatRecentSessions(sessions))
			return nil
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent sessions to list")
	return cmd
}
