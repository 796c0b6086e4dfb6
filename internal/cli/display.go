package cli

import (
	"fmt"
	"io"

	"metateam/internal/display"
	"metateam/internal/executor"
)

func printOutcome(w io.Writer, o executor.Outcome) {
	fmt.Fprintln(w)
	if o.Report != nil && o.Report.SessionID != "" {
		fmt.Fprint(w, display.FormatReport(o.Report))
	}
	if o.Err != nil {
		fmt.Fprintf(w, "[Plan %s FAILED] %v\n", o.Plan, o.Err)
	} else {
		fmt.Fprintf(w, "[Plan %s DONE]\n", o.Plan)
	}
}
