package display

import (
	"fmt"
	"strings"

	"metateam/internal/plan"
)

func FormatPlansCatalog(file string, plans []plan.Plan) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d plan(s) in %s:\n", len(plans), file))
	for i, p := range plans {
		policy := p.Policy
		if policy == "" {
			policy = "default"
		}
		sb.WriteString(fmt.Sprintf("  %2d. %s  (phases=%d, policy=%s)\n", i+1, p.Name, len(p.Phases), policy))
	}
	return sb.String()
}

// FormatPlan shows a plan's phases with truncated prompts.
func FormatPlan(p plan.Plan) string {
	return formatPlanInternal(p, maxOutputLength)
}

// FormatPlanFull does not truncate; used for logs.
func FormatPlanFull(p plan.Plan) string {
	return formatPlanInternal(p, -1)
}

func formatPlanInternal(p plan.Plan, limit int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Plan: %s\n", p.Name))
	if p.Description != "" {
		sb.WriteString(fmt.Sprintf("%s\n", p.Description))
	}
	sb.WriteString("--------------------------------------------------\n")
	for i, ph := range p.Phases {
		format := ph.Format
		if format == "" {
			format = plan.FormatText
		}
		sb.WriteString(fmt.Sprintf("Phase %d: %s (%s)\n", i+1, ph.Name, format))
		sb.WriteString(fmt.Sprintf("  Prompt:   %s\n", formatValueForDisplay(strings.TrimSpace(ph.Prompt), limit)))
		if ph.Fallback != "" {
			sb.WriteString(fmt.Sprintf("  Fallback: %s\n", formatValueForDisplay(ph.Fallback, limit)))
		}
		if ph.ContextURL != "" {
			sb.WriteString(fmt.Sprintf("  Context:  %s\n", ph.ContextURL))
		}
	}
	sb.WriteString("--------------------------------------------------")
	return sb.String()
}
