// Package plan loads declarative session plans and turns them into
// orchestrator sessions.
package plan

import (
	"errors"
	"fmt"
	"strings"

	"metateam/internal/orchestrator"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

var ErrInvalidPlan = errors.New("invalid plan")

type PhaseSpec struct {
	Name     string `json:"name"`
	Prompt   string `json:"prompt"`
	Fallback string `json:"fallback,omitempty"`
	// Format is "text" (default) or "json".
	Format string `json:"format,omitempty"`
	// ContextURL names a page whose text is appended to the prompt.
	ContextURL string `json:"context_url,omitempty"`
}

type Plan struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Policy      string      `json:"policy,omitempty"`
	Phases      []PhaseSpec `json:"phases"`
}

// FallbackPolicy returns the plan's policy, or def when the plan sets none.
func (p Plan) FallbackPolicy(def orchestrator.Policy) (orchestrator.Policy, error) {
	if strings.TrimSpace(p.Policy) == "" {
		return def, nil
	}
	return orchestrator.ParsePolicy(p.Policy)
}

// SelectByNames returns plans matching the given names (case-insensitive),
// in the order requested, plus the names that matched nothing.
func SelectByNames(plans []Plan, names []string) ([]Plan, []string) {
	if len(names) == 0 {
		return plans, nil
	}

	var selected []Plan
	var missing []string
	for _, want := range names {
		w := strings.TrimSpace(want)
		if w == "" {
			continue
		}
		found := false
		for i := range plans {
			if strings.EqualFold(plans[i].Name, w) {
				selected = append(selected, plans[i])
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, want)
		}
	}
	return selected, missing
}

// Validate checks a plan before it is run. Phase prompts may only refer to
// phases declared before them.
func Validate(p Plan) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: plan has no name", ErrInvalidPlan)
	}
	if _, err := p.FallbackPolicy(orchestrator.ContinueOnFallback); err != nil {
		return fmt.Errorf("%w: plan %q: %w", ErrInvalidPlan, p.Name, err)
	}

	seen := map[string]struct{}{}
	for i, ph := range p.Phases {
		name := strings.TrimSpace(ph.Name)
		if name == "" {
			return fmt.Errorf("%w: plan %q phase %d has no name", ErrInvalidPlan, p.Name, i+1)
		}
		if name != ph.Name {
			return fmt.Errorf("%w: plan %q phase %q has surrounding spaces", ErrInvalidPlan, p.Name, ph.Name)
		}
		if !phaseName.MatchString(name) {
			return fmt.Errorf("%w: plan %q phase %q: names may only use letters, digits, '_' and '-'", ErrInvalidPlan, p.Name, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: plan %q repeats phase %q", ErrInvalidPlan, p.Name, name)
		}
		if strings.TrimSpace(ph.Prompt) == "" {
			return fmt.Errorf("%w: plan %q phase %q has no prompt", ErrInvalidPlan, p.Name, name)
		}
		switch strings.ToLower(ph.Format) {
		case "", FormatText, FormatJSON:
		default:
			return fmt.Errorf("%w: plan %q phase %q has unknown format %q", ErrInvalidPlan, p.Name, name, ph.Format)
		}
		for _, field := range []string{ph.Prompt, ph.Fallback, ph.ContextURL} {
			if err := checkRefs(field, seen, name); err != nil {
				return fmt.Errorf("%w: plan %q: %w", ErrInvalidPlan, p.Name, err)
			}
		}
		seen[name] = struct{}{}
	}
	return nil
}

func checkRefs(s string, seen map[string]struct{}, phase string) error {
	if bad := malformedRef(s); bad != "" {
		return fmt.Errorf("phase %q has a malformed reference %q (want @results.<phase>.<key>)", phase, bad)
	}
	for _, ref := range references(s) {
		if _, ok := seen[ref.phase]; !ok {
			return fmt.Errorf("phase %q references @results.%s, which is not available yet (same or later phase)", phase, ref.phase)
		}
		if !knownKey(ref.key) {
			return fmt.Errorf("phase %q references unknown result key %q (want output, reason or degraded)", phase, ref.key)
		}
	}
	return nil
}
