package plan

import (
	"context"
	"fmt"
	"strings"

	"metateam/internal/caller"
	"metateam/internal/logger"
	"metateam/internal/orchestrator"
)

// ContextFetcher returns reference text for a URL.
type ContextFetcher interface {
	Text(ctx context.Context, url string) (string, error)
}

// Build validates p and turns its phase specs into orchestrator phases.
// fetcher may be nil, in which case context URLs are ignored. Pages are
// fetched with the run context when the phase starts.
func Build(p Plan, fetcher ContextFetcher) (orchestrator.Session, error) {
	if err := Validate(p); err != nil {
		return orchestrator.Session{}, err
	}
	s := orchestrator.Session{Name: p.Name, Description: p.Description}
	for _, spec := range p.Phases {
		s.Phases = append(s.Phases, buildPhase(spec, fetcher))
	}
	return s, nil
}

func buildPhase(spec PhaseSpec, fetcher ContextFetcher) orchestrator.Phase {
	return orchestrator.Phase{
		Name: spec.Name,
		JSON: strings.EqualFold(spec.Format, FormatJSON),
		Prompt: func(ctx context.Context, r orchestrator.Results) (string, error) {
			prompt := Render(spec.Prompt, r)
			if spec.ContextURL == "" || fetcher == nil {
				return prompt, nil
			}
			url := Render(spec.ContextURL, r)
			text, err := fetcher.Text(ctx, url)
			if err != nil {
				logger.Log.Printf("[Plan] Phase '%s': context from %s unavailable: %v", spec.Name, url, err)
				return prompt, nil
			}
			if strings.TrimSpace(text) == "" {
				return prompt, nil
			}
			return prompt + "\n\nREFERENCE MATERIAL:\n" + text, nil
		},
		Fallback: func(r orchestrator.Results) caller.Fallback {
			if strings.TrimSpace(spec.Fallback) == "" {
				return caller.Static(fmt.Sprintf("No answer is available for %s.", spec.Name))
			}
			return caller.Static(Render(spec.Fallback, r))
		},
	}
}
