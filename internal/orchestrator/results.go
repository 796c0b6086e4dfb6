package orchestrator

import (
	"encoding/json"
	"fmt"

	"metateam/internal/llm_client"
	"metateam/internal/metrics"
)

// PhaseResult is the outcome of one phase. Degraded distinguishes a fallback
// answer from a real one without re-reading the call log.
type PhaseResult struct {
	Name     string             `json:"name"`
	Output   string             `json:"output"`
	Degraded bool               `json:"degraded"`
	Reason   string             `json:"reason,omitempty"`
	Record   metrics.CallRecord `json:"record"`
}

// Results holds phase outputs keyed by phase name, in execution order.
// The zero value is empty and ready to use.
type Results struct {
	order  []string
	byName map[string]PhaseResult
}

// NewResults builds Results from already computed phase results, such as a
// stored report.
func NewResults(rs ...PhaseResult) (Results, error) {
	var r Results
	for _, res := range rs {
		if err := r.add(res); err != nil {
			return Results{}, err
		}
	}
	return r, nil
}

func (r Results) Get(name string) (PhaseResult, bool) {
	res, ok := r.byName[name]
	return res, ok
}

func (r Results) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Output returns the phase output, or "" when the phase has not run.
func (r Results) Output(name string) string {
	return r.byName[name].Output
}

func (r Results) Len() int { return len(r.order) }

func (r Results) Names() []string {
	return append([]string(nil), r.order...)
}

// All returns the results in execution order.
func (r Results) All() []PhaseResult {
	out := make([]PhaseResult, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Decode unmarshals a phase's JSON output into v. Markdown code fences
// around the payload are ignored.
func (r Results) Decode(name string, v any) error {
	res, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("decode %q: %w", name, ErrUnknownPhase)
	}
	if err := json.Unmarshal([]byte(llm_client.CleanJSON(res.Output)), v); err != nil {
		return fmt.Errorf("decode %q: %w", name, err)
	}
	return nil
}

func (r *Results) add(res PhaseResult) error {
	if r.byName == nil {
		r.byName = make(map[string]PhaseResult)
	}
	if _, exists := r.byName[res.Name]; exists {
		return fmt.Errorf("store phase %q: %w", res.Name, ErrDuplicatePhase)
	}
	r.byName[res.Name] = res
	r.order = append(r.order, res.Name)
	return nil
}

func (r Results) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.All())
}

func (r *Results) UnmarshalJSON(b []byte) error {
	var all []PhaseResult
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	res, err := NewResults(all...)
	if err != nil {
		return err
	}
	*r = res
	return nil
}
