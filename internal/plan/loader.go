package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

/*
LoadFile loads one or many plans from a YAML (.yaml, .yml) or JSON file and
always returns a slice. Supported shapes:

 1. Multi-plan:
    plans:
    - name: alpha
    phases: [...]
    - phases: [...]          # name optional
    - [ {..phase..}, ... ]   # an entry can be a bare phase list

 2. Multi-plan as a bare list of plans.

 3. Single plan (treated as a 1-element list):
    name: alpha
    phases: [...]
    or a bare list of phases at top level.

Unnamed plans are auto-named "plan:<base>#<index>".
*/
func LoadFile(path string) ([]Plan, error) {
	clean := filepath.Clean(path)
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read plans %s: %w", clean, err)
	}
	plans, err := Parse(data, filepath.Ext(clean), filepath.Base(clean))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", clean, err)
	}
	return plans, nil
}

// Parse decodes plan data. ext selects the format; anything other than
// ".json" is read as YAML.
func Parse(data []byte, ext, base string) ([]Plan, error) {
	if !strings.EqualFold(ext, ".json") {
		normalized, err := yamlToJSON(data)
		if err != nil {
			return nil, err
		}
		data = normalized
	}

	// Shape 1: object with "plans"
	var obj struct {
		Plans []json.RawMessage `json:"plans"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && len(obj.Plans) > 0 {
		return parsePlanList(obj.Plans, base)
	}

	// Shape 2: bare list of plans
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 {
		if plans, err := parsePlanList(arr, base); err == nil {
			return plans, nil
		}
	}

	// Shape 3: single plan
	if p, ok := parseOneTopLevelPlan(data, base); ok {
		return []Plan{p}, nil
	}
	return nil, fmt.Errorf("%w: unrecognized plans format", ErrInvalidPlan)
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalize yaml: %w", err)
	}
	return b, nil
}

func parsePlanList(items []json.RawMessage, base string) ([]Plan, error) {
	var out []Plan
	for i, raw := range items {
		p, ok := parseOnePlan(raw)
		if !ok {
			// Entry may be a bare list of phases.
			var phases []PhaseSpec
			if strictUnmarshal(raw, &phases) == nil && len(phases) > 0 {
				p = Plan{Phases: phases}
				ok = true
			}
		}
		if !ok {
			return nil, fmt.Errorf("%w: could not parse plan #%d", ErrInvalidPlan, i+1)
		}
		if strings.TrimSpace(p.Name) == "" {
			p.Name = fmt.Sprintf("plan:%s#%d", base, i+1)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseOnePlan(raw json.RawMessage) (Plan, bool) {
	var p Plan
	if err := strictUnmarshal(raw, &p); err != nil || len(p.Phases) == 0 {
		return Plan{}, false
	}
	p.Name = strings.TrimSpace(p.Name)
	return p, true
}

func parseOneTopLevelPlan(data []byte, base string) (Plan, bool) {
	if p, ok := parseOnePlan(data); ok {
		if p.Name == "" {
			p.Name = "plan:" + base
		}
		return p, true
	}
	var phases []PhaseSpec
	if strictUnmarshal(data, &phases) == nil && len(phases) > 0 {
		return Plan{Name: "plan:" + base, Phases: phases}, true
	}
	return Plan{}, false
}

// strictUnmarshal rejects unknown fields so a phase is never mistaken for a
// plan or the other way round.
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
