package plan

import (
	"regexp"
	"strconv"
	"strings"

	"metateam/internal/orchestrator"
)

const (
	refPrefix   = "@results."
	namePattern = `[A-Za-z0-9_\-]+`
)

var (
	resultsRef = regexp.MustCompile(`@results\.(` + namePattern + `)\.([A-Za-z0-9_]+)`)
	phaseName  = regexp.MustCompile(`^` + namePattern + `$`)
)

const (
	keyOutput   = "output"
	keyReason   = "reason"
	keyDegraded = "degraded"
)

func knownKey(k string) bool {
	return k == keyOutput || k == keyReason || k == keyDegraded
}

type ref struct {
	phase string
	key   string
}

// malformedRef returns the first @results. occurrence that does not start a
// well-formed reference, or "" when there is none.
func malformedRef(s string) string {
	starts := map[int]bool{}
	for _, loc := range resultsRef.FindAllStringIndex(s, -1) {
		starts[loc[0]] = true
	}
	for i := 0; ; {
		j := strings.Index(s[i:], refPrefix)
		if j < 0 {
			return ""
		}
		at := i + j
		if !starts[at] {
			rest := s[at:]
			if end := strings.IndexAny(rest, " \t\n"); end > 0 {
				rest = rest[:end]
			}
			return rest
		}
		i = at + len(refPrefix)
	}
}

func references(s string) []ref {
	var out []ref
	for _, m := range resultsRef.FindAllStringSubmatch(s, -1) {
		out = append(out, ref{phase: m[1], key: m[2]})
	}
	return out
}

// Render replaces @results.<phase>.<key> placeholders with values from
// earlier phases. Unknown phases or keys render as "".
func Render(tmpl string, results orchestrator.Results) string {
	return resultsRef.ReplaceAllStringFunc(tmpl, func(match string) string {
		sub := resultsRef.FindStringSubmatch(match)
		if len(sub) != 3 {
			return ""
		}
		res, ok := results.Get(sub[1])
		if !ok {
			return ""
		}
		switch sub[2] {
		case keyOutput:
			return res.Output
		case keyReason:
			return res.Reason
		case keyDegraded:
			return strconv.FormatBool(res.Degraded)
		}
		return ""
	})
}
