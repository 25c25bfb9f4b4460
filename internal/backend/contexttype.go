package backend

import "strings"

// AllowedContextTypes is the closed set the upstream accepts, per
// spec.md §4.D.
var AllowedContextTypes = map[string]bool{
	"design": true, "decision": true, "trace": true, "sprint": true, "log": true,
}

// fixedTypeTable maps common aliases directly onto an allowed type.
var fixedTypeTable = map[string]string{
	"sprint_summary":    "sprint",
	"architecture":      "design",
	"risk_assessment":   "log",
	"knowledge":         "trace",
}

// MapContextType applies spec.md §4.D's context-type mapping policy:
// exact match wins; else the fixed table; else a keyword rule over the
// lowercased name; else default "log". Idempotent: MapContextType of an
// already-mapped type returns it unchanged (spec.md §8 invariant 10).
func MapContextType(t string) (mapped string, changed bool) {
	if AllowedContextTypes[t] {
		return t, false
	}
	if m, ok := fixedTypeTable[t]; ok {
		return m, true
	}

	lower := strings.ToLower(t)
	switch {
	case strings.Contains(lower, "sprint"):
		return "sprint", true
	case containsAny(lower, "design", "implement", "architect", "spec"):
		return "design", true
	case containsAny(lower, "decision", "plan", "strategy", "future"):
		return "decision", true
	case containsAny(lower, "trace", "debug", "history", "context"):
		return "trace", true
	default:
		return "log", true
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
