package recovery

import (
	"strings"
)

type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryAuth       Category = "auth"
	CategoryMemory     Category = "memory"
	CategoryState      Category = "state"
	CategoryTransport  Category = "transport"
	CategoryRendering  Category = "rendering"
	CategoryValidation Category = "validation"
	CategoryTimeout    Category = "timeout"
	CategoryPermission Category = "permission"
	CategoryUnknown    Category = "unknown"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// categoryPatterns is checked in order; the first category with a matching
// keyword wins. Timeout outranks network because timeout messages usually
// mention connections too.
var categoryPatterns = []struct {
	category Category
	keywords []string
}{
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{CategoryAuth, []string{"unauthorized", "authentication", "credential", "token expired", "login"}},
	{CategoryPermission, []string{"permission", "forbidden", "access denied"}},
	{CategoryMemory, []string{"out of memory", "memory", "allocation failed", "oom"}},
	{CategoryValidation, []string{"malformed", "invalid", "validation", "parse", "missing required"}},
	{CategoryState, []string{"state transition", "invalid transition", "inconsistent state", "checksum", "integrity"}},
	{CategoryNetwork, []string{"connection", "network", "unreachable", "refused", "dns", "fetch", "http"}},
	{CategoryTransport, []string{"websocket", "subscribe", "publish", "stream", "transport", "message"}},
	{CategoryRendering, []string{"render", "canvas", "draw", "texture", "webgl"}},
}

var criticalKeywords = []string{"critical", "corrupt", "panic", "fatal", "data loss"}

// Classify derives a category and severity from an error message and its
// context. errCtx["severity"] overrides the heuristic when present.
func Classify(message string, errCtx map[string]any) (Category, Severity) {
	lower := strings.ToLower(message)

	category := CategoryUnknown
	for _, p := range categoryPatterns {
		for _, kw := range p.keywords {
			if strings.Contains(lower, kw) {
				category = p.category
				break
			}
		}
		if category != CategoryUnknown {
			break
		}
	}

	severity := baseSeverity(category)
	for _, kw := range criticalKeywords {
		if strings.Contains(lower, kw) {
			severity = SeverityCritical
			break
		}
	}
	if errCtx != nil {
		if s, ok := errCtx["severity"].(string); ok {
			switch Severity(s) {
			case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
				severity = Severity(s)
			}
		}
	}
	return category, severity
}

func baseSeverity(c Category) Severity {
	switch c {
	case CategoryMemory, CategoryState:
		return SeverityHigh
	case CategoryAuth, CategoryPermission:
		return SeverityHigh
	case CategoryNetwork, CategoryTimeout, CategoryTransport, CategoryUnknown:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
