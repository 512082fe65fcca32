package cmd

import (
	"strings"

	"github.com/joescharf/issuetrack/internal/models"
)

var (
	criticalKeywords = []string{
		"critical", "blocker", "data loss", "production down", "outage",
		"security", "p0",
	}
	highKeywords = []string{
		"urgent", "crash", "broken", "not working", "regression", "p1",
	}
	lowKeywords = []string{
		"minor", "nice to have", "cosmetic", "trivial",
		"low priority", "typo", "cleanup", "clean up",
	}
)

// classifyIssuePriority infers a priority from the title using keyword
// heuristics. Tiers are checked from most to least severe; the default is medium.
func classifyIssuePriority(title string) models.IssuePriority {
	lower := strings.ToLower(title)

	switch {
	case containsAny(lower, criticalKeywords):
		return models.IssuePriorityCritical
	case containsAny(lower, highKeywords):
		return models.IssuePriorityHigh
	case containsAny(lower, lowKeywords):
		return models.IssuePriorityLow
	default:
		return models.IssuePriorityMedium
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
