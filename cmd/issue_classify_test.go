package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joescharf/issuetrack/internal/models"
)

func TestClassifyIssuePriority(t *testing.T) {
	tests := []struct {
		title string
		want  models.IssuePriority
	}{
		{"Security hole in login form", models.IssuePriorityCritical},
		{"P0: checkout returns 500", models.IssuePriorityCritical},
		{"Data loss when saving drafts", models.IssuePriorityCritical},
		{"App crash on startup", models.IssuePriorityHigh},
		{"Search is BROKEN for accented titles", models.IssuePriorityHigh},
		{"Urgent: renew certificate", models.IssuePriorityHigh},
		{"Typo in footer", models.IssuePriorityLow},
		{"Minor cosmetic button fix", models.IssuePriorityLow},
		{"Add dark mode support", models.IssuePriorityMedium},
		{"", models.IssuePriorityMedium},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyIssuePriority(tt.title))
		})
	}
}

func TestClassifyIssuePriority_MostSevereWins(t *testing.T) {
	// "minor" is low but "crash" is high; the higher tier is checked first.
	assert.Equal(t, models.IssuePriorityHigh, classifyIssuePriority("minor crash in settings"))
	assert.Equal(t, models.IssuePriorityCritical, classifyIssuePriority("urgent security fix"))
}
