package export

import (
	"time"

	"github.com/lotas/ragex/internal/types"
)

var fixedNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func init() {
	now = func() time.Time { return fixedNow }
}

func sampleSessions() []types.Session {
	return []types.Session{
		{
			ID:          "s1",
			Title:       "go.dev",
			URL:         "https://go.dev/doc/",
			IsConnected: true,
			CreatedAt:   fixedNow.Add(-3 * time.Hour),
			Analysis:    &types.Analysis{Type: "Documentation", Summary: "Go docs.", Topics: []string{"go", "modules"}},
			History: []types.Turn{
				{Role: types.RoleAssistant, Content: "I've successfully indexed **go.dev**. What would you like to know?"},
				{Role: types.RoleUser, Content: "How do modules work?"},
				{Role: types.RoleAssistant, Content: "Via go.mod.", Meta: &types.Meta{
					Time:       2.04,
					Confidence: types.LabelConfidence("high"),
					Sources:    []types.Source{{URL: "https://go.dev/ref/mod", Title: "Modules reference", Snippet: "A module is a collection of packages"}},
				}},
			},
		},
		{ID: "s2", Title: types.DefaultTitle},
	}
}
