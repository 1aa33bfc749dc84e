package export

import (
	"strings"
	"testing"
	"time"

	"github.com/lotas/ragex/internal/types"
)

func TestMarkdown_Transcript(t *testing.T) {
	result := Markdown(sampleSessions())

	for _, want := range []string{
		"# Ragex Sessions",
		"> Exported 2026-03-04 12:00",
		"## go.dev (3 turns)",
		"Page: <https://go.dev/doc/>, started 3h ago",
		"**Documentation**: Go docs.",
		"Topics: #go #modules",
		"**You:** How do modules work?",
		"**Assistant:** Via go.mod.",
		"_2.0s, 90% confidence_",
		"- [1] [Modules reference](https://go.dev/ref/mod#:~:text=A%20module%20is%20a%20collection%20of%20packages)",
		"## New Session (0 turns)",
	} {
		if !strings.Contains(result, want) {
			t.Errorf("missing %q, got:\n%s", want, result)
		}
	}
}

func TestMarkdown_UserTurnsHaveNoMetaTags(t *testing.T) {
	sessions := []types.Session{{
		ID:    "s",
		Title: "x",
		History: []types.Turn{
			{Role: types.RoleUser, Content: "q", Meta: &types.Meta{Time: 3, Confidence: types.LabelConfidence("low")}},
		},
	}}
	result := Markdown(sessions)
	if strings.Contains(result, "3.0s") || strings.Contains(result, "confidence") {
		t.Errorf("user turn rendered meta tags:\n%s", result)
	}
	if !strings.Contains(result, "## x (1 turn)") {
		t.Errorf("missing singular heading:\n%s", result)
	}
}

func TestRelativeTime(t *testing.T) {
	tests := []struct {
		ago  string
		want string
	}{
		{"10s", "just now"},
		{"5m", "5m ago"},
		{"3h", "3h ago"},
		{"72h", "3d ago"},
	}
	for _, tt := range tests {
		d, _ := time.ParseDuration(tt.ago)
		if got := relativeTime(fixedNow.Add(-d)); got != tt.want {
			t.Errorf("relativeTime(-%s) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}
