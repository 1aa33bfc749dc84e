package types

import (
	"encoding/json"
	"testing"
)

func TestConfidencePercent(t *testing.T) {
	tests := []struct {
		name string
		c    *Confidence
		want int
	}{
		{"numeric", ScoreConfidence(0.82), 82},
		{"high", LabelConfidence("high"), 90},
		{"medium", LabelConfidence("medium"), 70},
		{"low", LabelConfidence("low"), 50},
		{"absent", nil, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Percent(); got != tt.want {
				t.Errorf("Percent() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConfidenceAcceptsNumberOrLabel(t *testing.T) {
	var meta Meta
	if err := json.Unmarshal([]byte(`{"confidence": 0.5}`), &meta); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if meta.Confidence == nil || meta.Confidence.Score == nil || *meta.Confidence.Score != 0.5 {
		t.Fatalf("expected score 0.5, got %+v", meta.Confidence)
	}

	meta = Meta{}
	if err := json.Unmarshal([]byte(`{"confidence": "high"}`), &meta); err != nil {
		t.Fatalf("unmarshal label: %v", err)
	}
	if meta.Confidence == nil || meta.Confidence.Label != "high" {
		t.Fatalf("expected label high, got %+v", meta.Confidence)
	}

	if err := json.Unmarshal([]byte(`{"confidence": true}`), &meta); err == nil {
		t.Error("expected error for boolean confidence")
	}
}

func TestNormalizeAnalysis(t *testing.T) {
	a := NormalizeAnalysis(Analysis{Summary: "s", Topics: []string{"x", " y ", "x", ""}})
	if a.Type != "Web Page" {
		t.Errorf("Type = %q, want Web Page", a.Type)
	}
	if len(a.Topics) != 2 || a.Topics[0] != "x" || a.Topics[1] != "y" {
		t.Errorf("Topics = %v, want [x y]", a.Topics)
	}
}

func TestSessionResetKeepsID(t *testing.T) {
	s := Session{
		ID:          "abc",
		Title:       "example.com",
		URL:         "https://example.com",
		IsConnected: true,
		History:     []Turn{{Role: RoleUser, Content: "hi"}},
		Analysis:    DefaultAnalysis(),
	}
	s.Reset()
	if s.ID != "abc" {
		t.Errorf("ID changed to %q", s.ID)
	}
	if s.Title != DefaultTitle || s.URL != "" || s.IsConnected || s.History != nil || s.Analysis != nil {
		t.Errorf("session not reset: %+v", s)
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := Session{
		History:  []Turn{{Role: RoleAssistant, Content: "a", Meta: &Meta{SuggestedQuestions: []string{"q"}}}},
		Analysis: &Analysis{Topics: []string{"x"}},
	}
	c := s.Clone()
	c.History[0].Meta.SuggestedQuestions[0] = "changed"
	c.Analysis.Topics[0] = "changed"
	if s.History[0].Meta.SuggestedQuestions[0] != "q" {
		t.Error("clone shares suggested questions")
	}
	if s.Analysis.Topics[0] != "x" {
		t.Error("clone shares topics")
	}
}

func TestTabIsHTTP(t *testing.T) {
	for u, want := range map[string]bool{
		"https://example.com":   true,
		"http://localhost:8000": true,
		"chrome://settings":     false,
		"about:blank":           false,
		"":                      false,
	} {
		if got := (Tab{URL: u}).IsHTTP(); got != want {
			t.Errorf("IsHTTP(%q) = %v, want %v", u, got, want)
		}
	}
}
