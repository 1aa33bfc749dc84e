package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultTitle is shown for a session that has never been connected.
const DefaultTitle = "New Session"

// Role identifies who produced a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is one panel tab: a bound page address with its own chat thread.
type Session struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	IsConnected bool      `json:"isConnected"`
	History     []Turn    `json:"history"`
	Analysis    *Analysis `json:"analysis,omitempty"`
	CreatedAt   time.Time `json:"timestamp"`
}

// Reset returns the session to its never-connected state, keeping its ID.
func (s *Session) Reset() {
	s.Title = DefaultTitle
	s.URL = ""
	s.IsConnected = false
	s.History = nil
	s.Analysis = nil
}

// Clone returns a deep copy so callers can read it outside the store lock.
func (s Session) Clone() Session {
	out := s
	if s.History != nil {
		out.History = make([]Turn, len(s.History))
		for i, t := range s.History {
			out.History[i] = t.Clone()
		}
	}
	if s.Analysis != nil {
		a := *s.Analysis
		a.Topics = append([]string(nil), s.Analysis.Topics...)
		out.Analysis = &a
	}
	return out
}

// Turn is a single chat message. Insertion order is chronological.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Meta    *Meta  `json:"meta,omitempty"`
}

func (t Turn) Clone() Turn {
	if t.Meta == nil {
		return t
	}
	m := *t.Meta
	m.Sources = append([]Source(nil), t.Meta.Sources...)
	m.SuggestedQuestions = append([]string(nil), t.Meta.SuggestedQuestions...)
	if t.Meta.Confidence != nil {
		c := *t.Meta.Confidence
		m.Confidence = &c
	}
	t.Meta = &m
	return t
}

// Meta carries the answer metadata rendered under an assistant turn.
type Meta struct {
	Sources            []Source    `json:"sources,omitempty"`
	Confidence         *Confidence `json:"confidence,omitempty"`
	Time               float64     `json:"time,omitempty"` // seconds
	SuggestedQuestions []string    `json:"suggested_questions,omitempty"`
}

// Source is a citation returned by the backend.
type Source struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Confidence is either a numeric 0-1 score or a coarse label such as "high".
type Confidence struct {
	Score *float64
	Label string
}

// ScoreConfidence returns a numeric confidence.
func ScoreConfidence(v float64) *Confidence {
	return &Confidence{Score: &v}
}

// LabelConfidence returns a labelled confidence.
func LabelConfidence(label string) *Confidence {
	return &Confidence{Label: label}
}

// Percent maps the confidence to a whole percentage.
// Labels: high=90, medium=70, anything else=50.
func (c *Confidence) Percent() int {
	if c == nil {
		return 50
	}
	if c.Score != nil {
		return int(math.Round(*c.Score * 100))
	}
	switch strings.ToLower(c.Label) {
	case "high":
		return 90
	case "medium":
		return 70
	default:
		return 50
	}
}

func (c Confidence) MarshalJSON() ([]byte, error) {
	if c.Score != nil {
		return json.Marshal(*c.Score)
	}
	return json.Marshal(c.Label)
}

func (c *Confidence) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		c.Score = &f
		c.Label = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("confidence must be a number or a string: %s", data)
	}
	c.Score = nil
	c.Label = s
	return nil
}

// Analysis summarises a connected page. It is replaced on every re-scan.
type Analysis struct {
	Type    string   `json:"type"`
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

// DefaultAnalysis is used when the backend never produced one in time.
func DefaultAnalysis() *Analysis {
	return &Analysis{Type: "Web Page", Summary: "Indexed successfully.", Topics: []string{}}
}

// NormalizeAnalysis fills defaults and collapses topics into a set,
// keeping first-seen order.
func NormalizeAnalysis(a Analysis) *Analysis {
	out := &Analysis{Type: a.Type, Summary: a.Summary, Topics: []string{}}
	if out.Type == "" {
		out.Type = "Web Page"
	}
	seen := make(map[string]bool, len(a.Topics))
	for _, t := range a.Topics {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out.Topics = append(out.Topics, t)
	}
	return out
}

// State is the persisted panel state.
type State struct {
	Sessions []Session `json:"sessions"`
	ActiveID string    `json:"activeId,omitempty"`
}

// Tab is the browser's currently active tab.
type Tab struct {
	ID    int    `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// IsHTTP reports whether the tab can be indexed.
func (t Tab) IsHTTP() bool {
	u := strings.ToLower(t.URL)
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
