package export

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/lotas/ragex/internal/panel"
	"github.com/lotas/ragex/internal/types"
)

type jsonExport struct {
	ExportedAt time.Time     `json:"exported_at"`
	Sessions   []jsonSession `json:"sessions"`
}

type jsonSession struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	URL           string          `json:"url,omitempty"`
	Domain        string          `json:"domain,omitempty"`
	Connected     bool            `json:"connected"`
	CreatedAt     time.Time       `json:"created_at"`
	CreatedPretty string          `json:"created_pretty"`
	Analysis      *types.Analysis `json:"analysis,omitempty"`
	Turns         []jsonTurn      `json:"turns"`
}

type jsonTurn struct {
	Role       types.Role   `json:"role"`
	Content    string       `json:"content"`
	Time       float64      `json:"time,omitempty"`
	Confidence int          `json:"confidence,omitempty"`
	Sources    []jsonSource `json:"sources,omitempty"`
	Suggested  []string     `json:"suggested_questions,omitempty"`
}

type jsonSource struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
	Link  string `json:"link,omitempty"`
}

// JSON formats sessions as a JSON document.
func JSON(sessions []types.Session) (string, error) {
	out := jsonExport{
		ExportedAt: now(),
		Sessions:   make([]jsonSession, 0, len(sessions)),
	}

	for _, s := range sessions {
		js := jsonSession{
			ID:            s.ID,
			Title:         s.Title,
			URL:           s.URL,
			Domain:        extractDomain(s.URL),
			Connected:     s.IsConnected,
			CreatedAt:     s.CreatedAt,
			CreatedPretty: relativeTime(s.CreatedAt),
			Analysis:      s.Analysis,
			Turns:         make([]jsonTurn, 0, len(s.History)),
		}
		for _, t := range s.History {
			jt := jsonTurn{Role: t.Role, Content: t.Content}
			if m := t.Meta; m != nil {
				jt.Time = m.Time
				if m.Confidence != nil {
					jt.Confidence = m.Confidence.Percent()
				}
				jt.Suggested = m.SuggestedQuestions
				for i, c := range citations(t) {
					jt.Sources = append(jt.Sources, jsonSource{Title: m.Sources[i].Title, URL: m.Sources[i].URL, Link: c.URL})
				}
			}
			js.Turns = append(js.Turns, jt)
		}
		out.Sessions = append(out.Sessions, js)
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

// citations reuses the panel's deep-link projection for a single turn.
func citations(t types.Turn) []panel.Citation {
	state := types.State{ActiveID: "x", Sessions: []types.Session{{ID: "x", History: []types.Turn{t}}}}
	return panel.Render(state, panel.UIState{}).Messages[0].Citations
}

func extractDomain(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}
