package panel

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/lotas/ragex/internal/types"
)

const (
	WelcomeText   = "Welcome! Click Connect to analyze the current page in this tab."
	ThinkingText  = "Thinking..."
	NoPageText    = "No Page Connected"
	fragmentWords = 12
)

// View is everything the UI draws, derived from state alone.
type View struct {
	Tabs         []TabView
	Connected    bool
	Status       string
	Address      string
	ScanLabel    string
	InputEnabled bool
	Analysis     *AnalysisView
	Messages     []MessageView
	Thinking     bool
	Overlay      string
}

// TabView is one entry in the tab strip. The final entry is the add control.
type TabView struct {
	ID     string
	Title  string
	Active bool
	Add    bool
}

type AnalysisView struct {
	Type    string
	Bullets []string
	Tags    []string
}

type MessageView struct {
	Role        types.Role
	Content     string
	Welcome     bool
	Error       bool
	MetaTags    []string
	Citations   []Citation
	Suggestions []string
}

// Citation links a source, with a text fragment pointing at its snippet
// when one is known. URL is empty for unparsable sources.
type Citation struct {
	Label   string
	URL     string
	Host    string
	Snippet string
}

// UIState is the transient, non-persisted input to Render.
type UIState struct {
	Notices   []types.Turn
	Op        Op
	OpSession string // session the in-flight operation belongs to
}

// Render projects state into a View. It has no side effects.
func Render(state types.State, ui UIState) View {
	var v View
	var active *types.Session
	for i := range state.Sessions {
		s := &state.Sessions[i]
		isActive := s.ID == state.ActiveID
		if isActive {
			active = s
		}
		v.Tabs = append(v.Tabs, TabView{ID: s.ID, Title: s.Title, Active: isActive})
	}
	v.Tabs = append(v.Tabs, TabView{Title: "+", Add: true})

	if ui.Op == OpConnect {
		v.Overlay = "Connecting..."
	}
	if active == nil {
		v.Status = "Disconnected"
		v.Address = NoPageText
		v.ScanLabel = "Connect"
		return v
	}

	v.Connected = active.IsConnected
	v.Status = "Disconnected"
	v.ScanLabel = "Connect"
	if active.IsConnected {
		v.Status = "Connected"
		v.ScanLabel = "Re-Scan"
	}
	v.InputEnabled = active.IsConnected
	v.Address = NoPageText
	if active.URL != "" {
		if u, err := url.Parse(active.URL); err == nil && u.Hostname() != "" {
			v.Address = u.Hostname()
		} else {
			v.Address = active.URL
		}
	}

	if a := active.Analysis; a != nil {
		av := &AnalysisView{Type: a.Type, Bullets: SummaryBullets(a.Summary)}
		for _, t := range a.Topics {
			av.Tags = append(av.Tags, "#"+t)
		}
		v.Analysis = av
	}

	if len(active.History) == 0 {
		v.Messages = append(v.Messages, MessageView{Role: types.RoleAssistant, Content: WelcomeText, Welcome: true})
	}
	for _, t := range active.History {
		v.Messages = append(v.Messages, renderTurn(t))
	}
	for _, n := range ui.Notices {
		mv := renderTurn(n)
		mv.Error = true
		v.Messages = append(v.Messages, mv)
	}
	v.Thinking = ui.Op == OpSend && ui.OpSession == active.ID
	return v
}

func renderTurn(t types.Turn) MessageView {
	mv := MessageView{Role: t.Role, Content: t.Content}
	if t.Meta == nil {
		return mv
	}
	if t.Role != types.RoleUser {
		if t.Meta.Time > 0 {
			mv.MetaTags = append(mv.MetaTags, fmt.Sprintf("%.1fs", t.Meta.Time))
		}
		if t.Meta.Confidence != nil {
			mv.MetaTags = append(mv.MetaTags, fmt.Sprintf("%d%%", t.Meta.Confidence.Percent()))
		}
	}
	for i, src := range t.Meta.Sources {
		mv.Citations = append(mv.Citations, citation(i, src))
	}
	mv.Suggestions = append(mv.Suggestions, t.Meta.SuggestedQuestions...)
	return mv
}

func citation(i int, src types.Source) Citation {
	c := Citation{Label: fmt.Sprintf("[%d]", i+1), Snippet: src.Snippet}
	u, err := url.Parse(src.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return c
	}
	c.Host = u.Hostname()
	u.Fragment = ""
	u.RawFragment = ""
	c.URL = u.String()
	if words := strings.Fields(src.Snippet); len(words) > 0 {
		if len(words) > fragmentWords {
			words = words[:fragmentWords]
		}
		c.URL += "#:~:text=" + encodeComponent(strings.Join(words, " "))
	}
	return c
}

// encodeComponent percent-encodes s for use inside a text fragment.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// SummaryBullets splits a summary into sentence bullets on ". ".
func SummaryBullets(summary string) []string {
	var out []string
	for _, part := range strings.Split(summary, ". ") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// View returns the current projection for the UI.
func (c *Controller) View() View {
	state := c.store.Snapshot()
	op, opSession := c.Busy()
	return Render(state, UIState{
		Notices:   c.store.Notices(state.ActiveID),
		Op:        op,
		OpSession: opSession,
	})
}
