package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/ragex/internal/panel"
	"github.com/lotas/ragex/internal/types"
)

var (
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
	cardTypeStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	topicStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
	userLabelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	botLabelStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	welcomeStyle    = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245"))
	metaStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	citationStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
	suggestionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// renderChat draws the analysis card and the message list.
func renderChat(v panel.View, width int, spin string) string {
	var b strings.Builder
	if v.Analysis != nil {
		b.WriteString(renderAnalysis(*v.Analysis, width))
		b.WriteString("\n\n")
	}

	body := lipgloss.NewStyle().Width(max(width-2, 10))
	for i, msg := range v.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderMessage(msg, body))
	}
	if v.Thinking {
		fmt.Fprintf(&b, "\n%s %s\n", spin, welcomeStyle.Render(panel.ThinkingText))
	}
	return b.String()
}

func renderAnalysis(a panel.AnalysisView, width int) string {
	var b strings.Builder
	b.WriteString(cardTypeStyle.Render(a.Type))
	inner := lipgloss.NewStyle().Width(max(width-8, 10))
	for _, bullet := range a.Bullets {
		b.WriteString("\n" + inner.Render("• "+bullet))
	}
	if len(a.Tags) > 0 {
		b.WriteString("\n" + topicStyle.Render(strings.Join(a.Tags, " ")))
	}
	return cardStyle.Width(max(width-4, 12)).Render(b.String())
}

func renderMessage(msg panel.MessageView, body lipgloss.Style) string {
	var b strings.Builder
	switch {
	case msg.Error:
		b.WriteString(errorStyle.Render(body.Render(msg.Content)))
		b.WriteString("\n")
		return b.String()
	case msg.Welcome:
		b.WriteString(welcomeStyle.Render(body.Render(msg.Content)))
		b.WriteString("\n")
		return b.String()
	case msg.Role == types.RoleUser:
		b.WriteString(userLabelStyle.Render("You") + "\n")
	default:
		label := botLabelStyle.Render("Assistant")
		if len(msg.MetaTags) > 0 {
			label += "  " + metaStyle.Render(strings.Join(msg.MetaTags, " · "))
		}
		b.WriteString(label + "\n")
	}
	b.WriteString(body.Render(msg.Content))
	b.WriteString("\n")

	for _, c := range msg.Citations {
		line := c.Label + " " + c.Host
		if c.URL != "" {
			line = c.Label + " " + c.URL
		}
		b.WriteString(citationStyle.Render(truncate(line, max(body.GetWidth(), 20))) + "\n")
	}
	for i, s := range msg.Suggestions {
		fmt.Fprintf(&b, "%s\n", suggestionStyle.Render(fmt.Sprintf("  alt+%d  %s", i+1, s)))
	}
	return b.String()
}

// lastSuggestions returns the suggestion chips of the most recent message
// that offers any; those are the ones alt+N submits.
func lastSuggestions(v panel.View) []string {
	for i := len(v.Messages) - 1; i >= 0; i-- {
		if len(v.Messages[i].Suggestions) > 0 {
			return v.Messages[i].Suggestions
		}
	}
	return nil
}

// lastAnswer returns the newest assistant reply that is not an error.
func lastAnswer(v panel.View) string {
	for i := len(v.Messages) - 1; i >= 0; i-- {
		m := v.Messages[i]
		if m.Role == types.RoleAssistant && !m.Error && !m.Welcome {
			return m.Content
		}
	}
	return ""
}
