// Package export renders persisted sessions as Markdown or JSON transcripts.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/lotas/ragex/internal/types"
)

var now = time.Now

// Markdown formats sessions as a markdown transcript.
func Markdown(sessions []types.Session) string {
	var b strings.Builder

	b.WriteString("# Ragex Sessions\n")
	fmt.Fprintf(&b, "> Exported %s\n", now().Format("2006-01-02 15:04"))

	for _, s := range sessions {
		n := len(s.History)
		noun := "turns"
		if n == 1 {
			noun = "turn"
		}
		fmt.Fprintf(&b, "\n## %s (%d %s)\n\n", s.Title, n, noun)

		if s.URL != "" {
			fmt.Fprintf(&b, "Page: <%s>, started %s\n", s.URL, relativeTime(s.CreatedAt))
		}
		if a := s.Analysis; a != nil {
			fmt.Fprintf(&b, "\n**%s**: %s\n", a.Type, a.Summary)
			if len(a.Topics) > 0 {
				tags := make([]string, len(a.Topics))
				for i, t := range a.Topics {
					tags[i] = "#" + t
				}
				fmt.Fprintf(&b, "Topics: %s\n", strings.Join(tags, " "))
			}
		}

		for _, t := range s.History {
			b.WriteString("\n")
			writeTurn(&b, t)
		}
	}

	return b.String()
}

func writeTurn(b *strings.Builder, t types.Turn) {
	speaker := "Assistant"
	if t.Role == types.RoleUser {
		speaker = "You"
	}
	fmt.Fprintf(b, "**%s:** %s\n", speaker, t.Content)
	if t.Meta == nil {
		return
	}

	var tags []string
	if t.Role != types.RoleUser {
		if t.Meta.Time > 0 {
			tags = append(tags, fmt.Sprintf("%.1fs", t.Meta.Time))
		}
		if t.Meta.Confidence != nil {
			tags = append(tags, fmt.Sprintf("%d%% confidence", t.Meta.Confidence.Percent()))
		}
	}
	if len(tags) > 0 {
		fmt.Fprintf(b, "_%s_\n", strings.Join(tags, ", "))
	}
	for i, c := range citations(t) {
		title := t.Meta.Sources[i].Title
		if title == "" {
			title = c.Host
		}
		if c.URL == "" {
			fmt.Fprintf(b, "- %s %s\n", c.Label, title)
			continue
		}
		fmt.Fprintf(b, "- %s [%s](%s)\n", c.Label, title, c.URL)
	}
}

func relativeTime(t time.Time) string {
	if t.IsZero() {
		return "at an unknown time"
	}
	d := now().Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
