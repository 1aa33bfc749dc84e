package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/ragex/internal/panel"
)

const maxTabWidth = 18

var (
	tabActiveStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Underline(true)
	tabInactiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	tabAddStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusOnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusOffStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	addressStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// renderTabStrip draws one entry per session followed by the add control.
// Tabs that do not fit are dropped from the left so the active one stays
// visible.
func renderTabStrip(tabs []panel.TabView, width int) string {
	sep := tabInactiveStyle.Render(" │ ")
	parts := make([]string, 0, len(tabs))
	active := 0
	for i, t := range tabs {
		switch {
		case t.Add:
			parts = append(parts, tabAddStyle.Render("+"))
		case t.Active:
			active = i
			parts = append(parts, tabActiveStyle.Render(truncate(t.Title, maxTabWidth)))
		default:
			parts = append(parts, tabInactiveStyle.Render(truncate(t.Title, maxTabWidth)))
		}
	}

	start := 0
	for start < active && lipgloss.Width(join(parts[start:], sep))+1 > width {
		start++
	}
	return " " + join(parts[start:], sep)
}

// renderStatusBar shows the connection state, the page address and, right
// aligned, the current browser tab.
func renderStatusBar(v panel.View, currentTab string, width int) string {
	dot := statusOffStyle.Render("○ " + v.Status)
	if v.Connected {
		dot = statusOnStyle.Render("● " + v.Status)
	}
	left := " " + dot + "  " + addressStyle.Render(v.Address)

	right := ""
	if currentTab != "" {
		right = addressStyle.Render("tab: "+truncate(currentTab, 30)) + " "
	}
	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	padding := lipgloss.NewStyle().Width(gap)

	return left + padding.Render("") + right
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
