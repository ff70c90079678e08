package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/printfarm/internal/stream"
)

// renderHeader renders the status bar: stream state, roster size and the
// offline banner.
func (m Model) renderHeader() string {
	styles := m.theme.Styles()
	sep := "  "

	parts := []string{
		styles.Logo.Render("printfarm"),
		m.streamIndicator(styles),
	}

	switch {
	case m.snapshot.IsOffline():
		parts = append(parts,
			styles.DangerText.Render("SERVER "+classifyConnectionError(m.snapshot.LastError)),
			styles.WarningText.Bold(true).Render("Retrying..."),
		)
	case !m.snapshot.HasRoster && m.snapshot.LastError == nil:
		parts = append(parts, styles.WarningText.Bold(true).Render("Connecting..."))
	default:
		parts = append(parts,
			styles.MutedText.Render("Printers:")+" "+
				styles.Text.Render(fmt.Sprintf("%d", len(m.snapshot.Printers))),
		)
		if n := m.countErrored(); n > 0 {
			parts = append(parts, styles.DangerText.Render(fmt.Sprintf("%d with errors", n)))
		}
	}

	if !m.snapshot.LastUpdated.IsZero() {
		parts = append(parts, styles.FaintText.Render("roster "+m.snapshot.LastUpdated.Format("15:04:05")))
	}
	if !m.lastUpdated.IsZero() {
		parts = append(parts, styles.FaintText.Render("live "+m.lastUpdated.Format("15:04:05")))
	}

	return styles.Header.Width(m.width).Render(strings.Join(parts, sep))
}

func (m Model) streamIndicator(styles Styles) string {
	if m.stream == nil {
		return styles.FaintText.Render("○ POLL ONLY")
	}
	switch st := m.stream.State(); st {
	case stream.StateOpen:
		return styles.SuccessText.Render("● LIVE")
	case stream.StateConnecting:
		return styles.WarningText.Render("◌ CONNECTING")
	case stream.StateClosedByUser:
		return styles.MutedText.Render("○ PAUSED")
	default:
		return styles.DangerText.Render("○ " + strings.ToUpper(st.String()))
	}
}

// countErrored counts listed printers whose phase reports an error.
func (m Model) countErrored() int {
	n := 0
	for _, p := range m.snapshot.Printers {
		if phase, ok := m.views.Phase.Get(p.ID); ok && phase.HasError {
			n++
		}
	}
	return n
}

func classifyConnectionError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return "OFFLINE"
	case strings.Contains(msg, "no such host"):
		return "HOST NOT FOUND"
	case strings.Contains(msg, "timeout"):
		return "TIMEOUT"
	default:
		return "ERROR"
	}
}

// renderFooter renders the command hints bar.
func (m Model) renderFooter() string {
	styles := m.theme.Styles()
	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(m.theme.Warning))

	streamLabel := "Pause live"
	if m.streamPaused {
		streamLabel = "Resume live"
	}
	commands := []struct{ key, desc string }{
		{"j/k", "Select"},
		{"r", "Refresh"},
		{"s", streamLabel},
		{"t", "Temps"},
		{"T", "Theme"},
		{"?", "Help"},
		{"e", "Quit"},
	}

	parts := make([]string, 0, len(commands)+1)
	for _, c := range commands {
		parts = append(parts, keyStyle.Render(c.key)+" "+styles.MutedText.Render(c.desc))
	}
	if m.notice != "" {
		parts = append(parts, styles.InfoText.Render(m.notice))
	}

	return styles.Footer.Width(m.width).Render(strings.Join(parts, "  "))
}
