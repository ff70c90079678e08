package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/five82/printfarm/internal/printer"
)

const (
	cardWidth = 40
	cardGap   = 1
	// Rows inside the border: title, progress, phase, temps, tray, error.
	cardLines = 6
)

// renderMain renders header, printer grid and footer.
func (m Model) renderMain() string {
	header := m.renderHeader()
	footer := m.renderFooter()
	bodyHeight := m.height - lipgloss.Height(header) - lipgloss.Height(footer)
	if bodyHeight < 0 {
		bodyHeight = 0
	}

	body := m.renderGrid(bodyHeight)
	body = lipgloss.NewStyle().
		Width(m.width).
		Height(bodyHeight).
		MaxHeight(bodyHeight).
		Render(body)

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

// gridColumns returns how many cards fit side by side.
func (m Model) gridColumns() int {
	cols := (m.width + cardGap) / (cardWidth + cardGap)
	if cols < 1 {
		return 1
	}
	return cols
}

// renderGrid lays the cards out row by row, scrolled so the selected card
// stays visible.
func (m Model) renderGrid(height int) string {
	styles := m.theme.Styles()
	printers := m.snapshot.Printers
	if len(printers) == 0 {
		if !m.snapshot.HasRoster {
			return styles.MutedText.Render("Waiting for printer roster...")
		}
		return styles.MutedText.Render("No printers registered.")
	}

	cols := m.gridColumns()
	rowHeight := cardLines + 2
	visibleRows := height / rowHeight
	if visibleRows < 1 {
		visibleRows = 1
	}
	firstRow := 0
	if selRow := m.selected / cols; selRow >= visibleRows {
		firstRow = selRow - visibleRows + 1
	}

	var rows []string
	for start := firstRow * cols; start < len(printers) && len(rows) < visibleRows; start += cols {
		end := start + cols
		if end > len(printers) {
			end = len(printers)
		}
		cards := make([]string, 0, 2*(end-start))
		for i := start; i < end; i++ {
			if i > start {
				cards = append(cards, strings.Repeat(" ", cardGap))
			}
			cards = append(cards, m.renderCard(printers[i], i == m.selected))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// renderCard renders one printer from the cache views.
func (m Model) renderCard(p printer.Summary, focused bool) string {
	styles := m.theme.Styles()
	inner := cardWidth - 4 // border + padding

	status, hasStatus := m.views.Status.Get(p.ID)
	label := "unknown"
	if hasStatus {
		label = status.StatusLabel()
	}

	lines := make([]string, 0, cardLines)
	lines = append(lines, m.cardTitle(p, label, inner))
	lines = append(lines, m.cardProgress(p.ID, inner))
	lines = append(lines, m.cardPhase(p.ID))
	if m.showTemp {
		lines = append(lines, cardTemps(status, hasStatus, styles))
	} else {
		lines = append(lines, "")
	}
	lines = append(lines, m.cardTray(p.ID))
	lines = append(lines, m.cardFetchError(p.ID, inner))

	style := styles.Card
	if focused {
		style = styles.CardFocus
	}
	return style.Width(cardWidth - 2).Render(strings.Join(lines, "\n"))
}

func (m Model) cardTitle(p printer.Summary, label string, width int) string {
	styles := m.theme.Styles()
	badge := styles.StatusStyle(label).Render(strings.ToUpper(label))
	name := styles.Text.Bold(true).Render(truncate(p.ID, width/2))
	if p.Type != "" {
		name += " " + styles.FaintText.Render(truncate(p.Type, 10))
	}
	pad := width - lipgloss.Width(name) - lipgloss.Width(badge)
	if pad < 1 {
		pad = 1
	}
	return name + strings.Repeat(" ", pad) + badge
}

func (m Model) cardProgress(id string, width int) string {
	styles := m.theme.Styles()
	pct, ok := m.views.Percentage.Get(id)
	if !ok || pct.PrintPercentage == nil {
		return styles.FaintText.Render("no active job")
	}
	value := clampPercent(*pct.PrintPercentage)
	bar := m.bar
	bar.Width = width - 5
	return bar.ViewAs(value/100) + styles.Text.Render(fmt.Sprintf(" %3.0f%%", value))
}

func (m Model) cardPhase(id string) string {
	styles := m.theme.Styles()
	phase, ok := m.views.Phase.Get(id)
	if !ok {
		return styles.MutedText.Render("Phase ") + styles.FaintText.Render("--")
	}
	name := "--"
	if phase.PrintPhase != nil && strings.TrimSpace(*phase.PrintPhase) != "" {
		name = *phase.PrintPhase
	}
	line := styles.MutedText.Render("Phase ") + styles.Text.Render(name)
	if phase.HasError {
		code := "error"
		if phase.PrintErrorCode != nil {
			code = fmt.Sprintf("error %d", *phase.PrintErrorCode)
		}
		line += "  " + styles.DangerText.Render(code)
	}
	return line
}

func cardTemps(status printer.StatusPayload, ok bool, styles Styles) string {
	nozzle, bed := "--", "--"
	if ok {
		if v, known := status.NozzleTemperature.Value(); known {
			nozzle = formatTemp(v)
			if t := status.NozzleTemperature.Target; t != nil && *t > 0 {
				nozzle += "/" + formatTemp(*t)
			}
		}
		if status.BedTemperature != nil {
			bed = formatTemp(*status.BedTemperature)
		}
	}
	return styles.MutedText.Render("Nozzle ") + styles.InfoText.Render(nozzle) +
		"  " + styles.MutedText.Render("Bed ") + styles.InfoText.Render(bed)
}

func (m Model) cardTray(id string) string {
	styles := m.theme.Styles()
	tray := "--"
	if f, ok := m.views.Filament.Get(id); ok && f.TrayType != nil && strings.TrimSpace(*f.TrayType) != "" {
		tray = *f.TrayType
	}
	return styles.MutedText.Render("Tray ") + styles.AccentText.Render(tray)
}

// cardFetchError shows the last poll failure, status first.
func (m Model) cardFetchError(id string, width int) string {
	styles := m.theme.Styles()
	if err := m.views.Status.Err(id); err != nil {
		return styles.DangerText.Render(truncate("fetch: "+err.Error(), width))
	}
	if err := m.views.Filament.Err(id); err != nil {
		return styles.WarningText.Render(truncate("tray: "+err.Error(), width))
	}
	return ""
}

func formatTemp(v float64) string {
	return fmt.Sprintf("%.0f°C", v)
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}
