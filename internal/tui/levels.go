// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"headset/internal/analysis"
	"headset/internal/block"
	"headset/internal/transport"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	levelFloorDB = -90.0
	levelBarCols = 48
)

var (
	barStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#25A065"))
	hotStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E8553E"))
	holdStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#767676"))
)

type levelsTickMsg time.Time

// LevelsModel shows the instantaneous level of the four microphones. It
// polls source at a fixed interval and keeps the last complete reading.
type LevelsModel struct {
	source   transport.LevelSource
	interval time.Duration
	levels   analysis.Levels
	fresh    bool
	stale    int // Ticks since the last complete reading.
}

// NewLevelsModel returns a meter view polling source every interval.
func NewLevelsModel(source transport.LevelSource, interval time.Duration) LevelsModel {
	m := LevelsModel{source: source, interval: interval}
	for i := range m.levels {
		m.levels[i] = math.Inf(-1)
	}
	return m
}

func (m LevelsModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return levelsTickMsg(t) })
}

// Init starts polling.
func (m LevelsModel) Init() tea.Cmd {
	return m.tick()
}

// Update handles ticks and quit keys.
func (m LevelsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case levelsTickMsg:
		if levels, ok := m.source.ReadAll(); ok {
			m.levels, m.fresh, m.stale = levels, true, 0
		} else {
			m.stale++
			m.fresh = m.stale < 10
		}
		return m, m.tick()
	}
	return m, nil
}

// View renders one bar per microphone.
func (m LevelsModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Microphone Levels"))
	sb.WriteString("\n\n")

	for _, ch := range block.Mics {
		sb.WriteString(renderLevel(ch.String(), m.levels[ch], m.fresh))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render("q: Quit"))
	return sb.String()
}

// renderLevel draws a dBFS bar from levelFloorDB to 0.
func renderLevel(name string, db float64, fresh bool) string {
	filled := 0
	measured := !math.IsInf(db, -1) && !math.IsNaN(db)
	if measured {
		frac := (math.Min(db, 0) - levelFloorDB) / -levelFloorDB
		filled = int(math.Round(math.Max(0, frac) * levelBarCols))
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("·", levelBarCols-filled)

	style := barStyle
	switch {
	case !fresh:
		style = holdStyle
	case db > -3:
		style = hotStyle
	}

	value := "  -inf"
	if measured {
		value = fmt.Sprintf("%6.1f", db)
	}
	return fmt.Sprintf("%-6s %s %s dBFS", name, style.Render(bar), value)
}

// StartLevelsUI runs the level meter until the user quits.
func StartLevelsUI(source transport.LevelSource, interval time.Duration) error {
	_, err := tea.NewProgram(NewLevelsModel(source, interval), tea.WithAltScreen()).Run()
	return err
}
