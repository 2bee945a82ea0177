// Package history provides a scrollable log of session messages and
// connection events.
package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/planning-poker/planpoker/internal/theme"
)

const maxEntries = 200

// Entry kinds.
const (
	KindSession = "msg"
	KindRound   = "round"
	KindResult  = "result"
	KindConn    = "conn"
	KindError   = "err"
)

// Entry is a single log line.
type Entry struct {
	Time    time.Time
	Kind    string
	Message string
}

// Model holds the log state.
type Model struct {
	Entries []Entry
	Offset  int // scroll offset (from bottom)
	now     func() time.Time
}

// New creates an empty log.
func New() Model {
	return Model{now: time.Now}
}

// Add appends an entry and caps the buffer. A session message identical to
// the previous one is a resync and is not recorded again.
func (m *Model) Add(kind, message string) {
	if kind == KindSession {
		for i := len(m.Entries) - 1; i >= 0; i-- {
			if m.Entries[i].Kind != KindSession {
				continue
			}
			if m.Entries[i].Message == message {
				return
			}
			break
		}
	}

	now := time.Now
	if m.now != nil {
		now = m.now
	}
	m.Entries = append(m.Entries, Entry{
		Time:    now(),
		Kind:    kind,
		Message: message,
	})
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
	// Reset scroll to bottom on new entry.
	m.Offset = 0
}

// ScrollUp moves the viewport up.
func (m *Model) ScrollUp(n int) {
	m.Offset = min(m.Offset+n, max(len(m.Entries)-1, 0))
}

// ScrollDown moves the viewport down.
func (m *Model) ScrollDown(n int) {
	m.Offset = max(m.Offset-n, 0)
}

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders the log as an overlay panel. Round markers split the log into
// rounds; connection events are dimmed so session messages stand out.
func (m Model) View(width, height int) string {
	innerW := max(width-4, 20)
	visibleLines := max(height-6, 3)

	title := theme.StyleHeader.Render(" HISTORY ")
	if n := m.Rounds(); n > 0 {
		title += theme.StyleDimmed.Render(fmt.Sprintf("  %d rounds", n))
	}
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d entries", len(m.Entries)))

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  Nothing has happened yet.")
		content := lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help)
		return panelStyle(innerW).Render(content)
	}

	end := max(len(m.Entries)-m.Offset, 0)
	start := max(end-visibleLines, 0)

	line := lipgloss.NewStyle().MaxWidth(innerW - 4)
	lines := make([]string, 0, end-start)
	for _, e := range m.Entries[start:end] {
		lines = append(lines, line.Render(renderEntry(e)))
	}

	body := strings.Join(lines, "\n")
	scrollIndicator := ""
	if m.Offset > 0 {
		scrollIndicator = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, body, scrollIndicator, help)
	return panelStyle(innerW).Render(content)
}

// Rounds counts the rounds started since the log began.
func (m Model) Rounds() int {
	n := 0
	for _, e := range m.Entries {
		if e.Kind == KindRound {
			n++
		}
	}
	return n
}

func renderEntry(e Entry) string {
	ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05"))
	switch e.Kind {
	case KindRound:
		rule := lipgloss.NewStyle().Foreground(theme.ColorInProgress).Bold(true)
		return ts + " " + rule.Render("── "+e.Message+" ──")
	case KindResult:
		result := lipgloss.NewStyle().Foreground(theme.ColorClosed).Bold(true)
		return ts + " " + result.Render("── "+e.Message+" ──")
	case KindConn:
		return ts + " " + theme.StyleDimmed.Render("  ⇄ "+e.Message)
	case KindError:
		return ts + " " + theme.StyleError.Render("! "+e.Message)
	default:
		return ts + "   " + e.Message
	}
}
