package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/planning-poker/planpoker/internal/theme"
)

// Model holds the status bar state.
type Model struct {
	Voter     string
	Connected bool
	Round     string
	Voters    int
	Voted     int
	Width     int

	// Lost is set once an open channel dropped; it stays set until the
	// channel is back.
	Lost bool
	// Removed is set when the server closed the channel because the voter
	// left or was dropped.
	Removed bool
}

// New creates a status bar model for voter.
func New(voter string) Model {
	return Model{Voter: voter, Round: "no_vote"}
}

// SetCounts updates the voter tallies.
func (m *Model) SetCounts(voters, voted int) {
	m.Voters = voters
	m.Voted = voted
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	switch {
	case m.Connected:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	case m.Removed:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Removed from the session")
	case m.Lost:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connection lost, reconnect required")
	default:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorWarning).Render("○ Connecting...")
	}

	voter := theme.StyleHeader.Render(m.Voter)
	round := lipgloss.NewStyle().Foreground(theme.StatusColor(m.Round)).Render(roundLabel(m.Round))
	counts := fmt.Sprintf("%d/%d voted", m.Voted, m.Voters)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + voter + sep + round + sep + counts

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func roundLabel(status string) string {
	switch status {
	case "in_progress":
		return "Voting"
	case "closed":
		return "Results"
	default:
		return "Idle"
	}
}
