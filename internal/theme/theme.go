// Package theme provides the Lip Gloss color palette and reusable styles
// for the planning poker TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Round status colors.
var (
	ColorNoVote     = lipgloss.Color("#9ca3af")
	ColorInProgress = lipgloss.Color("#2563eb")
	ColorClosed     = lipgloss.Color("#16a34a")
)

// Card colors by estimate size.
var (
	ColorCardUnsure = lipgloss.Color("#a855f7")
	ColorCardSmall  = lipgloss.Color("#22c55e") // up to 3
	ColorCardMid    = lipgloss.Color("#d97706") // 5 to 13
	ColorCardLarge  = lipgloss.Color("#dc2626") // 20 and up
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorDefault = lipgloss.Color("#9ca3af")
)

// StatusColor returns the color for a round status name as reported by
// poker.RoundStatus.String.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "in_progress":
		return ColorInProgress
	case "closed":
		return ColorClosed
	case "no_vote":
		return ColorNoVote
	default:
		return ColorDefault
	}
}

// CardColor returns the color for a card index. Index 0 is the "?" card.
func CardColor(card int) lipgloss.Color {
	switch {
	case card == 0:
		return ColorCardUnsure
	case card <= 4:
		return ColorCardSmall
	case card <= 7:
		return ColorCardMid
	default:
		return ColorCardLarge
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleError = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorDanger)

	StyleCard = lipgloss.NewStyle().
			Width(5).
			Align(lipgloss.Center).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)
)

// VoterGlyph returns the glyph for a voter row.
func VoterGlyph(voted bool) string {
	if voted {
		return "✓"
	}
	return "·"
}
