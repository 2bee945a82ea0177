package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/planning-poker/planpoker/internal/client"
	"github.com/planning-poker/planpoker/internal/poker"
	"github.com/planning-poker/planpoker/internal/protocol"
	"github.com/planning-poker/planpoker/internal/theme"
	"github.com/planning-poker/planpoker/internal/views/history"
	"github.com/planning-poker/planpoker/internal/views/status"
)

// CardLabels are the faces of the deck, indexed by card value.
var CardLabels = [poker.MaxVote + 1]string{"?", "½", "1", "2", "3", "5", "8", "13", "20", "40", "100", "∞"}

// CardLabel returns the face of card, or "-" outside the deck.
func CardLabel(card int) string {
	if !poker.ValidCard(card) {
		return "-"
	}
	return CardLabels[card]
}

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayHistory
)

// Model is the root Bubble Tea model for one voter.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc

	voter  string
	keys   KeyMap
	width  int
	height int

	// Latest pushed session state.
	update protocol.ServerUpdate

	selectedIdx int
	overlay     Overlay
	lastErr     string

	statusBar status.Model
	history   history.Model

	joined    bool
	connected bool
	leaving   bool
}

// New creates the root model for voter.
func New(voter string, ws *client.WSClient, http *client.HTTPClient) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ws:        ws,
		http:      http,
		ctx:       ctx,
		cancel:    cancel,
		voter:     voter,
		keys:      DefaultKeyMap(),
		update:    protocol.ServerUpdate{Message: "Joining...", AverageVote: protocol.Sentinel},
		statusBar: status.New(voter),
		history:   history.New(),
	}
}

// Init joins the session; the push channel opens once the join is accepted.
func (m Model) Init() tea.Cmd {
	return m.send(poker.RequestJoin, protocol.Sentinel, "")
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.RequestDoneMsg:
		return m.handleRequestDone(msg)

	case client.ConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.statusBar.Lost = false
		m.statusBar.Removed = false
		m.history.Add(history.KindConn, "push channel open")
		return m, m.ws.ReadLoop(m.ctx)

	case client.DisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		if m.leaving {
			return m, nil
		}
		if errors.Is(msg.Err, client.ErrRemoved) {
			// Someone dropped us, or we left elsewhere. Stay out.
			m.joined = false
			m.statusBar.Removed = true
			m.history.Add(history.KindConn, "Removed from the session")
			return m, nil
		}
		m.statusBar.Lost = true
		m.history.Add(history.KindConn, "Connection lost, reconnect required")
		if errors.Is(msg.Err, client.ErrNotJoined) {
			// The server dropped us; join again before reconnecting.
			m.joined = false
			return m, m.send(poker.RequestJoin, protocol.Sentinel, "")
		}
		return m, m.ws.Listen(m.ctx)

	case client.UpdateMsg:
		m.applyUpdate(msg.Update)
		return m, m.ws.ReadLoop(m.ctx)
	}

	return m, nil
}

func (m Model) handleRequestDone(msg client.RequestDoneMsg) (tea.Model, tea.Cmd) {
	if msg.RequestType == string(poker.RequestLeave) && m.leaving {
		m.cancel()
		m.ws.Close()
		return m, tea.Quit
	}

	if msg.Err != nil {
		m.lastErr = msg.Err.Error()
		m.history.Add(history.KindError, m.lastErr)
		return m, nil
	}
	m.lastErr = ""

	if msg.RequestType == string(poker.RequestJoin) && !m.joined {
		m.joined = true
		return m, m.ws.Listen(m.ctx)
	}
	return m, nil
}

func (m *Model) applyUpdate(u protocol.ServerUpdate) {
	prev := m.update.Status()
	m.update = u
	m.history.Add(history.KindSession, u.Message)
	if next := u.Status(); next != prev {
		switch next {
		case poker.InProgress:
			m.history.Add(history.KindRound, fmt.Sprintf("round %d", m.history.Rounds()+1))
		case poker.Closed:
			avg, _ := u.Average()
			m.history.Add(history.KindResult, "average "+CardLabel(avg))
		}
	}

	voted := 0
	for _, v := range u.Voters {
		if v.HasVoted {
			voted++
		}
	}
	m.statusBar.Round = u.Status().String()
	m.statusBar.SetCounts(len(u.Voters), voted)

	if m.selectedIdx >= len(u.Voters) {
		m.selectedIdx = max(len(u.Voters)-1, 0)
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.History):
			m.overlay = OverlayNone
		case key.Matches(msg, m.keys.Up):
			m.history.ScrollUp(1)
		case key.Matches(msg, m.keys.Down):
			m.history.ScrollDown(1)
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.leaving || !m.joined {
			m.cancel()
			return m, tea.Quit
		}
		m.leaving = true
		return m, m.send(poker.RequestLeave, protocol.Sentinel, "")

	case key.Matches(msg, m.keys.Card):
		card, _ := cardForKey(msg.String())
		return m, m.send(poker.RequestVote, card, "")

	case key.Matches(msg, m.keys.Start):
		return m, m.send(poker.RequestStartVote, protocol.Sentinel, "")

	case key.Matches(msg, m.keys.End):
		return m, m.send(poker.RequestEndVote, protocol.Sentinel, "")

	case key.Matches(msg, m.keys.Cancel):
		return m, m.send(poker.RequestCancelVote, protocol.Sentinel, "")

	case key.Matches(msg, m.keys.Refresh):
		return m, m.send(poker.RequestRefresh, protocol.Sentinel, "")

	case key.Matches(msg, m.keys.Drop):
		if target, ok := m.selectedVoter(); ok && target != m.voter {
			return m, m.send(poker.RequestDropVoter, protocol.Sentinel, target)
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if n := len(m.update.Voters); n > 0 {
			m.selectedIdx = (m.selectedIdx + 1) % n
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if n := len(m.update.Voters); n > 0 {
			m.selectedIdx = (m.selectedIdx - 1 + n) % n
		}
		return m, nil

	case key.Matches(msg, m.keys.History):
		m.overlay = OverlayHistory
		return m, nil
	}

	return m, nil
}

func (m Model) selectedVoter() (string, bool) {
	if m.selectedIdx < 0 || m.selectedIdx >= len(m.update.Voters) {
		return "", false
	}
	return m.update.Voters[m.selectedIdx].Name, true
}

// send builds a request for this voter and posts it in the background.
func (m *Model) send(t poker.RequestType, vote int, info string) tea.Cmd {
	cr, err := protocol.NewClientRequest(t, m.voter, vote, info)
	if err != nil {
		m.lastErr = err.Error()
		return nil
	}
	return m.http.SendCmd(m.ctx, cr)
}

// myCard returns the card this voter has on the table in the current round.
func (m Model) myCard() (int, bool) {
	for _, v := range m.update.Voters {
		if v.Name == m.voter && v.HasVoted && poker.ValidCard(v.Vote) {
			return v.Vote, true
		}
	}
	return 0, false
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.overlay == OverlayHistory {
		return m.history.View(m.width, m.height)
	}

	sections := []string{
		m.statusBar.View(),
		theme.StyleHeader.Render("  " + m.update.Message),
		m.renderVoters(),
	}
	if avg, ok := m.update.Average(); ok && m.update.Status() == poker.Closed {
		sections = append(sections, theme.StyleHeader.Render("  Average: "+CardLabel(avg)))
	}
	sections = append(sections, m.renderCards())
	if m.lastErr != "" {
		sections = append(sections, theme.StyleError.Render("  "+m.lastErr))
	}
	sections = append(sections,
		theme.StyleDimmed.Render("  0-9/a/b:card  s:start  e:end  c:cancel  r:refresh  j/k:select  x:drop  h:history  q:leave"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderVoters() string {
	if len(m.update.Voters) == 0 {
		return theme.StyleDimmed.Render("  No voters yet")
	}

	revealed := m.update.Status() == poker.Closed
	lines := make([]string, 0, len(m.update.Voters))
	for i, v := range m.update.Voters {
		prefix := "  "
		if i == m.selectedIdx {
			prefix = "> "
		}

		name := v.Name
		if name == m.voter {
			name += " (you)"
		}
		nameStr := fmt.Sprintf("%-24s", name)
		if i == m.selectedIdx {
			nameStr = theme.StyleSelected.Render(nameStr)
		}

		lines = append(lines, prefix+theme.VoterGlyph(v.HasVoted)+" "+nameStr+"  "+m.voteCell(v, revealed))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// voteCell hides other voters' cards until the round is closed.
func (m Model) voteCell(v protocol.VoterUpdate, revealed bool) string {
	switch {
	case !v.HasVoted:
		return theme.StyleDimmed.Render("...")
	case revealed || v.Name == m.voter:
		if !poker.ValidCard(v.Vote) {
			return "voted"
		}
		return lipgloss.NewStyle().Foreground(theme.CardColor(v.Vote)).Render(CardLabel(v.Vote))
	default:
		return "voted"
	}
}

func (m Model) renderCards() string {
	mine, played := m.myCard()
	cards := make([]string, 0, len(CardLabels))
	for i, label := range CardLabels {
		style := theme.StyleCard.Foreground(theme.CardColor(i))
		if played && i == mine {
			style = style.BorderForeground(theme.ColorBright).Bold(true)
		}
		cards = append(cards, style.Render(label))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}
