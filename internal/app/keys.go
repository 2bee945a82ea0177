package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the TUI.
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Card    key.Binding
	Start   key.Binding
	End     key.Binding
	Cancel  key.Binding
	Refresh key.Binding
	Drop    key.Binding
	History key.Binding
	Escape  key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "prev voter"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "next voter"),
		),
		Card: key.NewBinding(
			key.WithKeys("0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "a", "b"),
			key.WithHelp("0-9/a/b", "play card"),
		),
		Start: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "start vote"),
		),
		End: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "end vote"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "cancel vote"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Drop: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "drop voter"),
		),
		History: key.NewBinding(
			key.WithKeys("h"),
			key.WithHelp("h", "history"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "close overlay"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "leave"),
		),
	}
}

// cardForKey maps a Card key to its card index: digits are cards 0-9, a and
// b are 10 and 11.
func cardForKey(k string) (int, bool) {
	switch {
	case len(k) == 1 && k[0] >= '0' && k[0] <= '9':
		return int(k[0] - '0'), true
	case k == "a":
		return 10, true
	case k == "b":
		return 11, true
	}
	return 0, false
}
