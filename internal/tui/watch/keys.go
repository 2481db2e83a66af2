package watch

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the watch TUI key bindings.
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "reload history"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func helpLine(k KeyMap) string {
	var s string
	for i, b := range []key.Binding{k.Quit, k.Up, k.Down, k.Refresh} {
		if i > 0 {
			s += " • "
		}
		h := b.Help()
		s += "[" + h.Key + "] " + h.Desc
	}
	return " " + s
}
