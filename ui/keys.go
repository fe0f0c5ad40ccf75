package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Toggle   key.Binding
	Next     key.Binding
	Previous key.Binding
	Forward  key.Binding
	Back     key.Binding
	Speed    key.Binding
	Slower   key.Binding
	Voices   key.Binding
	Retry    key.Binding
	Copy     key.Binding
	Top      key.Binding
	Help     key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Toggle: key.NewBinding(
		key.WithKeys(" ", "enter"),
		key.WithHelp("space", "play/pause"),
	),
	Next: key.NewBinding(
		key.WithKeys("n", "right", "l"),
		key.WithHelp("→/n", "next"),
	),
	Previous: key.NewBinding(
		key.WithKeys("p", "left", "h"),
		key.WithHelp("←/p", "previous"),
	),
	Forward: key.NewBinding(
		key.WithKeys("."),
		key.WithHelp(".", "seek forward"),
	),
	Back: key.NewBinding(
		key.WithKeys(","),
		key.WithHelp(",", "seek back"),
	),
	Speed: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "speed"),
	),
	Slower: key.NewBinding(
		key.WithKeys("S"),
		key.WithHelp("S", "slower"),
	),
	Voices: key.NewBinding(
		key.WithKeys("v"),
		key.WithHelp("v", "voices"),
	),
	Retry: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "retry"),
	),
	Copy: key.NewBinding(
		key.WithKeys("y"),
		key.WithHelp("y", "copy paragraph"),
	),
	Top: key.NewBinding(
		key.WithKeys("g", "home"),
		key.WithHelp("g", "first paragraph"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Next, k.Previous, k.Speed, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Toggle, k.Next, k.Previous, k.Top},
		{k.Forward, k.Back, k.Speed, k.Slower, k.Voices},
		{k.Retry, k.Copy, k.Help, k.Quit},
	}
}
