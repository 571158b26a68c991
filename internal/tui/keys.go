package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up, Down      key.Binding
	Mute, Solo    key.Binding
	Monitor, Rec  key.Binding
	GainUp        key.Binding
	GainDown      key.Binding
	PanLeft       key.Binding
	PanRight      key.Binding
	Transport     key.Binding
	Add, Remove   key.Binding
	Save          key.Binding
	Devices       key.Binding
	SetIn, SetOut key.Binding
	Back          key.Binding
	Quit          key.Binding
}

var keys = keyMap{
	Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Mute:      key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "mute")),
	Solo:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "solo")),
	Monitor:   key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "monitor")),
	Rec:       key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "record")),
	GainUp:    key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+/-", "gain")),
	GainDown:  key.NewBinding(key.WithKeys("-")),
	PanLeft:   key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/→", "pan")),
	PanRight:  key.NewBinding(key.WithKeys("right", "l")),
	Transport: key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "start/stop")),
	Add:       key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add input")),
	Remove:    key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "remove")),
	Save:      key.NewBinding(key.WithKeys("w"), key.WithHelp("w", "save")),
	Devices:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "devices")),
	SetIn:     key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "use as input")),
	SetOut:    key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "use as output")),
	Back:      key.NewBinding(key.WithKeys("esc", "tab"), key.WithHelp("esc", "back")),
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

func (k keyMap) mixerHelp() []key.Binding {
	return []key.Binding{k.Up, k.Mute, k.Solo, k.Monitor, k.Rec, k.GainUp, k.PanLeft, k.Transport, k.Add, k.Remove, k.Save, k.Devices, k.Quit}
}

func (k keyMap) deviceHelp() []key.Binding {
	return []key.Binding{k.Up, k.SetIn, k.SetOut, k.Back, k.Quit}
}
