// Package tui is the terminal front end of the mixer. It only talks to the
// project through the Commands interface.
package tui

import (
	"fmt"
	"strings"
	"time"

	"trackmix/internal/audio"
	"trackmix/internal/config"
	"trackmix/internal/project"
	"trackmix/internal/track"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#767676"))
)

// Commands is the subset of the project the terminal drives.
type Commands interface {
	ListTracks() ([]track.Info, error)
	UpdateTrack(name string, u track.Update) error
	AddTrack(name string, spec project.SourceSpec) (string, error)
	RemoveTrack(name string) error
	StartStream() error
	StopStream() error
	SaveProject(dir string) error
	ListDevices() []audio.Device
	Devices() (input, output int)
	SetInputDevice(id int) error
	SetOutputDevice(id int) error
}

// ScreenType defines which screen is currently active
type ScreenType int

const (
	MixerScreen ScreenType = iota
	DeviceScreen
)

const (
	refreshInterval = 100 * time.Millisecond
	gainStep        = 0.1
	panStep         = 0.1
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// MixerModel is the Bubble Tea model for the mixer.
type MixerModel struct {
	cmds       Commands
	projectDir string

	tracks    []track.Info
	selected  int
	devices   []audio.Device
	device    int
	streaming bool

	activeScreen ScreenType
	viewport     viewport.Model
	help         help.Model
	ready        bool
	status       string
	err          error
}

// NewMixerModel creates the model. Saves go to projectDir, or the current
// directory when it is empty.
func NewMixerModel(cmds Commands, projectDir string) MixerModel {
	if projectDir == "" {
		projectDir = "."
	}
	m := MixerModel{
		cmds:       cmds,
		projectDir: projectDir,
		devices:    cmds.ListDevices(),
		help:       help.New(),
	}
	m.refresh()
	return m
}

// Init starts the refresh ticker.
func (m MixerModel) Init() tea.Cmd {
	return tick()
}

func (m *MixerModel) refresh() {
	tracks, err := m.cmds.ListTracks()
	if err != nil {
		m.err = err
		return
	}
	m.tracks = tracks
	m.selected = max(0, min(m.selected, len(tracks)-1))
	for _, t := range tracks {
		if t.Kind == track.MasterOutput {
			m.streaming = t.Streaming
		}
	}
}

// run executes a command and records its outcome on the status line.
func (m *MixerModel) run(ok string, err error) {
	if err != nil {
		m.err = err
		m.status = ""
	} else {
		m.err = nil
		m.status = ok
	}
	m.refresh()
}

func (m MixerModel) current() (track.Info, bool) {
	if m.selected < 0 || m.selected >= len(m.tracks) {
		return track.Info{}, false
	}
	return m.tracks[m.selected], true
}

func (m *MixerModel) update(u track.Update) {
	t, ok := m.current()
	if !ok {
		return
	}
	m.run(fmt.Sprintf("%s: %s", t.Name, u), m.cmds.UpdateTrack(t.Name, u))
}

func (m MixerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-5)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 5
		}
		m.help.Width = msg.Width

	case tickMsg:
		m.refresh()
		cmds = append(cmds, tick())

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}
		if m.activeScreen == MixerScreen {
			m.mixerKey(msg)
		} else {
			m.deviceKey(msg)
		}
	}

	if m.ready {
		m.viewport.SetContent(m.render())
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *MixerModel) mixerKey(msg tea.KeyMsg) {
	t, _ := m.current()

	switch {
	case key.Matches(msg, keys.Up):
		if m.selected > 0 {
			m.selected--
		}
	case key.Matches(msg, keys.Down):
		if m.selected < len(m.tracks)-1 {
			m.selected++
		}
	case key.Matches(msg, keys.Mute):
		m.update(track.Mute(!t.Mute))
	case key.Matches(msg, keys.Solo):
		m.update(track.Solo(!t.Solo))
	case key.Matches(msg, keys.Monitor):
		m.update(track.Monitor(!t.Monitor))
	case key.Matches(msg, keys.Rec):
		m.update(track.Record(!t.Record))
	case key.Matches(msg, keys.GainUp):
		m.update(track.Gain(t.Gain + gainStep))
	case key.Matches(msg, keys.GainDown):
		m.update(track.Gain(max(0, t.Gain-gainStep)))
	case key.Matches(msg, keys.PanLeft):
		m.update(track.Pan(t.Pan - panStep))
	case key.Matches(msg, keys.PanRight):
		m.update(track.Pan(t.Pan + panStep))
	case key.Matches(msg, keys.Transport):
		if m.streaming {
			m.run("stopped", m.cmds.StopStream())
		} else {
			m.run("streaming", m.cmds.StartStream())
		}
	case key.Matches(msg, keys.Add):
		name, err := m.cmds.AddTrack("", project.DeviceSource(config.MinDeviceID))
		m.run("added "+name, err)
	case key.Matches(msg, keys.Remove):
		if t.Name != "" {
			m.run("removed "+t.Name, m.cmds.RemoveTrack(t.Name))
		}
	case key.Matches(msg, keys.Save):
		m.run("saved to "+m.projectDir, m.cmds.SaveProject(m.projectDir))
	case key.Matches(msg, keys.Devices):
		m.activeScreen = DeviceScreen
		m.device, _ = m.cmds.Devices()
		m.device = max(0, m.device)
	}
}

func (m *MixerModel) deviceKey(msg tea.KeyMsg) {
	switch {
	case key.Matches(msg, keys.Back):
		m.activeScreen = MixerScreen
	case key.Matches(msg, keys.Up):
		if m.device > 0 {
			m.device--
		}
	case key.Matches(msg, keys.Down):
		if m.device < len(m.devices)-1 {
			m.device++
		}
	case key.Matches(msg, keys.SetIn):
		if m.device < len(m.devices) {
			m.run("input: "+m.devices[m.device].Name, m.cmds.SetInputDevice(m.device))
		}
	case key.Matches(msg, keys.SetOut):
		if m.device < len(m.devices) {
			m.run("output: "+m.devices[m.device].Name, m.cmds.SetOutputDevice(m.device))
		}
	}
}

// View renders the UI
func (m MixerModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var title, helpView string
	if m.activeScreen == MixerScreen {
		state := "stopped"
		if m.streaming {
			state = "streaming"
		}
		title = titleStyle.Render("Mixer") + " " + infoStyle.Render(state)
		helpView = m.help.ShortHelpView(keys.mixerHelp())
	} else {
		title = titleStyle.Render("Audio Devices")
		helpView = m.help.ShortHelpView(keys.deviceHelp())
	}

	status := infoStyle.Render(m.status)
	if m.err != nil {
		status = errorStyle.Render("Error: " + m.err.Error())
	}
	return fmt.Sprintf("%s\n\n%s\n%s\n%s", title, m.viewport.View(), status, helpView)
}

func (m MixerModel) render() string {
	if m.activeScreen == DeviceScreen {
		return m.renderDevices()
	}
	return m.renderTracks()
}

func (m MixerModel) renderTracks() string {
	if len(m.tracks) == 0 {
		return "No tracks."
	}

	var sb strings.Builder
	for i, t := range m.tracks {
		line := fmt.Sprintf("%-16s %5.2f %s %s  %s",
			t.Name, t.Gain, panMeter(t.Pan), flags(t), t.Origin)
		switch {
		case i == m.selected:
			line = highlightStyle.Render("▶ " + line)
		case t.Offline && t.Kind == track.Input:
			line = dimStyle.Render("  " + line + " (offline)")
		default:
			line = "  " + line
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

// panMeter draws pan as a nine cell bar with the centre at the middle.
func panMeter(pan float32) string {
	const cells = 9
	pos := int((pan+1)/2*(cells-1) + 0.5)
	pos = max(0, min(cells-1, pos))
	b := []byte(strings.Repeat("-", cells))
	b[pos] = '|'
	return "L" + string(b) + "R"
}

func flags(t track.Info) string {
	f := []byte("----")
	if t.Mute {
		f[0] = 'M'
	}
	if t.Solo {
		f[1] = 'S'
	}
	if t.Monitor {
		f[2] = 'I'
	}
	if t.Record {
		f[3] = 'R'
	}
	return string(f)
}

// renderDevices formats the device list
func (m MixerModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No audio devices found."
	}

	in, out := m.cmds.Devices()
	var sb strings.Builder
	for i, device := range m.devices {
		var marks []string
		if device.ID == in {
			marks = append(marks, "input")
		}
		if device.ID == out {
			marks = append(marks, "output")
		}

		deviceInfo := fmt.Sprintf("[%d] %s (%s)", device.ID, device.Name, device.Type())
		if len(marks) > 0 {
			deviceInfo += " *" + strings.Join(marks, ", ")
		}
		deviceInfo += fmt.Sprintf("\n    Input channels: %d, Output channels: %d\n",
			device.MaxInputChannels, device.MaxOutputChannels)
		deviceInfo += fmt.Sprintf("    Default sample rate: %.0f Hz\n",
			device.DefaultSampleRate)

		if i == m.device {
			deviceInfo = highlightStyle.Render(deviceInfo)
		}

		sb.WriteString(deviceInfo)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Run launches the mixer UI and blocks until the user quits.
func Run(cmds Commands, projectDir string) error {
	p := tea.NewProgram(
		NewMixerModel(cmds, projectDir),
		tea.WithAltScreen(),
	)
	_, err := p.Run()
	return err
}
