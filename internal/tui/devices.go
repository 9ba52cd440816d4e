// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"

	"headset/internal/audio"

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

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#767676"))
)

// ScreenType defines which screen is currently active
type ScreenType int

const (
	ListScreen ScreenType = iota
	ConfigScreen
)

// Selection is the device assignment chosen in the device list. IDs are -1
// when the role was left on the system default.
type Selection struct {
	InputDevice  int
	OutputDevice int
	SampleRate   float64
	Confirmed    bool
}

// role is one line of the configuration screen.
type role int

const (
	roleInput role = iota
	roleOutput
	roleSampleRate
	roleSave
	numRoles
)

var keys = struct {
	quit, up, down, enter, back, toggle key.Binding
}{
	quit:   key.NewBinding(key.WithKeys("q", "ctrl+c")),
	up:     key.NewBinding(key.WithKeys("up", "k")),
	down:   key.NewBinding(key.WithKeys("down", "j")),
	enter:  key.NewBinding(key.WithKeys("enter")),
	back:   key.NewBinding(key.WithKeys("esc")),
	toggle: key.NewBinding(key.WithKeys(" ", "left", "right", "h", "l")),
}

// DeviceListModel represents the Bubble Tea model for choosing the fixture
// audio interface.
type DeviceListModel struct {
	fetch         func() ([]audio.Device, error)
	devices       []audio.Device
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error
	activeScreen  ScreenType

	// Configuration options
	roleIndex            role
	selection            Selection
	availableSampleRates []float64
	sampleRateIndex      int
}

// Init initializes the Bubble Tea model
func (m DeviceListModel) Init() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		devices, err := fetch()
		if err != nil {
			return errMsg{err}
		}
		return devicesMsg{devices}
	}
}

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
			m.refresh()
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}

	case devicesMsg:
		m.devices = msg.devices
		m.refresh()

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		if key.Matches(msg, keys.quit) {
			return m, tea.Quit
		}

		if m.activeScreen == ListScreen {
			switch {
			case key.Matches(msg, keys.up):
				if m.selectedIndex > 0 {
					m.selectedIndex--
				}
			case key.Matches(msg, keys.down):
				if m.selectedIndex < len(m.devices)-1 {
					m.selectedIndex++
				}
			case key.Matches(msg, keys.enter):
				if len(m.devices) > 0 {
					m.openConfig()
				}
			}
		} else {
			switch {
			case key.Matches(msg, keys.back):
				m.activeScreen = ListScreen
			case key.Matches(msg, keys.up):
				if m.roleIndex > 0 {
					m.roleIndex--
				}
			case key.Matches(msg, keys.down):
				if m.roleIndex < numRoles-1 {
					m.roleIndex++
				}
			case key.Matches(msg, keys.toggle):
				m.toggleRole()
			case key.Matches(msg, keys.enter):
				if m.roleIndex == roleSave {
					m.selection.Confirmed = true
					return m, tea.Quit
				}
				m.toggleRole()
			}
		}
		m.refresh()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// Selection returns the assignment made so far.
func (m DeviceListModel) Selection() Selection {
	return m.selection
}

func (m *DeviceListModel) openConfig() {
	m.activeScreen = ConfigScreen
	m.roleIndex = roleInput

	device := m.devices[m.selectedIndex]
	m.availableSampleRates = []float64{44100, 48000, 88200, 96000}
	m.sampleRateIndex = 0
	for i, rate := range m.availableSampleRates {
		if rate == m.selection.SampleRate {
			m.sampleRateIndex = i
			break
		}
	}
	m.selection.SampleRate = m.availableSampleRates[m.sampleRateIndex]
	if device.Suitable() && m.selection.InputDevice < 0 && m.selection.OutputDevice < 0 {
		m.selection.InputDevice = device.ID
		m.selection.OutputDevice = device.ID
	}
}

func (m *DeviceListModel) toggleRole() {
	device := m.devices[m.selectedIndex]
	switch m.roleIndex {
	case roleInput:
		if m.selection.InputDevice == device.ID {
			m.selection.InputDevice = -1
		} else if device.MaxInputChannels > 0 {
			m.selection.InputDevice = device.ID
		}
	case roleOutput:
		if m.selection.OutputDevice == device.ID {
			m.selection.OutputDevice = -1
		} else if device.MaxOutputChannels > 0 {
			m.selection.OutputDevice = device.ID
		}
	case roleSampleRate:
		m.sampleRateIndex = (m.sampleRateIndex + 1) % len(m.availableSampleRates)
		m.selection.SampleRate = m.availableSampleRates[m.sampleRateIndex]
	}
}

func (m *DeviceListModel) refresh() {
	if !m.ready {
		return
	}
	if m.activeScreen == ListScreen {
		m.viewport.SetContent(m.renderDevices())
	} else {
		m.viewport.SetContent(m.renderDeviceConfig())
	}
}

// View renders the UI
func (m DeviceListModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to exit.", m.err)
	}

	var title, help string

	if m.activeScreen == ListScreen {
		title = titleStyle.Render("Fixture Audio Interface")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Assign • q: Quit")
	} else {
		title = titleStyle.Render("Device Assignment")
		help = infoStyle.Render("↑/↓: Select • Space: Change • Enter: Save • Esc: Back • q: Quit")
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

// renderDevices formats the device list
func (m DeviceListModel) renderDevices() string {
	var sb strings.Builder

	if len(m.devices) == 0 {
		return "No audio devices found."
	}

	for i, device := range m.devices {
		mark := ""
		if device.Suitable() {
			mark = " ✔ 4 in / 4 out"
		}

		deviceInfo := fmt.Sprintf("[%d] %s (%s)%s\n", device.ID, device.Name, device.Kind(), mark)
		deviceInfo += fmt.Sprintf("    Input channels: %d, Output channels: %d\n",
			device.MaxInputChannels, device.MaxOutputChannels)
		deviceInfo += fmt.Sprintf("    Default sample rate: %.0f Hz\n",
			device.DefaultSampleRate)

		switch {
		case i == m.selectedIndex:
			deviceInfo = highlightStyle.Render(deviceInfo)
		case !device.Suitable():
			deviceInfo = dimStyle.Render(deviceInfo)
		}

		sb.WriteString(deviceInfo)
		sb.WriteString("\n")
	}

	return sb.String()
}

// renderDeviceConfig formats the device assignment screen
func (m DeviceListModel) renderDeviceConfig() string {
	var sb strings.Builder
	device := m.devices[m.selectedIndex]

	sb.WriteString(fmt.Sprintf("Assign Device: %s\n\n", device.Name))

	lines := [numRoles]string{
		fmt.Sprintf("Microphones (input):  %s", deviceLabel(m.selection.InputDevice)),
		fmt.Sprintf("Speakers (output):    %s", deviceLabel(m.selection.OutputDevice)),
		fmt.Sprintf("Sample rate:          %.0f Hz", m.selection.SampleRate),
		"Save and exit",
	}
	for i, line := range lines {
		cursor := " "
		if role(i) == m.roleIndex {
			cursor = "▶"
		}
		line = fmt.Sprintf("  %s %s\n", cursor, line)
		if role(i) == m.roleIndex {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
	}

	if !device.Suitable() {
		sb.WriteString("\n")
		sb.WriteString(dimStyle.Render("This device cannot carry all four microphones and outputs on one stream."))
	}

	return sb.String()
}

func deviceLabel(id int) string {
	if id < 0 {
		return "system default"
	}
	return fmt.Sprintf("device %d", id)
}

// NewDeviceListModel creates a new device list model listing the devices
// returned by fetch.
func NewDeviceListModel(fetch func() ([]audio.Device, error)) DeviceListModel {
	return DeviceListModel{
		fetch:         fetch,
		selectedIndex: 0,
		activeScreen:  ListScreen,
		selection:     Selection{InputDevice: -1, OutputDevice: -1, SampleRate: 44100},
	}
}

// StartDeviceListUI launches the Bubble Tea TUI for assigning devices.
func StartDeviceListUI() (Selection, error) {
	p := tea.NewProgram(
		NewDeviceListModel(audio.GetDevices),
		tea.WithAltScreen(),
	)
	final, err := p.Run()
	if err != nil {
		return Selection{}, err
	}
	return final.(DeviceListModel).Selection(), nil
}
