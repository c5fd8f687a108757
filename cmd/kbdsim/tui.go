package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tuffrabit/tinygo-midikbd/pkg/keystate"
)

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#555"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#fff"))
	cursorStyle = lipgloss.NewStyle().Reverse(true)
	onStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5f5"))
	offStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#f55"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888"))
	typedStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444")).
			Padding(0, 1)
)

// typedWidth is how much of the host text buffer is shown.
const typedWidth = 60

type tickMsg time.Time

type model struct {
	sim      *Sim
	period   time.Duration
	midiName string
	last     keystate.Result
	program  uint8
	quitting bool
}

func newModel(sim *Sim, period time.Duration, midiName string) model {
	return model{sim: sim, period: period, midiName: midiName}
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tick(m.period)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case " ":
			m.sim.Press()

		case "p":
			m.sim.ProgramChange(0, m.program)
			m.program = (m.program + 1) & 0x7F

		case "c", "b", "h":
			m.sim.Toggle(rune(msg.String()[0]))

		case "d":
			m.sim.TogglePolicy()

		case "v":
			m.sim.Drain(50)
		}

	case tickMsg:
		if res := m.sim.Tick(); res != keystate.ResultNone {
			m.last = res
		}
		return m, tick(m.period)
	}

	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	snap := m.sim.Keys.Snapshot()

	title := activeStyle.Render("midikbd simulator")

	typed := m.sim.Typed()
	if r := []rune(typed); len(r) > typedWidth {
		typed = string(r[len(r)-typedWidth:])
	}
	host := typedStyle.Render(typed + cursorStyle.Render(" "))

	state := fmt.Sprintf("state %-8s cursor %2d/%-2d last %-9s",
		snap.State, snap.Cursor, snap.BannerLen, m.last)
	if snap.Deferred {
		state += activeStyle.Render(" deferred")
	}

	link := strings.Join([]string{
		flag("connected", m.sim.Link.connected.Load()),
		flag("bonded", m.sim.Link.bonded.Load()),
		flag("hid", m.sim.Link.hid.Load()),
	}, "  ")

	btn := m.sim.Button.Stats()
	dec := m.sim.Decoder.Stats()
	counters := statusStyle.Render(fmt.Sprintf(
		"button %d/%d edges  midi %d msgs %d dropped  keys %d emitted %d coalesced %d deferred %d dropped",
		btn.Triggers, btn.Edges, dec.Messages, dec.Discarded,
		snap.Emitted, snap.Coalesced, snap.Deferrals, snap.Dropped))

	policy := "defer"
	if m.sim.Policy() == keystate.DropReleased {
		policy = "drop"
	}
	misc := statusStyle.Render(fmt.Sprintf("policy %s  battery %d%% (%d sent)  watchdog %d  midi in %s",
		policy, m.sim.Battery.Level(), m.sim.Battery.Sent(), m.sim.Watchdog(), m.midiIn()))

	help := dimStyle.Render("space:press  p:program change  c/b/h:link  d:policy  v:drain  q:quit")

	return fmt.Sprintf("\n%s\n%s\n%s\n%s\n%s\n%s\n\n%s\n", title, host, state, link, counters, misc, help)
}

func (m model) midiIn() string {
	if m.midiName == "" {
		return "-"
	}
	return m.midiName
}

func flag(name string, on bool) string {
	if on {
		return onStyle.Render("+" + name)
	}
	return offStyle.Render("-" + name)
}
