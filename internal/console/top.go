package console

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/whitf/swarm/internal/discovery"
)

// RefreshInterval is how often TopModel rescans the discovery directory.
const RefreshInterval = time.Second

// DroneItem implements list.Item for one discovered drone.
type DroneItem struct {
	discovery.Endpoint
	now time.Time
}

func (i DroneItem) FilterValue() string { return strconv.Itoa(i.PID) }
func (i DroneItem) Title() string       { return fmt.Sprintf("drone %d", i.PID) }
func (i DroneItem) Description() string {
	return fmt.Sprintf("%s • %s", formatState(i.Alive), humanize.RelTime(i.ModTime, i.now, "ago", "from now"))
}

// TopModel is a live list of the drones found in a discovery directory.
type TopModel struct {
	dir  string
	list list.Model
	err  error

	// scan is replaceable in tests.
	scan func(dir string) ([]discovery.Endpoint, error)
}

type tickMsg time.Time

type endpointsMsg struct {
	endpoints []discovery.Endpoint
	at        time.Time
}

type errMsg struct{ err error }

// NewTopModel creates a model watching dir.
func NewTopModel(dir string) *TopModel {
	delegate := list.NewDefaultDelegate()
	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = "Swarm drones"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle

	return &TopModel{dir: dir, list: l, scan: discovery.List}
}

// Init loads the first snapshot and starts the refresh ticker.
func (m *TopModel) Init() tea.Cmd {
	return tea.Batch(m.refresh(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *TopModel) refresh() tea.Cmd {
	dir, scan := m.dir, m.scan
	return func() tea.Msg {
		endpoints, err := scan(dir)
		if err != nil {
			return errMsg{err}
		}
		return endpointsMsg{endpoints: endpoints, at: time.Now()}
	}
}

// Update handles messages
func (m *TopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())

	case endpointsMsg:
		m.err = nil
		items := make([]list.Item, len(msg.endpoints))
		for i, e := range msg.endpoints {
			items[i] = DroneItem{Endpoint: e, now: msg.at}
		}
		cmd := m.list.SetItems(items)
		return m, cmd

	case errMsg:
		m.err = msg.err
		return m, nil

	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.list.FilterState() != list.Filtering {
				return m, tea.Quit
			}
		case "r":
			return m, m.refresh()
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the drone list
func (m *TopModel) View() string {
	if m.err != nil {
		return abandonedStyle.Render("scan failed: "+m.err.Error()) + "\n"
	}
	return m.list.View()
}

// Items returns the drones currently shown.
func (m *TopModel) Items() []DroneItem {
	var out []DroneItem
	for _, it := range m.list.Items() {
		out = append(out, it.(DroneItem))
	}
	return out
}

// RunTop runs the model full screen until the user quits.
func RunTop(dir string) error {
	p := tea.NewProgram(NewTopModel(dir), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
