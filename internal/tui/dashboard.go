package tui

import (
	"context"
	"errors"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/teamlead/internal/notify"
)

// EventMsg wraps a hub notification for the bubbletea loop.
type EventMsg struct {
	Event notify.Event
}

// closedMsg signals that the subscription ended.
type closedMsg struct{}

// Dashboard is the bubbletea model. It is read-only: everything it shows
// arrives through hub events.
type Dashboard struct {
	events <-chan notify.Event
	state  *state

	spinner  spinner.Model
	viewport viewport.Model
	ready    bool
	width    int
	height   int
	closed   bool
}

// NewDashboard creates a dashboard fed by events. A nil channel renders an
// empty dashboard, which is useful in tests.
func NewDashboard(events <-chan notify.Event) *Dashboard {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = runningStyle
	return &Dashboard{
		events:  events,
		state:   newState(),
		spinner: sp,
	}
}

// Init starts the spinner and the event pump.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.spinner.Tick, d.wait())
}

func (d *Dashboard) wait() tea.Cmd {
	if d.events == nil {
		return nil
	}
	events := d.events
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return EventMsg{Event: e}
	}
}

// Update handles keys, resizes and hub events.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return d, tea.Quit
		}
		var cmd tea.Cmd
		d.viewport, cmd = d.viewport.Update(msg)
		return d, cmd

	case tea.WindowSizeMsg:
		d.width, d.height = msg.Width, msg.Height
		bodyHeight := msg.Height - lipglossHeight(d.headerView()) - 1
		if bodyHeight < 1 {
			bodyHeight = 1
		}
		if !d.ready {
			d.viewport = viewport.New(msg.Width, bodyHeight)
			d.ready = true
		} else {
			d.viewport.Width = msg.Width
			d.viewport.Height = bodyHeight
		}
		d.refresh()
		return d, nil

	case EventMsg:
		d.state.apply(msg.Event)
		d.refresh()
		return d, d.wait()

	case closedMsg:
		d.closed = true
		d.refresh()
		return d, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spinner, cmd = d.spinner.Update(msg)
		d.refresh()
		return d, cmd
	}
	return d, nil
}

func (d *Dashboard) refresh() {
	if d.ready {
		d.viewport.SetContent(d.bodyView())
	}
}

// View renders the dashboard.
func (d *Dashboard) View() string {
	if !d.ready {
		return d.headerView() + "\n" + d.bodyView()
	}
	return d.headerView() + "\n" + d.viewport.View() + "\n" + d.footerView()
}

// Run shows the dashboard until the user quits or ctx ends.
func Run(ctx context.Context, events <-chan notify.Event) error {
	p := tea.NewProgram(NewDashboard(events), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
