// Package tui provides a live terminal dashboard.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/speedtest"
)

// Backend is the part of the engine the dashboard reads from.
type Backend interface {
	NetworkInfo(ctx context.Context) (*model.NetworkInfo, error)
	RunSpeedTest(ctx context.Context, obs speedtest.Observer) (*model.SpeedResult, error)
	TrafficRecords() []model.TrafficRecord
	TrafficStatus() model.TrafficStatus
	StartTrafficMonitoring(ctx context.Context)
	StopTrafficMonitoring()
}

// App is the main TUI application.
type App struct {
	backend Backend
	refresh time.Duration
}

// NewApp creates a dashboard over backend. refresh is how often the
// traffic table is redrawn.
func NewApp(backend Backend, refresh time.Duration) *App {
	if refresh <= 0 {
		refresh = time.Second
	}
	return &App{backend: backend, refresh: refresh}
}

// Run starts traffic monitoring and blocks until the user quits.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.backend.StartTrafficMonitoring(ctx)
	defer a.backend.StopTrafficMonitoring()

	p := tea.NewProgram(newAppModel(ctx, a.backend, a.refresh), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

const (
	focusTraffic = iota
	focusDevices
)

type appModel struct {
	ctx     context.Context
	backend Backend
	refresh time.Duration

	spinner spinner.Model
	traffic table.Model
	devices table.Model
	focus   int

	info     *model.NetworkInfo
	infoErr  error
	loading  bool
	status   model.TrafficStatus
	records  []model.TrafficRecord
	lastDraw time.Time

	speed speedState

	width  int
	height int
}

// speedState tracks the speed test started from the dashboard.
type speedState struct {
	running bool
	phase   model.SpeedPhase
	mbps    float64
	peak    float64
	result  *model.SpeedResult
	err     error
	ch      <-chan tea.Msg
}

func newAppModel(ctx context.Context, backend Backend, refresh time.Duration) appModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(Primary)

	traffic := table.New(
		table.WithColumns(trafficColumns),
		table.WithFocused(true),
		table.WithHeight(10),
		table.WithStyles(tableStyles()),
	)
	devices := table.New(
		table.WithColumns(deviceColumns),
		table.WithHeight(8),
		table.WithStyles(tableStyles()),
	)

	return appModel{
		ctx:     ctx,
		backend: backend,
		refresh: refresh,
		spinner: s,
		traffic: traffic,
		devices: devices,
		loading: true,
		speed:   speedState{phase: model.PhaseIdle},
	}
}

// Messages
type infoMsg struct {
	info *model.NetworkInfo
	err  error
}

type tickMsg time.Time

type speedEventMsg struct {
	event model.SpeedEvent
}

type speedDoneMsg struct {
	result *model.SpeedResult
	err    error
}

// Init initializes the model.
func (m appModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		loadInfo(m.ctx, m.backend),
		tick(m.refresh),
	)
}

// Update handles messages.
func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if m.loading {
				return m, nil
			}
			m.loading = true
			return m, loadInfo(m.ctx, m.backend)
		case "s":
			return m.startSpeedTest()
		case "tab":
			m.toggleFocus()
			return m, nil
		}
		var cmd tea.Cmd
		if m.focus == focusDevices {
			m.devices, cmd = m.devices.Update(msg)
		} else {
			m.traffic, cmd = m.traffic.Update(msg)
		}
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()

	case infoMsg:
		m.loading = false
		m.infoErr = msg.err
		if msg.err == nil {
			m.info = msg.info
			m.devices.SetRows(deviceRows(msg.info.Devices))
		}
		m.pullTraffic()

	case tickMsg:
		m.pullTraffic()
		return m, tick(m.refresh)

	case speedEventMsg:
		m.applySpeedEvent(msg.event)
		return m, waitSpeed(m.speed.ch)

	case speedDoneMsg:
		m.speed.running = false
		m.speed.ch = nil
		m.speed.err = msg.err
		if msg.err == nil {
			m.speed.result = msg.result
			m.speed.phase = model.PhaseDone
		} else {
			m.speed.phase = model.PhaseError
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *appModel) toggleFocus() {
	if m.focus == focusTraffic {
		m.focus = focusDevices
		m.traffic.Blur()
		m.devices.Focus()
		return
	}
	m.focus = focusTraffic
	m.devices.Blur()
	m.traffic.Focus()
}

// resize gives the traffic table the larger share of the free rows.
func (m *appModel) resize() {
	free := m.height - 16
	if free < 6 {
		free = 6
	}
	m.traffic.SetHeight(free * 3 / 5)
	m.devices.SetHeight(free - free*3/5)
}

func (m *appModel) pullTraffic() {
	m.status = m.backend.TrafficStatus()
	m.records = m.backend.TrafficRecords()
	m.traffic.SetRows(trafficRows(m.records))
	m.lastDraw = time.Now()
}

func (m *appModel) applySpeedEvent(ev model.SpeedEvent) {
	if !ev.Sample {
		if ev.Phase != m.speed.phase {
			m.speed.mbps = 0
			m.speed.peak = 0
		}
		m.speed.phase = ev.Phase
		return
	}
	m.speed.mbps = ev.Mbps
	if ev.Mbps > m.speed.peak {
		m.speed.peak = ev.Mbps
	}
}

func (m appModel) startSpeedTest() (tea.Model, tea.Cmd) {
	if m.speed.running {
		return m, nil
	}
	ch := make(chan tea.Msg, 32)
	m.speed = speedState{running: true, phase: model.PhaseIdle, ch: ch}

	ctx, backend := m.ctx, m.backend
	go func() {
		defer close(ch)
		result, err := backend.RunSpeedTest(ctx, func(ev model.SpeedEvent) {
			if ev.Sample {
				// Samples may be dropped when the UI falls behind.
				select {
				case ch <- speedEventMsg{event: ev}:
				default:
				}
				return
			}
			select {
			case ch <- speedEventMsg{event: ev}:
			case <-ctx.Done():
			}
		})
		select {
		case ch <- speedDoneMsg{result: result, err: err}:
		case <-ctx.Done():
		}
	}()

	return m, waitSpeed(ch)
}

func waitSpeed(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func loadInfo(ctx context.Context, backend Backend) tea.Cmd {
	return func() tea.Msg {
		info, err := backend.NetworkInfo(ctx)
		return infoMsg{info: info, err: err}
	}
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
