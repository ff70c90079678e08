package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/five82/printfarm/internal/logging"
	"github.com/five82/printfarm/internal/prefs"
	"github.com/five82/printfarm/internal/state"
	"github.com/five82/printfarm/internal/stream"
	"github.com/five82/printfarm/internal/views"
)

// StreamControl is the part of the push client the dashboard drives.
type StreamControl interface {
	Enable()
	Disable()
	State() stream.State
}

// Refresher fetches one printer on demand.
type Refresher interface {
	RefreshStatus(ctx context.Context, id string) error
	RefreshFilament(ctx context.Context, id string) error
}

// Options configures the UI.
type Options struct {
	Context       context.Context
	Views         views.Set
	Roster        *state.Store
	Stream        StreamControl
	StreamEnabled bool
	Poller        Refresher
	Tick          time.Duration
	ThemeName     string
	ShowTemps     bool
	PrefsPath     string
}

// Model is the root application state for Bubble Tea.
type Model struct {
	// Configuration
	ctx       context.Context
	views     views.Set
	roster    *state.Store
	stream    StreamControl
	poller    Refresher
	watch     *watcher
	keys      keyMap
	prefsPath string
	tick      time.Duration

	// UI state
	theme    Theme
	bar      progress.Model
	width    int
	height   int
	ready    bool
	showHelp bool
	showTemp bool

	// Data state
	snapshot     state.Snapshot
	lastUpdated  time.Time
	selected     int
	streamPaused bool
	notice       string
}

// New creates a new Bubble Tea model.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	tick := opts.Tick
	if tick <= 0 {
		tick = time.Second
	}

	themeName := opts.ThemeName
	if themeName == "" {
		themeName = DefaultThemeName
	}

	prefsPath := opts.PrefsPath
	if prefsPath == "" {
		prefsPath = prefs.DefaultPath()
	}

	theme := GetTheme(themeName)
	return Model{
		ctx:          ctx,
		views:        opts.Views,
		roster:       opts.Roster,
		stream:       opts.Stream,
		poller:       opts.Poller,
		watch:        newWatcher(opts.Views, 0),
		keys:         DefaultKeyMap(),
		prefsPath:    prefsPath,
		tick:         tick,
		theme:        theme,
		bar:          newProgressBar(theme),
		showTemp:     opts.ShowTemps,
		streamPaused: opts.Stream != nil && !opts.StreamEnabled,
	}
}

func newProgressBar(t Theme) progress.Model {
	return progress.New(
		progress.WithSolidFill(t.Accent),
		progress.WithoutPercentage(),
	)
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		tickCmd(m.tick),
		waitForUpdate(m.watch.updates),
	}
	if m.roster != nil {
		cmds = append(cmds, fetchSnapshotCmd(m.roster))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		return m, nil

	case tickMsg:
		cmds := []tea.Cmd{tickCmd(m.tick)}
		if m.roster != nil {
			cmds = append(cmds, fetchSnapshotCmd(m.roster))
		}
		return m, tea.Batch(cmds...)

	case snapshotMsg:
		m.applySnapshot(state.Snapshot(msg))
		return m, nil

	case printerUpdatedMsg:
		m.lastUpdated = time.Now()
		return m, waitForUpdate(m.watch.updates)

	case refreshDoneMsg:
		if msg.err != nil {
			m.notice = "refresh " + msg.id + " failed"
		} else {
			m.notice = "refreshed " + msg.id
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) applySnapshot(snap state.Snapshot) {
	m.snapshot = snap
	ids := make([]string, 0, len(snap.Printers))
	for _, p := range snap.Printers {
		ids = append(ids, p.ID)
	}
	m.watch.Sync(ids)
	m.clampSelection()
}

func (m *Model) clampSelection() {
	n := len(m.snapshot.Printers)
	switch {
	case n == 0:
		m.selected = 0
	case m.selected >= n:
		m.selected = n - 1
	case m.selected < 0:
		m.selected = 0
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}
	return m.renderMain()
}

// handleKey processes keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		// Any key closes help
		m.showHelp = false
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.watch.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true

	case key.Matches(msg, m.keys.CycleTheme):
		m.theme = GetTheme(NextTheme(m.theme.Name))
		m.bar = newProgressBar(m.theme)
		m.savePrefs()

	case key.Matches(msg, m.keys.ToggleTemps):
		m.showTemp = !m.showTemp
		m.savePrefs()

	case key.Matches(msg, m.keys.ToggleStream):
		m.toggleStream()

	case key.Matches(msg, m.keys.Refresh):
		return m, m.refreshSelected()

	case key.Matches(msg, m.keys.Up):
		m.selected--
		m.clampSelection()
	case key.Matches(msg, m.keys.Down):
		m.selected++
		m.clampSelection()
	case key.Matches(msg, m.keys.Top):
		m.selected = 0
	case key.Matches(msg, m.keys.Bottom):
		m.selected = len(m.snapshot.Printers) - 1
		m.clampSelection()
	}

	return m, nil
}

func (m *Model) toggleStream() {
	if m.stream == nil {
		return
	}
	if m.streamPaused {
		m.stream.Enable()
		m.streamPaused = false
		m.notice = "live stream resumed"
		return
	}
	m.stream.Disable()
	m.streamPaused = true
	m.notice = "live stream paused"
}

func (m Model) refreshSelected() tea.Cmd {
	if m.poller == nil || len(m.snapshot.Printers) == 0 {
		return nil
	}
	id := m.snapshot.Printers[m.selected].ID
	ctx, poller := m.ctx, m.poller
	return func() tea.Msg {
		err := poller.RefreshStatus(ctx, id)
		if ferr := poller.RefreshFilament(ctx, id); err == nil {
			err = ferr
		}
		return refreshDoneMsg{id: id, err: err}
	}
}

func (m Model) savePrefs() {
	if m.prefsPath == "" {
		return
	}
	p := prefs.Prefs{Theme: m.theme.Name, ShowTemperatures: m.showTemp}
	if err := prefs.Save(m.prefsPath, p); err != nil {
		logging.Warn().Err(err).Str("path", m.prefsPath).Msg("save prefs")
	}
}

// Messages

type tickMsg time.Time

type snapshotMsg state.Snapshot

type refreshDoneMsg struct {
	id  string
	err error
}

// Commands

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshotCmd(store *state.Store) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(store.Snapshot())
	}
}

// Run starts the Bubble Tea program and blocks until the user quits or ctx
// is cancelled.
func Run(opts Options) error {
	m := New(opts)
	defer m.watch.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(m.ctx))
	_, err := p.Run()
	if err != nil && m.ctx.Err() != nil {
		return nil
	}
	return err
}
