package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// KindStatus is the display state of one resource kind during a refresh.
// Values mirror inventory.Outcome names so the bridge in cmd is a lookup.
type KindStatus string

const (
	StatusPending   KindStatus = "pending"
	StatusRunning   KindStatus = "running"
	StatusCached    KindStatus = "cached"
	StatusRefreshed KindStatus = "refreshed"
	StatusStale     KindStatus = "stale"
	StatusMissing   KindStatus = "missing"
)

// Finished reports whether s is a terminal status.
func (s KindStatus) Finished() bool {
	switch s {
	case StatusCached, StatusRefreshed, StatusStale, StatusMissing:
		return true
	}
	return false
}

// KindState tracks the display state of a single resource kind.
type KindState struct {
	Name     string
	Status   KindStatus
	Records  int
	Failed   int
	Done     int
	Total    int
	Duration time.Duration
	Err      string
}

// StatusUpdateMsg reports a kind starting or finishing.
type StatusUpdateMsg struct {
	Kind     string
	Status   KindStatus
	Progress string // position among kinds, e.g. "2/9"
	Records  int
	Failed   int // detail ids that produced no record
	Duration time.Duration
	Err      string
}

// DetailProgressMsg reports per-item detail fetches within a kind.
type DetailProgressMsg struct {
	Kind  string
	Done  int
	Total int
}

// RefreshDoneMsg signals that every kind has been processed.
type RefreshDoneMsg struct{}

// RefreshErrorMsg signals that the refresh could not run at all.
type RefreshErrorMsg struct {
	Err error
}

func (StatusUpdateMsg) isDisplayEvent()   {}
func (DetailProgressMsg) isDisplayEvent() {}
func (RefreshDoneMsg) isDisplayEvent()    {}
func (RefreshErrorMsg) isDisplayEvent()   {}

type keyMap struct {
	Quit key.Binding
}

// ShortHelp returns the bindings shown in the footer.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Quit}
}

// FullHelp returns the bindings grouped for expanded help.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "abort")),
}

// Model is the Bubble Tea model for refresh progress.
type Model struct {
	kinds      []KindState
	spinner    spinner.Model
	help       help.Model
	done       bool
	aborted    bool
	err        error
	cancelFunc func()
}

// ModelOption configures a Model.
type ModelOption func(*Model)

// WithCancelFunc sets the function called when the user aborts.
func WithCancelFunc(fn func()) ModelOption {
	return func(m *Model) { m.cancelFunc = fn }
}

// NewModel creates a Model listing the given kinds as pending.
func NewModel(kindNames []string, opts ...ModelOption) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot

	kinds := make([]KindState, len(kindNames))
	for i, name := range kindNames {
		kinds[i] = KindState{Name: name, Status: StatusPending}
	}

	m := Model{kinds: kinds, spinner: s, help: help.New()}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Init starts the spinner tick.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StatusUpdateMsg:
		if i := m.index(msg.Kind); i >= 0 {
			k := &m.kinds[i]
			k.Status = msg.Status
			k.Records = msg.Records
			k.Failed = msg.Failed
			k.Err = msg.Err
			if msg.Duration > 0 {
				k.Duration = msg.Duration
			}
		}
		return m, nil

	case DetailProgressMsg:
		if i := m.index(msg.Kind); i >= 0 {
			m.kinds[i].Done = msg.Done
			m.kinds[i].Total = msg.Total
		}
		return m, nil

	case RefreshDoneMsg:
		m.done = true
		return m, tea.Quit

	case RefreshErrorMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.done = true
			m.aborted = true
			if m.cancelFunc != nil {
				m.cancelFunc()
			}
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) index(kind string) int {
	for i := range m.kinds {
		if m.kinds[i].Name == kind {
			return i
		}
	}
	return -1
}

// View renders one line per kind.
func (m Model) View() string {
	var b strings.Builder

	for _, k := range m.kinds {
		fmt.Fprintf(&b, "  %s %s", statusIndicator(k.Status, m.spinner.View()), k.Name)

		switch {
		case k.Status == StatusRunning && k.Total > 0:
			fmt.Fprintf(&b, " (%d/%d)", k.Done, k.Total)
		case k.Status.Finished():
			fmt.Fprintf(&b, " %s, %d records", k.Status, k.Records)
			if k.Failed > 0 {
				fmt.Fprintf(&b, ", %d failed", k.Failed)
			}
		}
		if k.Duration > 0 {
			fmt.Fprintf(&b, " %.1fs", k.Duration.Seconds())
		}
		if k.Err != "" && k.Status.Finished() {
			fmt.Fprintf(&b, "\n      %s", k.Err)
		}
		b.WriteString("\n")
	}

	switch {
	case m.done && m.err != nil:
		fmt.Fprintf(&b, "\n  Error: %s\n", m.err)
	case m.aborted:
		b.WriteString("\n  Aborted\n")
	case !m.done:
		b.WriteString("\n  " + m.help.View(keys) + "\n")
	}

	return b.String()
}

// statusIndicator returns the Unicode indicator for a kind status.
func statusIndicator(status KindStatus, spinnerView string) string {
	switch status {
	case StatusPending:
		return "○"
	case StatusRunning:
		return spinnerView
	case StatusCached, StatusRefreshed:
		return "✓"
	case StatusStale:
		return "!"
	case StatusMissing:
		return "✗"
	default:
		return "?"
	}
}
