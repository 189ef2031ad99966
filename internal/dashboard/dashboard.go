// Package dashboard renders a live terminal view of the queue and workers.
// It only reads: counts come from the queue, worker state from the scheduler.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ChuLiYu/workhorse/internal/queue"
	"github.com/ChuLiYu/workhorse/pkg/types"
)

// RefreshInterval bounds how often queue changes are redrawn.
const RefreshInterval = 100 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	busyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("245"))
)

// Source is the part of the queue the dashboard watches.
type Source interface {
	GetTaskCounts() map[string]int
	GetInProgressTasks() int
	Subscribe(fn func()) queue.SubscriptionID
	Unsubscribe(id queue.SubscriptionID)
}

// Options wires the dashboard to the rest of the process.
type Options struct {
	Title   string
	Config  []string                    // summary lines shown in the header box
	State   func() string               // scheduler state; optional
	Workers func() []types.WorkerStatus // optional
	OnQuit  func()                      // called once when the user presses q
}

type tickMsg time.Time

// Model is the bubbletea model.
type Model struct {
	src   Source
	opts  Options
	dirty *atomic.Bool

	counts     map[string]int
	inProgress int
	workers    []types.WorkerStatus
	state      string
	quitting   bool
}

// NewModel returns a model with an initial reading of src.
func NewModel(src Source, opts Options) Model {
	if opts.Title == "" {
		opts.Title = "workhorse"
	}
	m := Model{src: src, opts: opts, dirty: &atomic.Bool{}}
	m.refresh()
	return m
}

// MarkDirty flags the view for redraw on the next tick. It is the queue
// subscription callback.
func (m Model) MarkDirty() {
	m.dirty.Store(true)
}

func (m *Model) refresh() {
	m.counts = m.src.GetTaskCounts()
	m.inProgress = m.src.GetInProgressTasks()
	if m.opts.Workers != nil {
		m.workers = m.opts.Workers()
	}
	if m.opts.State != nil {
		m.state = m.opts.State()
	}
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if !m.quitting {
				m.quitting = true
				if m.opts.OnQuit != nil {
					m.opts.OnQuit()
				}
			}
			return m, tea.Quit
		}

	case tickMsg:
		if m.dirty.Swap(false) {
			m.refresh()
		}
		return m, tick()
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	header := titleStyle.Render(m.opts.Title)
	if m.state != "" {
		header += dimStyle.Render("  state: " + m.state)
	}

	sections := []string{header}
	if len(m.opts.Config) > 0 {
		sections = append(sections, boxStyle.Render(strings.Join(m.opts.Config, "\n")))
	}
	sections = append(sections, boxStyle.Render(m.queueTable()))
	if len(m.workers) > 0 {
		sections = append(sections, boxStyle.Render(m.workerTable()))
	}

	footer := "press q to quit"
	if m.quitting {
		footer = "quitting, waiting for running tasks..."
	}
	sections = append(sections, dimStyle.Render(footer))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) queueTable() string {
	names := make([]string, 0, len(m.counts))
	for name := range m.counts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-12s %8s", "capability", "pending")))
	for _, name := range names {
		fmt.Fprintf(&b, "\n%-12s %8d", name, m.counts[name])
	}
	fmt.Fprintf(&b, "\n%-12s %8d", "in progress", m.inProgress)
	return b.String()
}

func (m Model) workerTable() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-4s %-14s %-8s %-6s %9s %6s", "id", "capabilities", "active", "state", "processed", "failed")))
	for _, w := range m.workers {
		state := "busy"
		if w.Idle {
			state = "idle"
		}
		active := w.Active
		if active == "" {
			active = "-"
		}
		row := fmt.Sprintf("%-4d %-14s %-8s %-6s %9d %6d",
			w.ID, strings.Join(w.Capabilities, ","), active, state, w.Processed, w.Failed)
		if !w.Idle {
			row = busyStyle.Render(row)
		}
		b.WriteString("\n" + row)
	}
	return b.String()
}

// Run shows the dashboard until the user quits or ctx is done.
func Run(ctx context.Context, src Source, opts Options, progOpts ...tea.ProgramOption) error {
	m := NewModel(src, opts)
	id := src.Subscribe(m.MarkDirty)
	defer src.Unsubscribe(id)

	progOpts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, progOpts...)
	_, err := tea.NewProgram(m, progOpts...).Run()
	if err != nil && ctx.Err() != nil {
		// cancelled by the caller
		return nil
	}
	return err
}
