package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ProgressOptions configure RunProgress.
type ProgressOptions struct {
	Title  string
	Total  int // expected steps; 0 when unknown
	Theme  Theme
	Output io.Writer
	Input  io.Reader // nil disables keyboard input
}

type stepMsg struct{ label string }

type doneMsg struct{ err error }

var quitKeys = key.NewBinding(
	key.WithKeys("ctrl+c", "q", "esc"),
	key.WithHelp("q", "cancel"),
)

// progressModel shows a spinner with a step counter while work runs.
type progressModel struct {
	spinner spinner.Model
	s       styles
	title   string
	total   int

	completed int
	last      string
	done      bool
	cancelled bool
	err       error

	cancel context.CancelFunc
}

func newProgressModel(opts ProgressOptions, cancel context.CancelFunc) *progressModel {
	s := newStyles(opts.Theme)
	return &progressModel{
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(opts.Theme.Primary)),
		),
		s:      s,
		title:  opts.Title,
		total:  opts.Total,
		cancel: cancel,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, quitKeys) {
			m.cancelled = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		return m, nil

	case stepMsg:
		m.completed++
		m.last = msg.label
		return m, nil

	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(m.s.title.Render(m.title))
	if m.total > 0 {
		b.WriteString(m.s.dim.Render(fmt.Sprintf(" %d/%d", m.completed, m.total)))
	} else if m.completed > 0 {
		b.WriteString(m.s.dim.Render(fmt.Sprintf(" %d done", m.completed)))
	}
	if m.last != "" {
		b.WriteString(m.s.dim.Render(" · " + truncate(m.last, 60)))
	}
	b.WriteString("\n")
	return b.String()
}

// RunProgress runs work while showing a spinner on opts.Output. work
// reports each finished step through step. Cancelling from the keyboard
// cancels the context passed to work; RunProgress always waits for work
// to return.
func RunProgress[T any](ctx context.Context, opts ProgressOptions, work func(ctx context.Context, step func(label string)) (T, error)) (T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	m := newProgressModel(opts, cancel)
	p := tea.NewProgram(m,
		tea.WithOutput(opts.Output),
		tea.WithInput(opts.Input),
		tea.WithoutSignalHandler(),
	)

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := work(ctx, func(label string) { p.Send(stepMsg{label: label}) })
		done <- outcome{v: v, err: err}
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
	}
	out := <-done
	return out.v, out.err
}
