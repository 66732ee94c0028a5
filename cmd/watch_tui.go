package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/mattsolo1/tuxplan/pkg/orchestration"
	"github.com/muesli/termenv"
	"golang.org/x/sync/errgroup"
)

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	watchMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	watchPassStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	watchWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	watchFailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	watchBusyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

// Message types
type watchEventMsg orchestration.Event
type watchFinishedMsg struct{ err error }

type watchRow struct {
	kind   orchestration.UnitKind
	uid    string
	label  string
	state  string
	result string
}

func (r watchRow) terminal() bool {
	if r.kind == orchestration.UnitBuild {
		return orchestration.IsTerminalBuildState(r.state)
	}
	return orchestration.IsTerminalTestState(r.state)
}

// watchModel renders one line per build and test, updated as events
// arrive from the watcher goroutine.
type watchModel struct {
	planUID string
	rows    []watchRow
	index   map[string]int
	spinner spinner.Model
	events  int
	done    bool
	err     error
	width   int
}

func newWatchModel(plan *orchestration.Plan) watchModel {
	m := watchModel{
		planUID: plan.UID,
		index:   make(map[string]int),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(watchBusyStyle)),
	}
	for _, us := range plan.States(&orchestration.Snapshot{}) {
		m.index[us.UID] = len(m.rows)
		m.rows = append(m.rows, watchRow{kind: us.Kind, uid: us.UID, label: us.Label})
	}
	return m
}

func (m watchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case watchEventMsg:
		ev := orchestration.Event(msg)
		if i, ok := m.index[ev.UID()]; ok {
			m.rows[i].state = ev.State
			m.rows[i].result = ev.Result
		}
		m.events++
	case watchFinishedMsg:
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

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(watchTitleStyle.Render("Plan " + m.planUID))
	b.WriteString("\n\n")

	finished := 0
	for _, r := range m.rows {
		marker := m.spinner.View()
		if r.terminal() {
			marker = " "
			finished++
		} else if r.state == "" {
			marker = watchMutedStyle.Render("·")
		}
		line := fmt.Sprintf("%s %-5s %-28s %-40s %s", marker, r.kind, r.uid, r.label, renderState(r))
		if m.width > 0 {
			line = lipgloss.NewStyle().MaxWidth(m.width).Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	status := fmt.Sprintf("%d/%d finished, %d events", finished, len(m.rows), m.events)
	if m.err != nil {
		status += " " + watchFailStyle.Render(m.err.Error())
	}
	b.WriteString(watchMutedStyle.Render(status + "  (q to stop watching)"))
	b.WriteString("\n")
	return b.String()
}

func renderState(r watchRow) string {
	shown := r.state
	if r.kind == orchestration.UnitTest && orchestration.IsTerminalTestState(r.state) && r.result != "" {
		shown = r.result
	}
	switch shown {
	case "":
		return watchMutedStyle.Render("pending")
	case orchestration.StatePass:
		return watchPassStyle.Render(shown)
	case orchestration.StateWarning, orchestration.StateCanceled:
		return watchWarnStyle.Render(shown)
	case orchestration.StateFail, orchestration.StateError:
		return watchFailStyle.Render(shown)
	}
	return watchBusyStyle.Render(shown)
}

// runWatchTUI drives w from a goroutine and renders its events until the
// plan finishes or the user quits. Quitting stops the watcher without an
// error.
func runWatchTUI(ctx context.Context, plan *orchestration.Plan, w *orchestration.Watcher) error {
	if color.NoColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(newWatchModel(plan), tea.WithContext(ctx))
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		for ev, evErr := range w.Events(gctx) {
			if evErr != nil {
				err = evErr
				break
			}
			program.Send(watchEventMsg(ev))
		}
		program.Send(watchFinishedMsg{err: err})
		return err
	})
	g.Go(func() error {
		_, err := program.Run()
		cancel()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// The view was closed before the plan finished.
		return nil
	}
	if err != nil {
		return fmt.Errorf("watch plan: %w", err)
	}
	return nil
}
