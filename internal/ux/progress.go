package ux

import (
	"io"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"nku/internal/cycle"
)

// EventMsg carries a cycle event into the progress view.
type EventMsg cycle.Event

// DoneMsg ends the progress view.
type DoneMsg struct{}

var stateLabels = map[cycle.State]string{
	cycle.StateIdle:           "Preparing",
	cycle.StateLoadingModel:   "Loading model",
	cycle.StateTranslatingIn:  "Translating symptoms",
	cycle.StateReasoning:      "Reasoning",
	cycle.StateTranslatingOut: "Translating result",
	cycle.StateComplete:       "Done",
	cycle.StateError:          "Falling back to rule-based screening",
}

// ProgressModel follows one inference cycle: a spinner with the current
// stage, and a progress bar while the model loads.
type ProgressModel struct {
	styles  Styles
	spinner spinner.Model
	bar     progress.Model

	state   cycle.State
	percent float64
	done    bool
}

func NewProgressModel(styles Styles) ProgressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40

	return ProgressModel{
		styles:  styles,
		spinner: sp,
		bar:     bar,
		state:   cycle.StateIdle,
	}
}

// State returns the last stage the view saw.
func (m ProgressModel) State() cycle.State { return m.state }

// Percent returns the last load progress the view saw.
func (m ProgressModel) Percent() float64 { return m.percent }

func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case EventMsg:
		e := cycle.Event(msg)
		if e.IsProgress() {
			m.percent = e.Progress
		} else {
			m.state = e.To
		}
		return m, nil

	case DoneMsg:
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-30, 10), 60)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m ProgressModel) View() string {
	if m.done {
		return ""
	}
	label := stateLabels[m.state]
	if label == "" {
		label = string(m.state)
	}
	line := m.spinner.View() + m.styles.Status.Render(label)
	if m.state == cycle.StateLoadingModel {
		line += "  " + m.bar.ViewAs(m.percent)
	}
	return line + "\n"
}

// Observable is satisfied by *cycle.Cycle.
type Observable interface {
	Subscribe(fn func(cycle.Event)) (unsubscribe func())
}

// Follow runs fn while a progress view on out follows src's events. It
// returns once fn has returned, even if the view was closed early.
func Follow(out io.Writer, src Observable, styles Styles, fn func()) error {
	p := tea.NewProgram(NewProgressModel(styles), tea.WithOutput(out))
	unsubscribe := src.Subscribe(func(e cycle.Event) {
		p.Send(EventMsg(e))
	})
	defer unsubscribe()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer p.Send(DoneMsg{})
		fn()
	}()

	_, err := p.Run()
	<-finished
	return err
}
