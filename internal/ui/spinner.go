package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// doneMsg ends the spinner program with the operation's result.
type doneMsg struct {
	err error
}

type spinnerModel struct {
	spinner spinner.Model
	step    string
	err     error
	done    bool
}

func newSpinnerModel(message string) spinnerModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(InfoColor))
	return spinnerModel{spinner: s, step: message}
}

func (m spinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case doneMsg:
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
}

func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s %s", m.spinner.View(), m.step)
}

// WithSpinner runs op while a spinner with message is drawn on w. In plain
// mode op runs without a spinner.
func WithSpinner(w io.Writer, message string, op func() error) error {
	if Plain {
		return op()
	}

	program := tea.NewProgram(newSpinnerModel(message), tea.WithOutput(w), tea.WithInput(nil))
	go func() {
		program.Send(doneMsg{err: op()})
	}()

	model, err := program.Run()
	if err != nil {
		return err
	}

	final, ok := model.(spinnerModel)
	if !ok {
		return fmt.Errorf("program finished with invalid model")
	}
	return final.err
}
