package ui

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// ErrPromptCancelled is returned when the user aborts a prompt
var ErrPromptCancelled = errors.New("prompt cancelled")

type promptModel struct {
	input     textinput.Model
	label     string
	submitted bool
	cancelled bool
}

func newPromptModel(label string, secret bool) promptModel {
	in := textinput.New()
	in.Prompt = ""
	in.Focus()
	if secret {
		in.EchoMode = textinput.EchoPassword
		in.EchoCharacter = '•'
	}
	return promptModel{input: in, label: label}
}

func (m promptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.submitted = true
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m promptModel) View() string {
	if m.submitted || m.cancelled {
		return ""
	}
	return HighlightStyle.Render(m.label+": ") + m.input.View() + "\n"
}

// Prompt reads one line from the terminal. With secret set the input is masked.
func Prompt(label string, secret bool) (string, error) {
	final, err := tea.NewProgram(newPromptModel(label, secret)).Run()
	if err != nil {
		return "", err
	}
	m := final.(promptModel)
	if m.cancelled {
		return "", ErrPromptCancelled
	}
	return m.input.Value(), nil
}

var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// Table renders rows under headers with the package styles
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Headers(headers...).
		Rows(rows...).
		Border(lipgloss.NormalBorder()).
		BorderStyle(MutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return HighlightStyle.Padding(0, 1)
			}
			return cellStyle
		})
	return strings.TrimRight(t.Render(), "\n") + "\n"
}
