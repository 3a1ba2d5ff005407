package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/edgecache/memhost"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// maxLog is how many command results the console keeps on screen.
const maxLog = 12

type logLine struct {
	cmd    string
	output string
	err    error
}

type interactiveModel struct {
	console *console
	listen  string
	input   textinput.Model
	log     []logLine
	history []string
	histIdx int
}

type execResultMsg struct {
	line logLine
}

func newInteractiveModel(host *memhost.Host, listen string) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "help"
	ti.Prompt = promptStyle.Render("edge> ")
	ti.Width = 60
	ti.Focus()
	return &interactiveModel{console: newConsole(host), listen: listen, input: ti}
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) exec(line string) tea.Cmd {
	return func() tea.Msg {
		out, err := m.console.exec(line)
		return execResultMsg{line: logLine{cmd: line, output: out, err: err}}
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			switch line {
			case "":
				return m, nil
			case "quit", "exit":
				return m, tea.Quit
			}
			m.history = append(m.history, line)
			m.histIdx = len(m.history)
			return m, m.exec(line)

		case "up":
			if m.histIdx > 0 {
				m.histIdx--
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			}
			return m, nil

		case "down":
			if m.histIdx < len(m.history)-1 {
				m.histIdx++
				m.input.SetValue(m.history[m.histIdx])
				m.input.CursorEnd()
			} else {
				m.histIdx = len(m.history)
				m.input.Reset()
			}
			return m, nil
		}

	case execResultMsg:
		m.log = append(m.log, msg.line)
		if len(m.log) > maxLog {
			m.log = m.log[len(m.log)-maxLog:]
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Edge Cache"))
	b.WriteString(" ")
	b.WriteString(fmt.Sprintf("serving on %s", m.listen))
	b.WriteString("\n\n")

	for _, l := range m.log {
		b.WriteString(promptStyle.Render("> " + l.cmd))
		b.WriteString("\n")
		if l.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", l.err)))
		} else if l.output != "" {
			b.WriteString(resultStyle.Render(l.output))
		}
		b.WriteString("\n\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("enter run • ↑/↓ history • help commands • esc quit"))
	return b.String()
}

func runInteractive(host *memhost.Host, listen string) error {
	p := tea.NewProgram(newInteractiveModel(host, listen), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
