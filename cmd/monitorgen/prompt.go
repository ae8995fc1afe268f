package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"monitorgen/internal/policy"
)

// question asks for the policy of one API.
type question struct {
	key     string
	prompt  string
	current policy.Policy
}

// promptModel is a bubbletea model that asks one question at a time.
// An answer must be empty or name a policy.
type promptModel struct {
	questions []question
	idx       int
	inputs    []textinput.Model
	invalid   string
	done      bool
}

func newPromptModel(questions []question) promptModel {
	inputs := make([]textinput.Model, len(questions))
	for i, q := range questions {
		ti := textinput.New()
		ti.Placeholder = q.current.String()
		ti.CharLimit = 16
		inputs[i] = ti
	}
	m := promptModel{
		questions: questions,
		inputs:    inputs,
	}
	if len(inputs) > 0 {
		m.inputs[0].Focus()
	}
	return m
}

func (m promptModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if v := strings.TrimSpace(m.inputs[m.idx].Value()); v != "" {
				if _, err := policy.Parse(v); err != nil {
					m.invalid = v
					return m, nil
				}
			}
			m.invalid = ""
			if m.idx < len(m.inputs)-1 {
				m.inputs[m.idx].Blur()
				m.idx++
				m.inputs[m.idx].Focus()
				return m, textinput.Blink
			}
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.inputs[m.idx], cmd = m.inputs[m.idx].Update(msg)
	return m, cmd
}

func (m promptModel) View() string {
	if m.done || len(m.questions) == 0 {
		return ""
	}
	q := m.questions[m.idx]
	var b strings.Builder
	fmt.Fprintf(&b, "[%d/%d] %s %v: %s\n", m.idx+1, len(m.questions), q.prompt, policy.Values(), m.inputs[m.idx].View())
	if m.invalid != "" {
		fmt.Fprintf(&b, "  %q is not a policy\n", m.invalid)
	}
	return b.String()
}

// answers returns the trimmed answer to every question.
func (m promptModel) answers() []string {
	out := make([]string, len(m.inputs))
	for i, in := range m.inputs {
		out[i] = strings.TrimSpace(in.Value())
	}
	return out
}

// promptQuestions runs the TUI and returns one answer per question.
func promptQuestions(questions []question) ([]string, error) {
	if len(questions) == 0 {
		return nil, nil
	}
	p := tea.NewProgram(newPromptModel(questions))
	result, err := p.Run()
	if err != nil {
		return nil, err
	}
	final, ok := result.(promptModel)
	if !ok || !final.done {
		return nil, fmt.Errorf("prompt cancelled")
	}
	return final.answers(), nil
}
