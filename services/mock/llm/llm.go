// Package llm is an offline generator that answers from scripted lines.
package llm

import (
	"context"
	"strings"

	"debatekit/core"
)

// Config maps a keyword found in the system prompt (usually a display name)
// to the lines that persona cycles through.
type Config struct {
	Lines   map[string][]string `json:"lines"`
	Default []string            `json:"default,omitempty"`
}

var defaultLines = []string{
	"I hear you, but that's not how my users see it.",
	"Honestly? That take is exactly why people are leaving your platform.",
	"Let's look at the numbers before we get emotional.",
}

type MockLLM struct {
	config Config
}

func NewMockLLM(config Config) *MockLLM {
	if len(config.Default) == 0 {
		config.Default = defaultLines
	}
	return &MockLLM{config: config}
}

// Generate picks the persona's script from the system prompt and returns the
// line indexed by how many times that persona has already spoken, so replies
// depend only on the prompt.
func (m *MockLLM) Generate(ctx context.Context, prompt core.LLMContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	system := ""
	spoken := 0
	for _, msg := range prompt.Messages {
		switch msg.Role {
		case core.LLMMessageRoleSystem:
			if system == "" {
				system = msg.Message
			}
		case core.LLMMessageRoleAssistant:
			spoken++
		}
	}

	lines := m.config.Default
	// the persona introduction comes first in the system prompt
	intro, _, _ := strings.Cut(system, "\n")
	// longest keyword wins, ties go to the alphabetically first
	best := ""
	found := false
	for keyword, scripted := range m.config.Lines {
		if len(scripted) == 0 || !strings.Contains(intro, keyword) {
			continue
		}
		if !found || len(keyword) > len(best) || (len(keyword) == len(best) && keyword < best) {
			lines, best, found = scripted, keyword, true
		}
	}
	return lines[spoken%len(lines)], nil
}
