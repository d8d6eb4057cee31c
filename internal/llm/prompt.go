package llm

import (
	"strings"

	"github.com/loqalabs/loqa-vtuber/internal/config"
)

const brevityInstruction = "Remember to be concise and natural in your responses. " +
	"Aim to complete your thoughts within 1-2 sentences while maintaining " +
	"your characteristic wit and intelligence. "

// PromptBuilder assembles the system prompt from the character sheet. Traits
// and guidelines are rendered in the order they are configured.
type PromptBuilder struct {
	character config.CharacterConfig
}

func NewPromptBuilder(character config.CharacterConfig) *PromptBuilder {
	return &PromptBuilder{character: character}
}

// System returns the enhanced system prompt for one user message.
func (p *PromptBuilder) System(userMessage string) string {
	var b strings.Builder
	b.WriteString(p.character.SystemPrompt)
	b.WriteString("\n\n")

	b.WriteString("Your personality traits:\n")
	for _, trait := range p.character.Traits {
		b.WriteString("- ")
		b.WriteString(trait.Name)
		b.WriteString(": ")
		b.WriteString(trait.Description)
		b.WriteString("\n")
	}

	b.WriteString("\nResponse handling guidelines:\n")
	for _, g := range p.character.Guidelines {
		b.WriteString("- For ")
		b.WriteString(g.Situation)
		b.WriteString(": ")
		b.WriteString(g.Description)
		b.WriteString("\n  Example: ")
		b.WriteString(g.Example)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(brevityInstruction)
	b.WriteString("User message: ")
	b.WriteString(userMessage)
	return b.String()
}

// Messages returns the conversation sent for one user message.
func (p *PromptBuilder) Messages(userMessage string) []Message {
	return []Message{
		{Role: RoleSystem, Content: p.System(userMessage)},
		{Role: RoleUser, Content: userMessage},
	}
}
