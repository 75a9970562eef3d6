// Package prompt turns an unbounded turn history into a single prompt string
// that fits a word budget.
//
// The budget is measured in whitespace-delimited words, an approximation of
// model tokens. A real tokenizer can be plugged in through Counter; the walk
// (newest turn first, stop at the first turn that does not fit) stays the same.
package prompt

import (
	"strings"

	"github.com/zhouzirui/chat-relay/internal/model/chat"
)

// Cue is appended after the history so the model continues as the assistant.
const Cue = "Assistant: "

// DefaultBudget is the history word budget used when none is configured.
const DefaultBudget = 3000

// Counter measures the size of one rendered prompt line.
type Counter func(line string) int

// WordCount counts whitespace-delimited words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// RenderLine renders one turn as "<Label>: <content>\n".
func RenderLine(role chat.Role, content string) string {
	return role.Label() + ": " + content + "\n"
}

// Plan is the outcome of fitting a history into the budget.
type Plan struct {
	// PersonaLine is the rendered system line, empty when no persona is set.
	PersonaLine string
	// Lines holds the included history lines, oldest first.
	Lines []string
	// Dropped counts the older turns left out of the prompt.
	Dropped int
	// Words is the size of Lines according to the builder's Counter.
	Words int
	// PersonaWords is the size of PersonaLine.
	PersonaWords int
	// PersonaOverBudget is set when the persona alone exceeds the budget.
	PersonaOverBudget bool
}

// Included returns the number of history turns in the prompt.
func (p Plan) Included() int {
	return len(p.Lines)
}

// String renders the plan as the final prompt.
func (p Plan) String() string {
	var builder strings.Builder
	builder.WriteString(p.PersonaLine)
	for _, line := range p.Lines {
		builder.WriteString(line)
	}
	builder.WriteString(Cue)
	return builder.String()
}

// Builder assembles prompts with a fixed budget and persona.
type Builder struct {
	budget  int
	persona string
	count   Counter
}

// NewBuilder returns a Builder. A nil counter falls back to WordCount.
func NewBuilder(budget int, persona string, counter Counter) *Builder {
	if counter == nil {
		counter = WordCount
	}
	return &Builder{
		budget:  budget,
		persona: strings.TrimSpace(persona),
		count:   counter,
	}
}

// Budget returns the configured history budget.
func (b *Builder) Budget() int {
	return b.budget
}

// Persona returns the system preamble, empty when none is configured.
func (b *Builder) Persona() string {
	return b.persona
}

// Plan walks history from the newest turn backwards and keeps the longest
// contiguous suffix whose rendered size stays within the budget. The persona
// line is always kept and does not consume the history budget.
func (b *Builder) Plan(history []chat.Turn) Plan {
	var plan Plan

	if b.persona != "" {
		plan.PersonaLine = RenderLine(chat.RoleSystem, b.persona)
		plan.PersonaWords = b.count(plan.PersonaLine)
		plan.PersonaOverBudget = plan.PersonaWords > b.budget
	}

	if b.budget <= 0 {
		plan.Dropped = len(history)
		return plan
	}

	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		line := RenderLine(history[i].Role, history[i].Content)
		words := b.count(line)
		if plan.Words+words > b.budget {
			break
		}
		plan.Words += words
		start = i
	}

	plan.Dropped = start
	plan.Lines = make([]string, 0, len(history)-start)
	for _, turn := range history[start:] {
		plan.Lines = append(plan.Lines, RenderLine(turn.Role, turn.Content))
	}
	return plan
}

// Build renders the prompt for history.
func (b *Builder) Build(history []chat.Turn) string {
	return b.Plan(history).String()
}

// Build is a convenience wrapper around a one-off Builder using WordCount.
func Build(history []chat.Turn, budget int, persona string) string {
	return NewBuilder(budget, persona, nil).Build(history)
}
