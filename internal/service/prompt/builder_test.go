package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/zhouzirui/chat-relay/internal/model/chat"
)

func turns(pairs ...string) []chat.Turn {
	history := make([]chat.Turn, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		history = append(history, chat.Turn{Role: chat.Role(pairs[i]), Content: pairs[i+1]})
	}
	return history
}

func TestBuildSingleTurnNoPersona(t *testing.T) {
	got := Build(turns("user", "hi"), 3000, "")
	want := "User: hi\nAssistant: "
	if got != want {
		t.Fatalf("Build() = %q, want %q", got, want)
	}
}

func TestBuildEmptyHistory(t *testing.T) {
	if got := Build(nil, 3000, ""); got != Cue {
		t.Fatalf("Build(nil) = %q, want %q", got, Cue)
	}

	got := Build(nil, 3000, "Be brief.")
	want := "System: Be brief.\nAssistant: "
	if got != want {
		t.Fatalf("Build(nil, persona) = %q, want %q", got, want)
	}
}

func TestBuildNonPositiveBudget(t *testing.T) {
	history := turns("user", "hi", "assistant", "hello")

	for _, budget := range []int{0, -5} {
		if got := Build(history, budget, ""); got != Cue {
			t.Fatalf("budget %d: Build() = %q, want %q", budget, got, Cue)
		}
		got := Build(history, budget, "Persona")
		if got != "System: Persona\nAssistant: " {
			t.Fatalf("budget %d: Build() with persona = %q", budget, got)
		}
	}
}

func TestBuildIncludesEverythingWithinBudget(t *testing.T) {
	history := turns(
		"user", "what is go",
		"assistant", "a language",
		"user", "thanks",
	)

	got := Build(history, 3000, "")
	want := "User: what is go\nAssistant: a language\nUser: thanks\nAssistant: "
	if got != want {
		t.Fatalf("Build() = %q, want %q", got, want)
	}
}

func TestBuildDropsOldestFirst(t *testing.T) {
	// Rendered sizes: "User: one two three" = 4, "Assistant: four five" = 3,
	// "User: six" = 2.
	history := turns(
		"user", "one two three",
		"assistant", "four five",
		"user", "six",
	)

	tests := []struct {
		budget int
		want   string
	}{
		{budget: 9, want: "User: one two three\nAssistant: four five\nUser: six\nAssistant: "},
		{budget: 8, want: "Assistant: four five\nUser: six\nAssistant: "},
		{budget: 5, want: "Assistant: four five\nUser: six\nAssistant: "},
		{budget: 4, want: "User: six\nAssistant: "},
		{budget: 2, want: "User: six\nAssistant: "},
		{budget: 1, want: "Assistant: "},
	}

	for _, tt := range tests {
		if got := Build(history, tt.budget, ""); got != tt.want {
			t.Errorf("budget %d: Build() = %q, want %q", tt.budget, got, tt.want)
		}
	}
}

func TestBuildStopsAtFirstTurnThatDoesNotFit(t *testing.T) {
	// The middle turn is too large; the older short turn must not be pulled in
	// past it, otherwise the suffix would not be contiguous.
	history := turns(
		"user", "short",
		"assistant", strings.Repeat("word ", 20),
		"user", "latest",
	)

	got := Build(history, 5, "")
	want := "User: latest\nAssistant: "
	if got != want {
		t.Fatalf("Build() = %q, want %q", got, want)
	}
}

func TestBuildPersonaAlwaysIncluded(t *testing.T) {
	persona := strings.TrimSpace(strings.Repeat("rule ", 10))
	history := turns("user", "hi")

	b := NewBuilder(3, persona, nil)
	plan := b.Plan(history)

	if !plan.PersonaOverBudget {
		t.Fatal("expected persona to be reported over budget")
	}
	if plan.Included() != 1 {
		t.Fatalf("persona must not consume history budget, included %d", plan.Included())
	}

	got := plan.String()
	want := "System: " + persona + "\nUser: hi\nAssistant: "
	if got != want {
		t.Fatalf("Plan().String() = %q, want %q", got, want)
	}
}

func TestPlanNeverExceedsBudget(t *testing.T) {
	history := make([]chat.Turn, 0, 40)
	for i := 0; i < 40; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		history = append(history, chat.Turn{Role: role, Content: strings.Repeat(fmt.Sprintf("w%d ", i), i%7+1)})
	}

	for budget := 0; budget < 120; budget++ {
		plan := NewBuilder(budget, "", nil).Plan(history)
		if plan.Words > budget && budget > 0 {
			t.Fatalf("budget %d exceeded: %d words", budget, plan.Words)
		}

		counted := 0
		for _, line := range plan.Lines {
			counted += WordCount(line)
		}
		if counted != plan.Words {
			t.Fatalf("budget %d: Words=%d but lines count %d", budget, plan.Words, counted)
		}

		if plan.Dropped+plan.Included() != len(history) {
			t.Fatalf("budget %d: dropped %d + included %d != %d", budget, plan.Dropped, plan.Included(), len(history))
		}

		// Maximality: the next older turn would not have fit.
		if plan.Dropped > 0 && budget > 0 {
			next := history[plan.Dropped-1]
			if plan.Words+WordCount(RenderLine(next.Role, next.Content)) <= budget {
				t.Fatalf("budget %d: turn %d would still fit", budget, plan.Dropped-1)
			}
		}

		for i, line := range plan.Lines {
			turn := history[plan.Dropped+i]
			if line != RenderLine(turn.Role, turn.Content) {
				t.Fatalf("budget %d: line %d out of order: %q", budget, i, line)
			}
		}
	}
}

func TestBuilderCustomCounter(t *testing.T) {
	// Count characters instead of words.
	b := NewBuilder(12, "", func(line string) int { return len(line) })
	history := turns("user", "aaaa", "user", "bbbb")

	plan := b.Plan(history)
	if plan.Included() != 1 || plan.Lines[0] != "User: bbbb\n" {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestRenderLineLabels(t *testing.T) {
	cases := map[chat.Role]string{
		chat.RoleUser:      "User: x\n",
		chat.RoleAssistant: "Assistant: x\n",
		chat.RoleSystem:    "System: x\n",
	}
	for role, want := range cases {
		if got := RenderLine(role, "x"); got != want {
			t.Errorf("RenderLine(%s) = %q, want %q", role, got, want)
		}
	}
}
