package mention_test

import (
	"testing"

	"github.com/convoq/convoq/internal/mention"
	"github.com/convoq/convoq/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.Bot{
		{ID: "ai", Mention: "ai", DisplayName: "AI", ResponseType: registry.ResponseText, ContextMode: registry.ContextThread},
		{ID: "code", Mention: "code", DisplayName: "Code", ResponseType: registry.ResponseStructured, ContextMode: registry.ContextNone, SchemaID: "code_variants"},
		{ID: "recipe", Mention: "recipe_bot", DisplayName: "Recipe", ResponseType: registry.ResponseText, ContextMode: registry.ContextNone},
	}, nil)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return reg
}

func TestParse(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		wantBots []string
	}{
		{
			name:     "no mentions",
			input:    "just a regular message",
			wantBots: []string{},
		},
		{
			name:     "single mention",
			input:    "design a timer @code",
			wantBots: []string{"code"},
		},
		{
			name:     "mention is case-insensitive",
			input:    "hey @AI what do you think",
			wantBots: []string{"ai"},
		},
		{
			name:     "multiple mentions in order",
			input:    "@ai and @code please help",
			wantBots: []string{"ai", "code"},
		},
		{
			name:     "unknown mention ignored",
			input:    "ping @nobody and @ai",
			wantBots: []string{"ai"},
		},
		{
			name:     "mention with underscore",
			input:    "@recipe_bot pasta",
			wantBots: []string{"recipe"},
		},
		{
			name:     "bare at sign",
			input:    "meet @ 5pm",
			wantBots: []string{},
		},
		{
			name:     "email-like token resolves by word",
			input:    "mail me ai@example.com",
			wantBots: []string{},
		},
	}

	parser := mention.NewParser(newTestRegistry(t))

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			matches := parser.Parse(tc.input)
			if len(matches) != len(tc.wantBots) {
				t.Fatalf("got %d matches, want %d", len(matches), len(tc.wantBots))
			}
			for i, m := range matches {
				if m.Bot.ID != tc.wantBots[i] {
					t.Errorf("match %d: got bot %q, want %q", i, m.Bot.ID, tc.wantBots[i])
				}
				if got := tc.input[m.Start:m.End]; got != m.MentionText {
					t.Errorf("match %d: span %q does not equal mention text %q", i, got, m.MentionText)
				}
			}
		})
	}
}

func TestStrip(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "single mention removed and whitespace collapsed",
			input: "design a timer @code",
			want:  "design a timer",
		},
		{
			name:  "mention in the middle",
			input: "please @ai summarize this",
			want:  "please summarize this",
		},
		{
			name:  "multiple mentions",
			input: "@ai @code build it",
			want:  "build it",
		},
		{
			name:  "no mentions leaves text intact",
			input: "nothing to strip here",
			want:  "nothing to strip here",
		},
	}

	parser := mention.NewParser(newTestRegistry(t))

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			matches := parser.Parse(tc.input)
			if got := mention.Strip(tc.input, matches); got != tc.want {
				t.Errorf("Strip(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
