// Package mention scans message text for @word bot triggers and resolves
// them against a bot registry. Parsing is pure: no side effects, no log
// writes, no invocation creation.
package mention

import (
	"regexp"
	"sort"
	"strings"

	"github.com/convoq/convoq/internal/registry"
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// Match is one resolved @mention inside a message.
type Match struct {
	Bot         registry.Bot
	MentionText string // the matched span including the leading @
	Start       int    // byte offset of the @
	End         int    // byte offset one past the mention word
}

// Parser resolves mention tokens against a registry snapshot.
type Parser struct {
	bots registry.Provider
}

// NewParser creates a parser bound to the given registry.
func NewParser(bots registry.Provider) *Parser {
	return &Parser{bots: bots}
}

// Parse finds all non-overlapping @word tokens in text and returns a match
// for each token that resolves to a registered bot, in order of appearance.
// Unresolvable tokens are ignored. No matches yields an empty slice.
func (p *Parser) Parse(text string) []Match {
	matches := []Match{}
	for _, loc := range mentionPattern.FindAllStringSubmatchIndex(text, -1) {
		word := text[loc[2]:loc[3]]
		bot, ok := p.bots.Resolve(word)
		if !ok {
			continue
		}
		matches = append(matches, Match{
			Bot:         bot,
			MentionText: text[loc[0]:loc[1]],
			Start:       loc[0],
			End:         loc[1],
		})
	}
	return matches
}

// Strip removes the matched mention spans from text and collapses the
// surrounding whitespace. Spans are removed highest index first so earlier
// offsets stay valid while editing.
func Strip(text string, matches []Match) string {
	spans := append([]Match(nil), matches...)
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start > spans[j].Start })

	for _, m := range spans {
		if m.Start < 0 || m.End > len(text) || m.Start >= m.End {
			continue
		}
		text = text[:m.Start] + text[m.End:]
	}

	return strings.Join(strings.Fields(text), " ")
}
