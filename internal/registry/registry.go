// Package registry holds bot configurations and resolves mention words to bots.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ResponseType selects which handler processes a bot's output.
type ResponseType string

const (
	ResponseText          ResponseType = "text"
	ResponseStructured    ResponseType = "structured"
	ResponseExternalAgent ResponseType = "external-agent"
)

// ContextMode controls how much surrounding conversation a bot receives.
type ContextMode string

const (
	ContextNone   ContextMode = "none"
	ContextThread ContextMode = "thread"
	ContextFull   ContextMode = "full"
)

// Bot describes one invocable bot. Immutable once registered.
type Bot struct {
	ID                 string
	Mention            string
	DisplayName        string
	ResponseType       ResponseType
	ContextMode        ContextMode
	MaxContextMessages int
	SchemaID           string
}

// Validate checks that a bot configuration is internally consistent.
// knownSchema reports whether a schema id is recognized; it may be nil to
// skip schema resolution.
func (b Bot) Validate(knownSchema func(string) bool) error {
	if b.ID == "" {
		return fmt.Errorf("bot has empty id")
	}
	if b.Mention == "" {
		return fmt.Errorf("bot %q has empty mention", b.ID)
	}
	if strings.ContainsFunc(b.Mention, func(r rune) bool {
		return !isWordRune(r)
	}) {
		return fmt.Errorf("bot %q mention %q contains non-word characters", b.ID, b.Mention)
	}
	switch b.ResponseType {
	case ResponseText, ResponseExternalAgent:
	case ResponseStructured:
		if b.SchemaID == "" {
			return fmt.Errorf("structured bot %q requires a schema id", b.ID)
		}
		if knownSchema != nil && !knownSchema(b.SchemaID) {
			return fmt.Errorf("structured bot %q references unknown schema %q", b.ID, b.SchemaID)
		}
	default:
		return fmt.Errorf("bot %q has invalid response type %q", b.ID, b.ResponseType)
	}
	switch b.ContextMode {
	case ContextNone, ContextThread, ContextFull:
	default:
		return fmt.Errorf("bot %q has invalid context mode %q", b.ID, b.ContextMode)
	}
	return nil
}

func isWordRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// Provider supplies a snapshot of the currently registered bots. Callers
// receive a copy; mutating it does not affect the registry.
type Provider interface {
	Snapshot() []Bot
	Resolve(mention string) (Bot, bool)
}

// Registry merges a static built-in bot list with bots added at runtime.
// Built-in mentions are reserved: a dynamic bot may not shadow them.
type Registry struct {
	mu      sync.RWMutex
	static  []Bot
	dynamic []Bot
}

// New creates a registry seeded with the given built-in bots. Each bot is
// validated; duplicate mentions among the built-ins are rejected.
func New(builtins []Bot, knownSchema func(string) bool) (*Registry, error) {
	seen := make(map[string]struct{}, len(builtins))
	for _, b := range builtins {
		if err := b.Validate(knownSchema); err != nil {
			return nil, err
		}
		key := strings.ToLower(b.Mention)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate built-in mention %q", b.Mention)
		}
		seen[key] = struct{}{}
	}
	return &Registry{static: append([]Bot(nil), builtins...)}, nil
}

// Add registers a runtime bot. It fails if the mention collides with a
// built-in or an already-registered dynamic bot (case-insensitive).
func (r *Registry) Add(b Bot, knownSchema func(string) bool) error {
	if err := b.Validate(knownSchema); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(b.Mention)
	for _, existing := range r.static {
		if strings.ToLower(existing.Mention) == key {
			return fmt.Errorf("mention %q is reserved by built-in bot %q", b.Mention, existing.ID)
		}
	}
	for _, existing := range r.dynamic {
		if strings.ToLower(existing.Mention) == key {
			return fmt.Errorf("mention %q is already registered by bot %q", b.Mention, existing.ID)
		}
	}

	r.dynamic = append(r.dynamic, b)
	return nil
}

// Snapshot returns all registered bots, built-ins first, sorted by mention
// within each group.
func (r *Registry) Snapshot() []Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Bot, 0, len(r.static)+len(r.dynamic))
	out = append(out, r.static...)
	out = append(out, r.dynamic...)
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Mention) < strings.ToLower(out[j].Mention)
	})
	return out
}

// Resolve finds a bot by its mention word using case-insensitive exact match.
func (r *Registry) Resolve(mention string) (Bot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := strings.ToLower(mention)
	for _, b := range r.static {
		if strings.ToLower(b.Mention) == key {
			return b, true
		}
	}
	for _, b := range r.dynamic {
		if strings.ToLower(b.Mention) == key {
			return b, true
		}
	}
	return Bot{}, false
}
