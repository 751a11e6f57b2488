// Package policy holds the per-category rate limit rules and their
// concurrent-access contract. Rules are mutable at runtime; a replacement
// takes effect for all subsequent admission checks immediately.
package policy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrUnknownCategory is returned when no rule is registered for a category.
	ErrUnknownCategory = errors.New("policy: unknown category")
	// ErrInvalidPolicy is returned when an update would produce a non-positive
	// count or window.
	ErrInvalidPolicy = errors.New("policy: invalid rate limit values")
)

// Rule defines the sliding-window budget for a single category.
type Rule struct {
	MaxCount int           // allowed sends within the window
	Window   time.Duration // trailing window length
}

// Update carries a partial rule change. Nil fields keep their prior value.
type Update struct {
	MaxCount      *int
	WindowSeconds *int
}

// Limits is the process-wide category -> Rule mapping. Safe for concurrent
// use; Resolve may race with Update and observe either the old or the new
// rule, but never a partially written one.
type Limits struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// Defaults returns the reference category set: status 2/60s, news 1/day,
// marketing 3/hour.
func Defaults() map[string]Rule {
	return map[string]Rule{
		"status":    {MaxCount: 2, Window: 60 * time.Second},
		"news":      {MaxCount: 1, Window: 86400 * time.Second},
		"marketing": {MaxCount: 3, Window: 3600 * time.Second},
	}
}

// New creates a Limits store from the given rules. Invalid rules are
// rejected so a misconfigured bootstrap fails fast instead of admitting
// everything (or nothing) at runtime.
func New(rules map[string]Rule) (*Limits, error) {
	if len(rules) == 0 {
		rules = Defaults()
		log.Warn().Msg("no rate limit rules supplied, using defaults")
	}

	copied := make(map[string]Rule, len(rules))
	for category, rule := range rules {
		if rule.MaxCount <= 0 {
			return nil, fmt.Errorf("%w: category %q has max count %d", ErrInvalidPolicy, category, rule.MaxCount)
		}
		if rule.Window <= 0 {
			return nil, fmt.Errorf("%w: category %q has window %s", ErrInvalidPolicy, category, rule.Window)
		}
		copied[category] = rule
	}

	return &Limits{rules: copied}, nil
}

// Resolve returns the current rule for a category.
func (l *Limits) Resolve(category string) (Rule, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rule, ok := l.rules[category]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	return rule, nil
}

// Update applies a partial change to a category's rule atomically. Omitted
// fields retain their prior values. A category unknown to the store can only
// be introduced when both fields are supplied.
func (l *Limits) Update(category string, u Update) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rule, ok := l.rules[category]
	if !ok {
		if u.MaxCount == nil || u.WindowSeconds == nil {
			return fmt.Errorf("%w: %s", ErrUnknownCategory, category)
		}
		rule = Rule{}
	}

	next := rule
	if u.MaxCount != nil {
		next.MaxCount = *u.MaxCount
	}
	if u.WindowSeconds != nil {
		next.Window = time.Duration(*u.WindowSeconds) * time.Second
	}

	if next.MaxCount <= 0 {
		return fmt.Errorf("%w: category %q max count must be positive, got %d", ErrInvalidPolicy, category, next.MaxCount)
	}
	if next.Window <= 0 {
		return fmt.Errorf("%w: category %q window must be positive, got %s", ErrInvalidPolicy, category, next.Window)
	}

	l.rules[category] = next
	log.Info().Str("category", category).Int("max_count", next.MaxCount).Dur("window", next.Window).Msg("rate limit rule updated")
	return nil
}

// Snapshot returns a copy of the full current mapping.
func (l *Limits) Snapshot() map[string]Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Rule, len(l.rules))
	for category, rule := range l.rules {
		out[category] = rule
	}
	return out
}

// LongestWindow returns the largest configured window across all categories.
// Stores use it to size their retention safety net.
func (l *Limits) LongestWindow() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var longest time.Duration
	for _, rule := range l.rules {
		if rule.Window > longest {
			longest = rule.Window
		}
	}
	return longest
}
