// Package gateway implements the sliding-window admission check in front of
// notification dispatch: prune -> count -> compare -> deliver -> record, with
// per-key serialization so two concurrent checks on the same (recipient,
// category) can never both slip under the limit.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/notigate/notigate/dispatch"
	"github.com/notigate/notigate/policy"
	"github.com/notigate/notigate/window"
)

// Gateway orchestrates admission checks against the window store and hands
// admitted sends to the dispatcher.
type Gateway struct {
	store      window.Store
	limits     *policy.Limits
	dispatcher dispatch.Dispatcher
	locks      *keyLock
	now        func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// New creates a Gateway. All three collaborators are required.
func New(store window.Store, limits *policy.Limits, dispatcher dispatch.Dispatcher, opts ...Option) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("gateway: window store is required")
	}
	if limits == nil {
		return nil, errors.New("gateway: rate limit policy is required")
	}
	if dispatcher == nil {
		return nil, errors.New("gateway: dispatcher is required")
	}

	g := &Gateway{
		store:      store,
		limits:     limits,
		dispatcher: dispatcher,
		locks:      newKeyLock(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Send runs one admission check for (category, recipient) and dispatches the
// message when admitted. The window is half-open (now-window, now]: an entry
// at exactly now-window no longer counts. A failed dispatch consumes no
// budget; only successfully dispatched sends are recorded.
func (g *Gateway) Send(ctx context.Context, category, recipient, message string) error {
	recipient, err := normalizeRecipient(recipient)
	if err != nil {
		return err
	}

	rule, err := g.limits.Resolve(category)
	if err != nil {
		return err
	}

	// Serialize prune -> count -> compare -> deliver -> append per key.
	// Checks on other keys are not blocked; the dispatcher may do network
	// I/O, which only delays competing sends to the same recipient+category.
	key := recipient + "\x00" + category
	g.locks.lock(key)
	defer g.locks.unlock(key)

	now := g.now()

	if err := g.store.Prune(ctx, recipient, category, rule.Window, now); err != nil {
		return fmt.Errorf("gateway: prune failed: %w", err)
	}

	count, err := g.store.Count(ctx, recipient, category)
	if err != nil {
		return fmt.Errorf("gateway: count failed: %w", err)
	}

	if count >= rule.MaxCount {
		log.Warn().Str("category", category).Str("recipient", recipient).Int("count", count).Int("max_count", rule.MaxCount).Msg("rate limit exceeded")
		return &RateLimitError{Category: category, Recipient: recipient}
	}

	if err := g.dispatcher.Deliver(ctx, recipient, message); err != nil {
		log.Error().Err(err).Str("category", category).Str("recipient", recipient).Msg("dispatch failed, budget not consumed")
		return err
	}

	if err := g.store.Append(ctx, recipient, category, now); err != nil {
		// The send went out but was not recorded; surface the store failure
		// rather than pretending the check sequence completed.
		return fmt.Errorf("gateway: record after dispatch failed: %w", err)
	}

	log.Debug().Str("category", category).Str("recipient", recipient).Int("count", count+1).Int("max_count", rule.MaxCount).Msg("notification admitted")
	return nil
}

// Usage returns the store's usage snapshot without pruning. Counts may
// include logically expired entries that no admission check has cleaned up
// yet; callers get last-known recorded counts, not enforceable budgets.
func (g *Gateway) Usage(ctx context.Context) (window.Usage, error) {
	return g.store.UsageSnapshot(ctx)
}

// Reset clears every window entry for every key.
func (g *Gateway) Reset(ctx context.Context) error {
	return g.store.ClearAll(ctx)
}

// Limits exposes the policy store for the administrative surface.
func (g *Gateway) Limits() *policy.Limits {
	return g.limits
}

func normalizeRecipient(recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", fmt.Errorf("%w: recipient is empty", ErrInvalidRecipient)
	}
	if !strings.Contains(recipient, "@") {
		return "", fmt.Errorf("%w: %q is missing an address separator", ErrInvalidRecipient, recipient)
	}
	return recipient, nil
}
