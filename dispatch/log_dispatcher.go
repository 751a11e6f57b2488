package dispatch

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogDispatcher writes each send to the structured log instead of an
// external transport. Useful for local development and as the default when
// no real transport is configured.
type LogDispatcher struct{}

// NewLogDispatcher creates a log-only dispatcher.
func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

// Deliver implements Dispatcher.
func (d *LogDispatcher) Deliver(_ context.Context, recipient, message string) error {
	log.Info().Str("recipient", recipient).Str("message", message).Msg("notification sent")
	return nil
}

var _ Dispatcher = (*LogDispatcher)(nil)
