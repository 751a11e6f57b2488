package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const defaultQueueKey = "dispatch:outbox"

var errQueueFull = errors.New("dispatch: delivery queue is full")

// Envelope is the wire format pushed onto the delivery queue. An external
// worker drains the list and performs the actual transport send.
type Envelope struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// QueueDispatcher hands sends off to an external delivery worker via a Redis
// list. From the admission engine's point of view a successful RPUSH is a
// successful send; draining and transport retries belong to the worker.
type QueueDispatcher struct {
	client   redis.Cmdable
	queueKey string
	maxLen   int64 // 0 means unbounded
}

// QueueOption configures a QueueDispatcher.
type QueueOption func(*QueueDispatcher)

// WithQueueKey overrides the Redis list key (default "dispatch:outbox").
func WithQueueKey(key string) QueueOption {
	return func(d *QueueDispatcher) {
		if key != "" {
			d.queueKey = key
		}
	}
}

// WithMaxQueueLength bounds the list; Deliver fails with a DeliveryError
// once the bound is reached. 0 disables the bound.
func WithMaxQueueLength(n int64) QueueOption {
	return func(d *QueueDispatcher) {
		if n >= 0 {
			d.maxLen = n
		}
	}
}

// NewQueueDispatcher creates a Redis-list backed dispatcher. It expects a
// pre-configured redis.Cmdable.
func NewQueueDispatcher(client redis.Cmdable, opts ...QueueOption) *QueueDispatcher {
	if client == nil {
		panic("dispatch: redis client cannot be nil")
	}
	d := &QueueDispatcher{client: client, queueKey: defaultQueueKey}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver implements Dispatcher.
func (d *QueueDispatcher) Deliver(ctx context.Context, recipient, message string) error {
	if d.maxLen > 0 {
		length, err := d.client.LLen(ctx, d.queueKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return &DeliveryError{Recipient: recipient, Err: err}
		}
		if length >= d.maxLen {
			log.Error().Str("queue_key", d.queueKey).Int64("length", length).Int64("max", d.maxLen).Msg("delivery queue full")
			return &DeliveryError{Recipient: recipient, Err: errQueueFull}
		}
	}

	env := Envelope{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Message:   message,
		At:        time.Now().UTC(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return &DeliveryError{Recipient: recipient, Err: err}
	}

	if err := d.client.RPush(ctx, d.queueKey, payload).Err(); err != nil {
		log.Error().Err(err).Str("queue_key", d.queueKey).Str("recipient", recipient).Msg("failed to enqueue notification")
		return &DeliveryError{Recipient: recipient, Err: err}
	}

	log.Debug().Str("id", env.ID).Str("recipient", recipient).Str("queue_key", d.queueKey).Msg("notification enqueued for delivery")
	return nil
}

var _ Dispatcher = (*QueueDispatcher)(nil)
