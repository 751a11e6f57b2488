// Package dispatch performs the actual notification send once admission has
// succeeded. The core holds no retry or queueing responsibility; a failure
// surfaces immediately and does not consume rate-limit budget.
package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// Dispatcher delivers a payload to a recipient through some transport.
type Dispatcher interface {
	// Deliver performs the external send. Transport-level failures are
	// reported as a *DeliveryError.
	Deliver(ctx context.Context, recipient, message string) error
}

// DeliveryError wraps a transport-level send failure.
type DeliveryError struct {
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("dispatch: delivery to %s failed: %v", e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsDeliveryError reports whether err is (or wraps) a delivery failure.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}

// Func adapts a plain function to the Dispatcher interface.
type Func func(ctx context.Context, recipient, message string) error

// Deliver implements Dispatcher.
func (f Func) Deliver(ctx context.Context, recipient, message string) error {
	return f(ctx, recipient, message)
}
