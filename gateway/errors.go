package gateway

import (
	"errors"
	"fmt"
)

// ErrInvalidRecipient is returned when a recipient is empty after trimming
// or structurally invalid for the addressing scheme.
var ErrInvalidRecipient = errors.New("gateway: invalid recipient")

// RateLimitError reports an exhausted budget for a (category, recipient)
// pair. The request was not sent and no entry was recorded.
type RateLimitError struct {
	Category  string
	Recipient string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("Rate limit exceeded for %s to %s", e.Category, e.Recipient)
}

// IsRateLimitError reports whether err is (or wraps) a RateLimitError.
func IsRateLimitError(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}
