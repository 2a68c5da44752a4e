// Package channels holds the delivery adapter contract and the shipped
// adapters: a Telegram team-chat adapter, a generic HTTP webhook adapter used
// for the voice/text/email gateways, and an in-process silent inbox.
package channels

import (
	"context"
	"errors"
	"fmt"
)

// Message is the channel-agnostic outbound payload.
type Message struct {
	// Text is the rendered notification body.
	Text string
	// Decision marks the message as an approval request: the recipient is
	// expected to act on it, not just read it.
	Decision bool
	// Aggregate marks a rolled-up message (digest or grouped burst) so
	// gateways can render it differently from a single event.
	Aggregate bool
	// Count is the number of source events behind an aggregate message.
	// Zero or one for plain messages.
	Count int
}

// Adapter delivers a message to one client over one concrete channel.
//
// Deliver returns nil on success, a *DeliveryError to signal whether the
// failure is worth retrying, or any other error (treated as transient).
type Adapter interface {
	Name() string
	Deliver(ctx context.Context, clientID string, msg Message) error
}

// DeliveryError wraps a gateway failure with retry advice.
type DeliveryError struct {
	Err       error
	Permanent bool
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return "delivery failed"
	}
	return e.Err.Error()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying (bad request, missing config).
func Permanent(format string, args ...any) error {
	return &DeliveryError{Err: fmt.Errorf(format, args...), Permanent: true}
}

// Transient marks err as retryable (timeouts, throttling, 5xx).
func Transient(format string, args ...any) error {
	return &DeliveryError{Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err carries no-retry advice. Unknown errors are
// treated as transient so flaky gateways still get retried.
func IsPermanent(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Permanent
	}
	return false
}
