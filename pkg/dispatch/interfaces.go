// Package dispatch contains the public contracts for push delivery: the
// gateway interface the pipeline sends through and the report types it reads
// back for token pruning.
package dispatch

import (
	"context"
	"errors"
)

// Sentinel classifications for per-token delivery failures. These are the two
// gateway error codes that mean a registration token is permanently dead and
// must be removed from storage. Every other failure is transient or a
// configuration problem and never triggers pruning.
var (
	ErrInvalidToken       = errors.New("invalid registration token")
	ErrTokenNotRegistered = errors.New("registration token not registered")
)

// TokenIsDead reports whether a per-token delivery error means the token
// should be cleared from every user profile that stores it.
func TokenIsDead(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenNotRegistered)
}

// Payload is the notification content sent to every recipient of one event.
// Data carries the container path identifiers the client uses to deep-link.
type Payload struct {
	Title string
	Body  string
	Data  map[string]string
}

// SendResult is the outcome for a single token. Exactly one of MessageID or
// Err is set.
type SendResult struct {
	MessageID string
	Err       error
}

// DeliveryReport carries per-token outcomes. Results is positionally aligned
// with the token slice passed to the gateway; reordering it breaks the
// error-to-token mapping the reconciler depends on.
type DeliveryReport struct {
	SuccessCount int
	FailureCount int
	Results      []SendResult
}

// Gateway is the push delivery service (FCM in production).
type Gateway interface {
	// Send delivers the payload to a single token and returns the gateway
	// message id.
	Send(ctx context.Context, token string, payload Payload) (string, error)

	// SendBatch delivers the same payload to every token in one batched call.
	// The returned report's Results are aligned with tokens.
	SendBatch(ctx context.Context, tokens []string, payload Payload) (*DeliveryReport, error)
}
