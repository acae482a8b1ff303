package ports

import (
	"context"
	"errors"
)

// ErrRecipientOptedOut is wrapped by transports when the carrier reports the
// recipient unsubscribed. The conductor records it as a carrier opt-out.
var ErrRecipientOptedOut = errors.New("recipient opted out at carrier")

// OutboundMessage is one SMS to deliver.
type OutboundMessage struct {
	From string
	To   string
	Body string
}

// ProviderResult is what the carrier reports for an accepted message.
type ProviderResult struct {
	MessageID  string
	Segments   int
	CostMicros int64
}

// Transport delivers SMS. Transient provider failures are returned as
// apperr Unavailable errors.
type Transport interface {
	Send(ctx context.Context, msg OutboundMessage) (ProviderResult, error)
}
