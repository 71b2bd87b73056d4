package webhook

import (
	"context"

	"hookgate/internal/queue"
)

// DeliveryQueuer defines the interface for recording authorized deliveries.
type DeliveryQueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
}

// EventPublisher receives delivery lifecycle notifications.
type EventPublisher interface {
	Publish(eventType string, data any)
}

// Config holds webhook server configuration.
type Config struct {
	// Listen is the address the webhook listener binds to.
	Listen string

	// Path is the URL path for the webhook endpoint (e.g. "/webhook/github").
	Path string

	// Secret is the shared secret for signature verification. Resolved
	// once at startup; the server only ever reads it.
	Secret string

	// MaxBodySize is the maximum allowed request body size in bytes.
	MaxBodySize int64

	// MaxAttempts is the dispatch attempt cap recorded on each delivery.
	// Zero lets the queue apply its default.
	MaxAttempts int
}

// AcceptedResponse is the JSON response for recorded deliveries.
type AcceptedResponse struct {
	DeliveryID string `json:"delivery_id"`
}

// ErrorResponse is the JSON response for server-side failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DefaultMaxBodySize caps request bodies at 1 MB unless configured.
const DefaultMaxBodySize = 1048576
