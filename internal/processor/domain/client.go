package domain

import (
	"context"
	"errors"
	"net/http"
)

// CreateIntentParams carries everything the processor needs to open a charge.
type CreateIntentParams struct {
	Amount         int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// RemoteIntent is the processor-side view of a payment intent.
type RemoteIntent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int64
	Currency     string
}

// StatusEvent is a parsed webhook notification.
type StatusEvent struct {
	EventID        string
	RemoteIntentID string
	RemoteStatus   string
}

// Client talks to the upstream payment processor. Implementations hold their
// credentials immutably; callers never pass secrets per request.
type Client interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (RemoteIntent, error)
	RetrieveIntent(ctx context.Context, remoteIntentID string) (RemoteIntent, error)
}

// WebhookAdapter verifies and parses inbound processor notifications.
type WebhookAdapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*StatusEvent, error)
}

var (
	ErrInvalidConfig    = errors.New("invalid_config")
	ErrProcessor        = errors.New("processor_unavailable")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
)
