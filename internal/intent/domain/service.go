package domain

import (
	"context"
	"errors"

	"github.com/payflow-io/payflow/pkg/db/pagination"
)

type CreateIntentRequest struct {
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
}

type GetIntentRequest struct {
	IntentID string
}

type ListIntentRequest struct {
	PageToken string
	PageSize  int32
	Status    Status
}

type ListIntentFilter struct {
	Status Status
}

type ListIntentResponse struct {
	pagination.PageInfo
	Intents []PaymentIntent `json:"intents"`
}

type UpdateStatusRequest struct {
	IntentID string
	Status   Status
}

// StatusEvent carries a processor webhook notification for one intent.
type StatusEvent struct {
	Provider       string
	EventID        string
	RemoteIntentID string
	RemoteStatus   string
	RawPayload     []byte
}

type Service interface {
	Create(context.Context, CreateIntentRequest) (PaymentIntent, error)
	GetByID(context.Context, GetIntentRequest) (PaymentIntent, error)
	List(context.Context, ListIntentRequest) (ListIntentResponse, error)
	UpdateStatus(context.Context, UpdateStatusRequest) (PaymentIntent, error)
	SyncWithProcessor(context.Context, GetIntentRequest) (PaymentIntent, error)
	ReconcileFromWebhook(context.Context, StatusEvent) (PaymentIntent, error)
}

var (
	ErrInvalidMerchant    = errors.New("invalid_merchant")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidCurrency    = errors.New("invalid_currency")
	ErrInvalidDescription = errors.New("invalid_description")
	ErrInvalidID          = errors.New("invalid_id")
	ErrInvalidStatus      = errors.New("invalid_status")
	ErrNotFound           = errors.New("not_found")
	ErrForbidden          = errors.New("forbidden")
	ErrIDGeneration       = errors.New("id_generation_exhausted")
)
