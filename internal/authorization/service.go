package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

const (
	ObjectPaymentIntent = "payment_intent"
	ObjectAuditLog      = "audit_log"
)

const (
	ActionIntentView   = "payment_intent.view"
	ActionIntentCreate = "payment_intent.create"
	ActionIntentUpdate = "payment_intent.update"
	ActionAuditLogView = "audit_log.view"
)

// Authorizer decides whether the acting merchant may touch a resource owned
// by another merchant ID. Implementations must not consult ambient globals;
// the caller supplies both sides explicitly.
type Authorizer interface {
	Authorize(ctx context.Context, actorMerchantID, ownerMerchantID snowflake.ID, object, action string) error
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
