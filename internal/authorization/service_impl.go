package authorization

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/payflow-io/payflow/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	auditSvc auditdomain.Service
}

func NewService(p Params) Authorizer {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actorMerchantID, ownerMerchantID snowflake.ID, object, action string) error {
	if actorMerchantID == 0 {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	if actorMerchantID != ownerMerchantID {
		s.auditDenied(ctx, actorMerchantID, ownerMerchantID, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorMerchantID, ownerMerchantID snowflake.ID, object, action string) {
	if s.auditSvc == nil {
		return
	}
	actorID := actorMerchantID.String()
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, &actorMerchantID, string(auditdomain.ActorTypeAPIKey), &actorID, "authorization.denied", object, &targetID, map[string]any{
		"object":            object,
		"action":            action,
		"owner_merchant_id": ownerMerchantID.String(),
	})
}
