package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	auditdomain "github.com/payflow-io/payflow/internal/audit/domain"
	"github.com/payflow-io/payflow/internal/authorization"
	"github.com/payflow-io/payflow/internal/clock"
	"github.com/payflow-io/payflow/internal/intent/domain"
	"github.com/payflow-io/payflow/internal/merchantcontext"
	"github.com/payflow-io/payflow/internal/observability/metrics"
	processordomain "github.com/payflow-io/payflow/internal/processor/domain"
	"github.com/payflow-io/payflow/pkg/db"
	"github.com/payflow-io/payflow/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	intentIDPrefix    = "pi_"
	intentIDHexLength = 24
	maxIDAttempts     = 5
	maxDescription    = 500
	defaultCurrency   = "USD"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Processor processordomain.Client
	Authz     authorization.Authorizer
	AuditSvc  auditdomain.Service `optional:"true"`
	Metrics   *metrics.Metrics    `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	processor processordomain.Client
	authz     authorization.Authorizer
	auditSvc  auditdomain.Service
	metrics   *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("intent.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		processor: p.Processor,
		authz:     p.Authz,
		auditSvc:  p.AuditSvc,
		metrics:   p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateIntentRequest) (domain.PaymentIntent, error) {
	merchantID, ok := merchantcontext.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.PaymentIntent{}, domain.ErrInvalidMerchant
	}
	if req.Amount <= 0 {
		return domain.PaymentIntent{}, domain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if len(currency) != 3 {
		return domain.PaymentIntent{}, domain.ErrInvalidCurrency
	}
	description := strings.TrimSpace(req.Description)
	if len(description) > maxDescription {
		return domain.PaymentIntent{}, domain.ErrInvalidDescription
	}

	intentID, err := s.generateIntentID(ctx)
	if err != nil {
		return domain.PaymentIntent{}, err
	}

	metadata := map[string]string{
		"intent_id":   intentID,
		"merchant_id": merchantID.String(),
	}
	for key, value := range req.Metadata {
		if strings.TrimSpace(key) == "" {
			continue
		}
		metadata[key] = value
	}

	remote, err := s.processor.CreateIntent(ctx, processordomain.CreateIntentParams{
		Amount:         req.Amount,
		Currency:       strings.ToLower(currency),
		Description:    description,
		Metadata:       metadata,
		IdempotencyKey: "intent:" + intentID,
	})
	if err != nil {
		return domain.PaymentIntent{}, err
	}

	now := s.clock.Now().UTC()
	intent := domain.PaymentIntent{
		ID:           s.genID.Generate(),
		IntentID:     intentID,
		MerchantID:   merchantID,
		Amount:       req.Amount,
		Currency:     currency,
		Description:  description,
		Status:       domain.StatusCreated,
		ClientSecret: remote.ClientSecret,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if remote.ID != "" {
		remoteID := remote.ID
		intent.StripeIntentID = &remoteID
	}
	if payload, err := json.Marshal(req.Metadata); err == nil && len(req.Metadata) > 0 {
		intent.Metadata = datatypes.JSON(payload)
	}

	if err := s.repo.Insert(ctx, s.db, &intent); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return domain.PaymentIntent{}, err
		}
		// lost a race on intent_id; one regenerate is enough since the
		// remote intent id stays unique
		regenerated, genErr := s.generateIntentID(ctx)
		if genErr != nil {
			return domain.PaymentIntent{}, genErr
		}
		intent.IntentID = regenerated
		intent.ID = s.genID.Generate()
		if err := s.repo.Insert(ctx, s.db, &intent); err != nil {
			return domain.PaymentIntent{}, err
		}
	}

	s.metrics.RecordIntentCreated(ctx, currency)
	s.audit(ctx, merchantID, "payment_intent.created", intent.IntentID, map[string]any{
		"amount":   intent.Amount,
		"currency": intent.Currency,
		"status":   string(intent.Status),
	})

	s.log.Info("payment intent created",
		zap.String("intent_id", intent.IntentID),
		zap.String("status", string(intent.Status)),
	)
	return intent, nil
}

func (s *Service) GetByID(ctx context.Context, req domain.GetIntentRequest) (domain.PaymentIntent, error) {
	merchantID, ok := merchantcontext.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.PaymentIntent{}, domain.ErrInvalidMerchant
	}
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return domain.PaymentIntent{}, domain.ErrInvalidID
	}

	intent, err := s.repo.FindByIntentID(ctx, s.db, intentID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if intent == nil {
		return domain.PaymentIntent{}, domain.ErrNotFound
	}

	if err := s.authz.Authorize(ctx, merchantID, intent.MerchantID, authorization.ObjectPaymentIntent, authorization.ActionIntentView); err != nil {
		return domain.PaymentIntent{}, domain.ErrForbidden
	}
	return *intent, nil
}

func (s *Service) List(ctx context.Context, req domain.ListIntentRequest) (domain.ListIntentResponse, error) {
	merchantID, ok := merchantcontext.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.ListIntentResponse{}, domain.ErrInvalidMerchant
	}
	if req.Status != "" && !domain.ValidStatus(req.Status) {
		return domain.ListIntentResponse{}, domain.ErrInvalidStatus
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, merchantID, domain.ListIntentFilter{Status: req.Status}, pagination.Pagination{
		PageToken: strings.TrimSpace(req.PageToken),
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListIntentResponse{}, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, pageSize, func(item *domain.PaymentIntent) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	intents := make([]domain.PaymentIntent, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		intents = append(intents, *item)
	}

	resp := domain.ListIntentResponse{Intents: intents}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) UpdateStatus(ctx context.Context, req domain.UpdateStatusRequest) (domain.PaymentIntent, error) {
	merchantID, ok := merchantcontext.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.PaymentIntent{}, domain.ErrInvalidMerchant
	}
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return domain.PaymentIntent{}, domain.ErrInvalidID
	}
	if !domain.ValidStatus(req.Status) {
		return domain.PaymentIntent{}, domain.ErrInvalidStatus
	}

	intent, err := s.repo.FindByIntentID(ctx, s.db, intentID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if intent == nil {
		return domain.PaymentIntent{}, domain.ErrNotFound
	}
	if err := s.authz.Authorize(ctx, merchantID, intent.MerchantID, authorization.ObjectPaymentIntent, authorization.ActionIntentUpdate); err != nil {
		return domain.PaymentIntent{}, domain.ErrForbidden
	}

	previous := intent.Status
	if previous == req.Status {
		return *intent, nil
	}
	now := s.clock.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, s.db, intentID, req.Status, now); err != nil {
		return domain.PaymentIntent{}, err
	}
	intent.Status = req.Status
	intent.UpdatedAt = now

	s.metrics.RecordStatusTransition(ctx, string(previous), string(req.Status))
	s.audit(ctx, merchantID, "payment_intent.status_updated", intentID, map[string]any{
		"from": string(previous),
		"to":   string(req.Status),
	})
	return *intent, nil
}

func (s *Service) SyncWithProcessor(ctx context.Context, req domain.GetIntentRequest) (domain.PaymentIntent, error) {
	merchantID, ok := merchantcontext.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.PaymentIntent{}, domain.ErrInvalidMerchant
	}
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return domain.PaymentIntent{}, domain.ErrInvalidID
	}

	intent, err := s.repo.FindByIntentID(ctx, s.db, intentID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if intent == nil {
		return domain.PaymentIntent{}, domain.ErrNotFound
	}
	if err := s.authz.Authorize(ctx, merchantID, intent.MerchantID, authorization.ObjectPaymentIntent, authorization.ActionIntentUpdate); err != nil {
		return domain.PaymentIntent{}, domain.ErrForbidden
	}
	if intent.StripeIntentID == nil || *intent.StripeIntentID == "" {
		// nothing to pull; the intent never reached the processor
		return *intent, nil
	}

	remote, err := s.processor.RetrieveIntent(ctx, *intent.StripeIntentID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}

	next := domain.MapProcessorStatus(remote.Status)
	if intent.Status == next {
		return *intent, nil
	}

	previous := intent.Status
	now := s.clock.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, s.db, intent.IntentID, next, now); err != nil {
		return domain.PaymentIntent{}, err
	}
	intent.Status = next
	intent.UpdatedAt = now

	s.metrics.RecordStatusTransition(ctx, string(previous), string(next))
	s.audit(ctx, merchantID, "payment_intent.synced", intent.IntentID, map[string]any{
		"remote_status": remote.Status,
		"from":          string(previous),
		"to":            string(next),
	})

	s.log.Info("payment intent synced",
		zap.String("intent_id", intent.IntentID),
		zap.String("from", string(previous)),
		zap.String("to", string(next)),
	)
	return *intent, nil
}

func (s *Service) ReconcileFromWebhook(ctx context.Context, event domain.StatusEvent) (domain.PaymentIntent, error) {
	remoteIntentID := strings.TrimSpace(event.RemoteIntentID)
	if remoteIntentID == "" {
		return domain.PaymentIntent{}, domain.ErrInvalidID
	}

	intent, err := s.repo.FindByStripeIntentID(ctx, s.db, remoteIntentID)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	if intent == nil {
		return domain.PaymentIntent{}, domain.ErrNotFound
	}

	next := domain.MapProcessorStatus(event.RemoteStatus)
	if intent.Status == next {
		// replayed event; nothing to change
		s.metrics.RecordWebhookEvent(ctx, event.Provider, "replay")
		return *intent, nil
	}

	previous := intent.Status
	now := s.clock.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, s.db, intent.IntentID, next, now); err != nil {
		return domain.PaymentIntent{}, err
	}
	intent.Status = next
	intent.UpdatedAt = now

	s.metrics.RecordWebhookEvent(ctx, event.Provider, "applied")
	s.metrics.RecordStatusTransition(ctx, string(previous), string(next))
	s.audit(ctx, intent.MerchantID, "payment_intent.reconciled", intent.IntentID, map[string]any{
		"provider":      event.Provider,
		"event_id":      event.EventID,
		"remote_status": event.RemoteStatus,
		"from":          string(previous),
		"to":            string(next),
	})

	s.log.Info("payment intent reconciled",
		zap.String("intent_id", intent.IntentID),
		zap.String("from", string(previous)),
		zap.String("to", string(next)),
	)
	return *intent, nil
}

func (s *Service) generateIntentID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		candidate := intentIDPrefix + newIntentHex()
		exists, err := s.repo.ExistsByIntentID(ctx, s.db, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", domain.ErrIDGeneration
}

func newIntentHex() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return raw[:intentIDHexLength]
}

func (s *Service) audit(ctx context.Context, merchantID snowflake.ID, action, intentID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := intentID
	_ = s.auditSvc.AuditLog(ctx, &merchantID, "", nil, action, "payment_intent", &targetID, metadata)
}
