package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/payflow-io/payflow/internal/authorization"
	"github.com/payflow-io/payflow/internal/clock"
	"github.com/payflow-io/payflow/internal/intent/domain"
	intentrepo "github.com/payflow-io/payflow/internal/intent/repository"
	intentservice "github.com/payflow-io/payflow/internal/intent/service"
	"github.com/payflow-io/payflow/internal/merchantcontext"
	processordomain "github.com/payflow-io/payflow/internal/processor/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeProcessor struct {
	status        string
	callCount     int
	retrieveCount int
	lastParams    processordomain.CreateIntentParams
	err           error
}

func (p *fakeProcessor) CreateIntent(ctx context.Context, params processordomain.CreateIntentParams) (processordomain.RemoteIntent, error) {
	p.callCount++
	p.lastParams = params
	if p.err != nil {
		return processordomain.RemoteIntent{}, p.err
	}
	return processordomain.RemoteIntent{
		ID:           "pi_remote_" + params.Metadata["intent_id"],
		ClientSecret: "cs_test_secret",
		Status:       p.status,
		Amount:       params.Amount,
		Currency:     params.Currency,
	}, nil
}

func (p *fakeProcessor) RetrieveIntent(ctx context.Context, remoteIntentID string) (processordomain.RemoteIntent, error) {
	p.retrieveCount++
	if p.err != nil {
		return processordomain.RemoteIntent{}, p.err
	}
	return processordomain.RemoteIntent{ID: remoteIntentID, Status: p.status}, nil
}

type collisionRepo struct {
	domain.Repository
}

func (collisionRepo) ExistsByIntentID(ctx context.Context, db *gorm.DB, intentID string) (bool, error) {
	return true, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE payment_intents (
			id BIGINT PRIMARY KEY,
			intent_id TEXT NOT NULL,
			stripe_intent_id TEXT,
			merchant_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			client_secret TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_payment_intents_intent_id ON payment_intents(intent_id)`,
		`CREATE UNIQUE INDEX ux_payment_intents_stripe_intent_id ON payment_intents(stripe_intent_id) WHERE stripe_intent_id IS NOT NULL`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, processor processordomain.Client, clk *clock.FakeClock) domain.Service {
	t.Helper()

	node, err := snowflake.NewNode(20)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	authz := authorization.NewService(authorization.Params{Log: zap.NewNop()})
	return intentservice.NewService(intentservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Repo:      intentrepo.Provide(),
		Processor: processor,
		Authz:     authz,
	})
}

func merchantContext(merchantID snowflake.ID) context.Context {
	return merchantcontext.WithMerchantID(context.Background(), int64(merchantID))
}

func TestCreatePaymentIntent(t *testing.T) {
	db := setupTestDB(t)
	processor := &fakeProcessor{status: "requires_payment_method"}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, processor, clk)

	merchantID := snowflake.ID(101)
	ctx := merchantContext(merchantID)

	intent, err := svc.Create(ctx, domain.CreateIntentRequest{
		Amount:      1999,
		Currency:    "usd",
		Description: "pro plan",
		Metadata:    map[string]string{"order_id": "ord_42"},
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	if !strings.HasPrefix(intent.IntentID, "pi_") {
		t.Fatalf("expected pi_ prefix, got %q", intent.IntentID)
	}
	if len(intent.IntentID) != len("pi_")+24 {
		t.Fatalf("expected 24 hex chars after prefix, got %q", intent.IntentID)
	}
	if intent.Status != domain.StatusCreated {
		t.Fatalf("expected status CREATED, got %s", intent.Status)
	}
	if intent.Currency != "USD" {
		t.Fatalf("expected currency normalized to USD, got %q", intent.Currency)
	}
	if intent.Amount != 1999 {
		t.Fatalf("expected amount 1999, got %d", intent.Amount)
	}
	if intent.ClientSecret != "cs_test_secret" {
		t.Fatalf("expected client secret from processor, got %q", intent.ClientSecret)
	}
	if intent.StripeIntentID == nil {
		t.Fatalf("expected remote intent id to be stored")
	}

	if processor.lastParams.Currency != "usd" {
		t.Fatalf("expected lowercase currency sent to processor, got %q", processor.lastParams.Currency)
	}
	if processor.lastParams.IdempotencyKey != "intent:"+intent.IntentID {
		t.Fatalf("unexpected idempotency key %q", processor.lastParams.IdempotencyKey)
	}
	if processor.lastParams.Metadata["merchant_id"] != merchantID.String() {
		t.Fatalf("expected merchant_id in processor metadata, got %v", processor.lastParams.Metadata)
	}
	if processor.lastParams.Metadata["order_id"] != "ord_42" {
		t.Fatalf("expected caller metadata forwarded, got %v", processor.lastParams.Metadata)
	}

	stored, err := svc.GetByID(ctx, domain.GetIntentRequest{IntentID: intent.IntentID})
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if stored.IntentID != intent.IntentID || stored.Amount != 1999 {
		t.Fatalf("stored intent mismatch: %+v", stored)
	}
}

func TestCreatePaymentIntentValidation(t *testing.T) {
	db := setupTestDB(t)
	processor := &fakeProcessor{status: "requires_payment_method"}
	clk := clock.NewFakeClock(time.Now())
	svc := newTestService(t, db, processor, clk)

	ctx := merchantContext(snowflake.ID(101))

	cases := []struct {
		name string
		ctx  context.Context
		req  domain.CreateIntentRequest
		want error
	}{
		{"missing merchant", context.Background(), domain.CreateIntentRequest{Amount: 100, Currency: "USD"}, domain.ErrInvalidMerchant},
		{"zero amount", ctx, domain.CreateIntentRequest{Amount: 0, Currency: "USD"}, domain.ErrInvalidAmount},
		{"negative amount", ctx, domain.CreateIntentRequest{Amount: -5, Currency: "USD"}, domain.ErrInvalidAmount},
		{"bad currency", ctx, domain.CreateIntentRequest{Amount: 100, Currency: "usdollar"}, domain.ErrInvalidCurrency},
		{"long description", ctx, domain.CreateIntentRequest{Amount: 100, Currency: "USD", Description: strings.Repeat("x", 501)}, domain.ErrInvalidDescription},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(tc.ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if processor.callCount != 0 {
		t.Fatalf("processor must not be called on validation failure, got %d calls", processor.callCount)
	}
}

func TestCreatePaymentIntentDefaultsCurrency(t *testing.T) {
	db := setupTestDB(t)
	processor := &fakeProcessor{status: "requires_payment_method"}
	clk := clock.NewFakeClock(time.Now())
	svc := newTestService(t, db, processor, clk)

	ctx := merchantContext(snowflake.ID(101))
	intent, err := svc.Create(ctx, domain.CreateIntentRequest{Amount: 1999})
	if err != nil {
		t.Fatalf("create intent without currency: %v", err)
	}
	if intent.Currency != "USD" {
		t.Fatalf("expected currency to default to USD, got %q", intent.Currency)
	}
	if processor.lastParams.Currency != "usd" {
		t.Fatalf("expected default currency sent to processor as usd, got %q", processor.lastParams.Currency)
	}

	blank, err := svc.Create(ctx, domain.CreateIntentRequest{Amount: 500, Currency: "   "})
	if err != nil {
		t.Fatalf("create intent with blank currency: %v", err)
	}
	if blank.Currency != "USD" {
		t.Fatalf("expected blank currency to default to USD, got %q", blank.Currency)
	}
}

func TestCreatePaymentIntentStatusIgnoresProcessorStatus(t *testing.T) {
	db := setupTestDB(t)
	processor := &fakeProcessor{status: "succeeded"}
	clk := clock.NewFakeClock(time.Now())
	svc := newTestService(t, db, processor, clk)

	ctx := merchantContext(snowflake.ID(101))
	intent, err := svc.Create(ctx, domain.CreateIntentRequest{Amount: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Status != domain.StatusCreated {
		t.Fatalf("expected new intent to start as CREATED, got %s", intent.Status)
	}

	var stored string
	if err := db.Raw(`SELECT status FROM payment_intents WHERE intent_id = ?`, intent.IntentID).Scan(&stored).Error; err != nil {
		t.Fatalf("read status: %v", err)
	}
	if stored != string(domain.StatusCreated) {
		t.Fatalf("expected CREATED persisted, got %q", stored)
	}
}

func TestCreatePaymentIntentProcessorFailure(t *testing.T) {
	db := setupTestDB(t)
	processor := &fakeProcessor{err: fmt.Errorf("stripe status 503: %w", processordomain.ErrProcessor)}
	clk := clock.NewFakeClock(time.Now())
	svc := newTestService(t, db, processor, clk)

	ctx := merchantContext(snowflake.ID(101))
	_, err := svc.Create(ctx, domain.CreateIntentRequest{Amount: 500, Currency: "EUR"})
	if !errors.Is(err, processordomain.ErrProcessor) {
		t.Fatalf("expected processor error, got %v", err)
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(1) FROM payment_intents`).Scan(&count).Error; err != nil {
		t.Fatalf("count intents: %v", err)
	}
	if count != 0 {
		t.Fatalf("no row should be written when the processor fails, got %d", count)
	}
}

func TestCreatePaymentIntentIDExhaustion(t *testing.T) {
	db := setupTestDB(t)
	processor := &fakeProcessor{status: "requires_payment_method"}
	clk := clock.NewFakeClock(time.Now())

	node, err := snowflake.NewNode(21)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	svc := intentservice.NewService(intentservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Repo:      collisionRepo{Repository: intentrepo.Provide()},
		Processor: processor,
		Authz:     authorization.NewService(authorization.Params{Log: zap.NewNop()}),
	})

	_, err = svc.Create(merchantContext(snowflake.ID(101)), domain.CreateIntentRequest{Amount: 100, Currency: "USD"})
	if !errors.Is(err, domain.ErrIDGeneration) {
		t.Fatalf("expected id generation failure, got %v", err)
	}
	if processor.callCount != 0 {
		t.Fatalf("processor must not be called when id generation fails")
	}
}

func TestGetPaymentIntentAuthorization(t *testing.T) {
	db := setupTestDB(t)
	processor := &fakeProcessor{status: "requires_payment_method"}
	clk := clock.NewFakeClock(time.Now())
	svc := newTestService(t, db, processor, clk)

	owner := merchantContext(snowflake.ID(101))
	intent, err := svc.Create(owner, domain.CreateIntentRequest{Amount: 250, Currency: "USD"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	if _, err := svc.GetByID(merchantContext(snowflake.ID(202)), domain.GetIntentRequest{IntentID: intent.IntentID}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for foreign merchant, got %v", err)
	}
	if _, err := svc.GetByID(owner, domain.GetIntentRequest{IntentID: "pi_does_not_exist"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListPaymentIntents(t *testing.T) {
	db := setupTestDB(t)
	processor := &fakeProcessor{status: "requires_payment_method"}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, processor, clk)

	ctx := merchantContext(snowflake.ID(101))
	created := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		clk.Advance(time.Minute)
		intent, err := svc.Create(ctx, domain.CreateIntentRequest{Amount: int64(100 + i), Currency: "USD"})
		if err != nil {
			t.Fatalf("create intent %d: %v", i, err)
		}
		created = append(created, intent.IntentID)
	}

	// newest first
	resp, err := svc.List(ctx, domain.ListIntentRequest{PageSize: 3})
	if err != nil {
		t.Fatalf("list intents: %v", err)
	}
	if len(resp.Intents) != 3 {
		t.Fatalf("expected 3 intents, got %d", len(resp.Intents))
	}
	if resp.Intents[0].IntentID != created[4] {
		t.Fatalf("expected newest intent first, got %s", resp.Intents[0].IntentID)
	}
	if !resp.PageInfo.HasMore || resp.PageInfo.NextPageToken == "" {
		t.Fatalf("expected another page, got %+v", resp.PageInfo)
	}

	next, err := svc.List(ctx, domain.ListIntentRequest{PageSize: 3, PageToken: resp.PageInfo.NextPageToken})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(next.Intents) != 2 {
		t.Fatalf("expected 2 intents on second page, got %d", len(next.Intents))
	}
	if next.Intents[0].IntentID != created[1] || next.Intents[1].IntentID != created[0] {
		t.Fatalf("unexpected second page order: %s, %s", next.Intents[0].IntentID, next.Intents[1].IntentID)
	}
	if next.PageInfo.HasMore {
		t.Fatalf("expected last page, got %+v", next.PageInfo)
	}

	// merchant isolation
	other, err := svc.List(merchantContext(snowflake.ID(202)), domain.ListIntentRequest{PageSize: 10})
	if err != nil {
		t.Fatalf("list other merchant: %v", err)
	}
	if len(other.Intents) != 0 {
		t.Fatalf("expected no intents for other merchant, got %d", len(other.Intents))
	}

	if _, err := svc.List(ctx, domain.ListIntentRequest{Status: domain.Status("BOGUS")}); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestListPaymentIntentsStatusFilter(t *testing.T) {
	db := setupTestDB(t)
	processor := &fakeProcessor{status: "requires_payment_method"}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, processor, clk)

	ctx := merchantContext(snowflake.ID(101))

	clk.Advance(time.Minute)
	first, err := svc.Create(ctx, domain.CreateIntentRequest{Amount: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	clk.Advance(time.Minute)
	if _, err := svc.Create(ctx, domain.CreateIntentRequest{Amount: 200, Currency: "USD"}); err != nil {
		t.Fatalf("create intent: %v", err)
	}

	if _, err := svc.UpdateStatus(ctx, domain.UpdateStatusRequest{IntentID: first.IntentID, Status: domain.StatusCanceled}); err != nil {
		t.Fatalf("update status: %v", err)
	}

	resp, err := svc.List(ctx, domain.ListIntentRequest{PageSize: 10, Status: domain.StatusCanceled})
	if err != nil {
		t.Fatalf("list canceled: %v", err)
	}
	if len(resp.Intents) != 1 || resp.Intents[0].IntentID != first.IntentID {
		t.Fatalf("expected only the canceled intent, got %+v", resp.Intents)
	}
}

func TestUpdateStatus(t *testing.T) {
	db := setupTestDB(t)
	processor := &fakeProcessor{status: "requires_payment_method"}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, processor, clk)

	ctx := merchantContext(snowflake.ID(101))
	intent, err := svc.Create(ctx, domain.CreateIntentRequest{Amount: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	clk.Advance(2 * time.Minute)
	wantUpdatedAt := clk.Now().UTC()

	updated, err := svc.UpdateStatus(ctx, domain.UpdateStatusRequest{IntentID: intent.IntentID, Status: domain.StatusProcessing})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if updated.Status != domain.StatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", updated.Status)
	}
	if !updated.UpdatedAt.Equal(wantUpdatedAt) {
		t.Fatalf("expected updated_at %s, got %s", wantUpdatedAt, updated.UpdatedAt)
	}

	// the persisted row carries the same timestamp as the returned projection
	stored, err := svc.GetByID(ctx, domain.GetIntentRequest{IntentID: intent.IntentID})
	if err != nil {
		t.Fatalf("get intent: %v", err)
	}
	if !stored.UpdatedAt.Equal(wantUpdatedAt) {
		t.Fatalf("expected stored updated_at %s, got %s", wantUpdatedAt, stored.UpdatedAt)
	}

	// same-status update is a no-op
	again, err := svc.UpdateStatus(ctx, domain.UpdateStatusRequest{IntentID: intent.IntentID, Status: domain.StatusProcessing})
	if err != nil {
		t.Fatalf("repeat update: %v", err)
	}
	if again.Status != domain.StatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", again.Status)
	}

	if _, err := svc.UpdateStatus(ctx, domain.UpdateStatusRequest{IntentID: intent.IntentID, Status: domain.Status("bogus")}); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
	if _, err := svc.UpdateStatus(merchantContext(snowflake.ID(202)), domain.UpdateStatusRequest{IntentID: intent.IntentID, Status: domain.StatusCanceled}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestSyncWithProcessor(t *testing.T) {
	db := setupTestDB(t)
	processor := &fakeProcessor{status: "requires_payment_method"}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := newTestService(t, db, processor, clk)

	ctx := merchantContext(snowflake.ID(101))
	intent, err := svc.Create(ctx, domain.CreateIntentRequest{Amount: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	processor.status = "succeeded"
	clk.Advance(time.Minute)
	wantUpdatedAt := clk.Now().UTC()

	synced, err := svc.SyncWithProcessor(ctx, domain.GetIntentRequest{IntentID: intent.IntentID})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if synced.Status != domain.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED after sync, got %s", synced.Status)
	}
	if !synced.UpdatedAt.Equal(wantUpdatedAt) {
		t.Fatalf("expected updated_at %s, got %s", wantUpdatedAt, synced.UpdatedAt)
	}
	if processor.retrieveCount != 1 {
		t.Fatalf("expected one retrieve call, got %d", processor.retrieveCount)
	}

	// unchanged remote status leaves the row untouched
	clk.Advance(time.Minute)
	again, err := svc.SyncWithProcessor(ctx, domain.GetIntentRequest{IntentID: intent.IntentID})
	if err != nil {
		t.Fatalf("repeat sync: %v", err)
	}
	if again.Status != domain.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", again.Status)
	}
	if !again.UpdatedAt.Equal(wantUpdatedAt) {
		t.Fatalf("expected updated_at unchanged at %s, got %s", wantUpdatedAt, again.UpdatedAt)
	}

	if _, err := svc.SyncWithProcessor(merchantContext(snowflake.ID(202)), domain.GetIntentRequest{IntentID: intent.IntentID}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for foreign merchant, got %v", err)
	}
	if _, err := svc.SyncWithProcessor(ctx, domain.GetIntentRequest{IntentID: "pi_does_not_exist"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReconcileFromWebhook(t *testing.T) {
	db := setupTestDB(t)
	processor := &fakeProcessor{status: "processing"}
	clk := clock.NewFakeClock(time.Now())
	svc := newTestService(t, db, processor, clk)

	ctx := merchantContext(snowflake.ID(101))
	intent, err := svc.Create(ctx, domain.CreateIntentRequest{Amount: 100, Currency: "USD"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.Status != domain.StatusCreated {
		t.Fatalf("expected CREATED after create, got %s", intent.Status)
	}

	event := domain.StatusEvent{
		Provider:       "stripe",
		EventID:        "evt_1",
		RemoteIntentID: *intent.StripeIntentID,
		RemoteStatus:   "succeeded",
	}
	reconciled, err := svc.ReconcileFromWebhook(context.Background(), event)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if reconciled.Status != domain.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", reconciled.Status)
	}

	// replayed event keeps the stored status
	replayed, err := svc.ReconcileFromWebhook(context.Background(), event)
	if err != nil {
		t.Fatalf("replay reconcile: %v", err)
	}
	if replayed.Status != domain.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED after replay, got %s", replayed.Status)
	}

	if _, err := svc.ReconcileFromWebhook(context.Background(), domain.StatusEvent{Provider: "stripe", EventID: "evt_2", RemoteIntentID: "pi_unknown", RemoteStatus: "succeeded"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown remote id, got %v", err)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := map[string]domain.Status{
		"requires_payment_method": domain.StatusCreated,
		"requires_confirmation":   domain.StatusCreated,
		"requires_action":         domain.StatusCreated,
		"processing":              domain.StatusProcessing,
		"succeeded":               domain.StatusSucceeded,
		"SUCCEEDED":               domain.StatusSucceeded,
		"canceled":                domain.StatusCanceled,
		"requires_capture":        domain.StatusFailed,
		"":                        domain.StatusFailed,
	}
	for remote, want := range cases {
		if got := domain.MapProcessorStatus(remote); got != want {
			t.Fatalf("MapProcessorStatus(%q) = %s, want %s", remote, got, want)
		}
	}
}
