package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/payflow-io/payflow/internal/apikey/domain"
	apikeyrepo "github.com/payflow-io/payflow/internal/apikey/repository"
	apikeyservice "github.com/payflow-io/payflow/internal/apikey/service"
	"github.com/payflow-io/payflow/internal/merchantcontext"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_keys_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE api_keys (
			id BIGINT PRIMARY KEY,
			merchant_id BIGINT NOT NULL,
			key_id TEXT NOT NULL,
			name TEXT NOT NULL,
			scope TEXT NOT NULL,
			key_hash TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			last_used_at DATETIME,
			expires_at DATETIME,
			rotated_from_key_id TEXT
		)`,
		`CREATE UNIQUE INDEX ux_api_keys_merchant_key_id ON api_keys(merchant_id, key_id)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) apikeydomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(40)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return apikeyservice.New(apikeyservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  apikeyrepo.Provide(),
	})
}

func merchantContext(merchantID int64) context.Context {
	return merchantcontext.WithMerchantID(context.Background(), merchantID)
}

func TestCreateAPIKey(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := merchantContext(101)

	secret, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "checkout backend"})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if !strings.HasPrefix(secret.APIKey, "pk_live_key_") {
		t.Fatalf("expected pk_live_key_ prefix, got %q", secret.APIKey)
	}
	if secret.KeyID == "" {
		t.Fatalf("expected key id")
	}

	keys, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
	if keys[0].KeyID != secret.KeyID || !keys[0].IsActive {
		t.Fatalf("unexpected key: %+v", keys[0])
	}
	if keys[0].Scope != apikeydomain.ScopePaymentsWrite {
		t.Fatalf("expected payments:write scope, got %q", keys[0].Scope)
	}

	// the plain secret is never stored
	var stored string
	if err := db.Raw(`SELECT key_hash FROM api_keys WHERE key_id = ?`, secret.KeyID).Scan(&stored).Error; err != nil {
		t.Fatalf("load hash: %v", err)
	}
	if stored == secret.APIKey {
		t.Fatalf("key must be stored hashed")
	}
	if stored != apikeydomain.HashAPIKey(secret.APIKey) {
		t.Fatalf("stored hash does not match the issued key")
	}
}

func TestCreateAPIKeyValidation(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)

	if _, err := svc.Create(context.Background(), apikeydomain.CreateRequest{Name: "x"}); !errors.Is(err, apikeydomain.ErrInvalidMerchant) {
		t.Fatalf("expected invalid merchant, got %v", err)
	}
	if _, err := svc.Create(merchantContext(101), apikeydomain.CreateRequest{Name: "  "}); !errors.Is(err, apikeydomain.ErrInvalidName) {
		t.Fatalf("expected invalid name, got %v", err)
	}
}

func TestRotateAPIKey(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := merchantContext(101)

	original, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "worker"})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	rotated, err := svc.Rotate(ctx, original.KeyID)
	if err != nil {
		t.Fatalf("rotate key: %v", err)
	}
	if rotated.KeyID == original.KeyID {
		t.Fatalf("rotation must mint a new key id")
	}
	if rotated.APIKey == original.APIKey {
		t.Fatalf("rotation must mint a new secret")
	}

	keys, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys after rotation, got %d", len(keys))
	}

	byID := map[string]apikeydomain.Response{}
	for _, key := range keys {
		byID[key.KeyID] = key
	}
	old := byID[original.KeyID]
	if old.ExpiresAt == nil {
		t.Fatalf("old key must get an expiry during the grace period")
	}
	if !old.ExpiresAt.After(time.Now().UTC()) {
		t.Fatalf("old key must stay valid through the grace period")
	}
	next := byID[rotated.KeyID]
	if next.RotatedFromKeyID == nil || *next.RotatedFromKeyID != original.KeyID {
		t.Fatalf("new key must reference the rotated key, got %+v", next)
	}

	// rotating an unknown key fails
	if _, err := svc.Rotate(ctx, "key_missing"); !errors.Is(err, apikeydomain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	// a foreign merchant cannot rotate it
	if _, err := svc.Rotate(merchantContext(202), rotated.KeyID); !errors.Is(err, apikeydomain.ErrNotFound) {
		t.Fatalf("expected not found for foreign merchant, got %v", err)
	}
}

func TestRevokeAPIKey(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db)
	ctx := merchantContext(101)

	secret, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "temp"})
	if err != nil {
		t.Fatalf("create key: %v", err)
	}

	if err := svc.Revoke(ctx, secret.KeyID); err != nil {
		t.Fatalf("revoke key: %v", err)
	}

	keys, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 1 || keys[0].IsActive {
		t.Fatalf("expected revoked key, got %+v", keys)
	}

	// a revoked key cannot be rotated
	if _, err := svc.Rotate(ctx, secret.KeyID); !errors.Is(err, apikeydomain.ErrNotFound) {
		t.Fatalf("expected not found for revoked key, got %v", err)
	}

	if err := svc.Revoke(ctx, "key_missing"); !errors.Is(err, apikeydomain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
