package server

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	apikeydomain "github.com/payflow-io/payflow/internal/apikey/domain"
	auditdomain "github.com/payflow-io/payflow/internal/audit/domain"
	auditcontext "github.com/payflow-io/payflow/internal/auditcontext"
	"github.com/payflow-io/payflow/internal/merchantcontext"
	obscontext "github.com/payflow-io/payflow/internal/observability/context"
)

const (
	// HeaderMerchant is rejected on inbound requests; merchant identity is
	// derived solely from the api_keys table.
	HeaderMerchant = "X-Merchant-Id"
	HeaderAPIKey   = "X-API-Key"

	contextAuthTypeKey    = "auth_type"
	contextMerchantIDKey  = "merchant_id"
	contextAPIKeyIDKey    = "api_key_id"
	contextAPIKeyScopeKey = "api_key_scope"
)

// APIKeyRequired authenticates requests using an API key only.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if requestHasMerchantID(c) {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		raw := extractAPIKey(c)
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		hash := apikeydomain.HashAPIKey(raw)
		now := time.Now().UTC()

		var record struct {
			ID         snowflake.ID `gorm:"column:id"`
			MerchantID snowflake.ID `gorm:"column:merchant_id"`
			KeyHash    string       `gorm:"column:key_hash"`
			Scope      string       `gorm:"column:scope"`
		}

		if err := s.db.WithContext(c.Request.Context()).Raw(
			`SELECT id, merchant_id, key_hash, scope
			 FROM api_keys
			 WHERE key_hash = ?
			   AND is_active = true
			   AND (expires_at IS NULL OR expires_at > ?)
			 LIMIT 1`,
			hash,
			now,
		).Scan(&record).Error; err != nil {
			AbortWithError(c, err)
			return
		}

		if record.ID == 0 || subtle.ConstantTimeCompare([]byte(record.KeyHash), []byte(hash)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		ctx = context.WithValue(ctx, contextAuthTypeKey, string(auditdomain.ActorTypeAPIKey))
		ctx = context.WithValue(ctx, contextMerchantIDKey, int64(record.MerchantID))
		ctx = context.WithValue(ctx, contextAPIKeyIDKey, int64(record.ID))
		ctx = context.WithValue(ctx, contextAPIKeyScopeKey, record.Scope)
		ctx = merchantcontext.WithMerchantID(ctx, int64(record.MerchantID))
		ctx = obscontext.WithMerchantID(ctx, record.MerchantID.String())
		ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeAPIKey), record.ID.String())

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractAPIKey(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(c.GetHeader(HeaderAPIKey))
}

func requestHasMerchantID(c *gin.Context) bool {
	if strings.TrimSpace(c.GetHeader(HeaderMerchant)) != "" {
		return true
	}
	if value, ok := c.GetQuery("merchant_id"); ok && strings.TrimSpace(value) != "" {
		return true
	}
	if value, ok := c.GetQuery("merchantId"); ok && strings.TrimSpace(value) != "" {
		return true
	}
	return false
}
