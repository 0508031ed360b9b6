package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/payflow-io/payflow/internal/apikey/domain"
	"github.com/payflow-io/payflow/internal/audit/masking"
)

func (s *Server) ListAPIKeys(c *gin.Context) {
	resp, err := s.apiKeySvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CreateAPIKey(c *gin.Context) {
	var req apikeydomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.apiKeySvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := resp.KeyID
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "api_key.create", "api_key", &targetID, map[string]any{
			"key_id":  resp.KeyID,
			"api_key": masking.MaskSecret(resp.APIKey),
		})
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) RotateAPIKey(c *gin.Context) {
	keyID := strings.TrimSpace(c.Param("key_id"))
	resp, err := s.apiKeySvc.Rotate(c.Request.Context(), keyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := keyID
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "api_key.rotate", "api_key", &targetID, map[string]any{
			"key_id":     keyID,
			"new_key_id": resp.KeyID,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	keyID := strings.TrimSpace(c.Param("key_id"))
	if err := s.apiKeySvc.Revoke(c.Request.Context(), keyID); err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := keyID
		_ = s.auditSvc.AuditLog(c.Request.Context(), nil, "", nil, "api_key.revoke", "api_key", &targetID, map[string]any{
			"key_id": keyID,
		})
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
