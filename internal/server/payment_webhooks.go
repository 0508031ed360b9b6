package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	intentdomain "github.com/payflow-io/payflow/internal/intent/domain"
	processordomain "github.com/payflow-io/payflow/internal/processor/domain"
)

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	if provider != s.webhookAdapter.Provider() {
		AbortWithError(c, ErrNotFound)
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	if err := s.webhookAdapter.Verify(ctx, payload, c.Request.Header); err != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, provider, "rejected")
		AbortWithError(c, err)
		return
	}

	event, err := s.webhookAdapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, processordomain.ErrEventIgnored) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		AbortWithError(c, err)
		return
	}

	if _, err := s.intentSvc.ReconcileFromWebhook(ctx, intentdomain.StatusEvent{
		Provider:       provider,
		EventID:        event.EventID,
		RemoteIntentID: event.RemoteIntentID,
		RemoteStatus:   event.RemoteStatus,
		RawPayload:     payload,
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
