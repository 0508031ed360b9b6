package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/payflow-io/payflow/internal/processor/domain"
)

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"object"`
	} `json:"data"`
}

// WebhookAdapter verifies Stripe-Signature headers and parses intent status
// events. The secret is fixed at construction.
type WebhookAdapter struct {
	webhookSecret string
}

func NewWebhookAdapter(webhookSecret string) (*WebhookAdapter, error) {
	webhookSecret = strings.TrimSpace(webhookSecret)
	if webhookSecret == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &WebhookAdapter{webhookSecret: webhookSecret}, nil
}

func (a *WebhookAdapter) Provider() string {
	return "stripe"
}

func (a *WebhookAdapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

func (a *WebhookAdapter) Parse(ctx context.Context, payload []byte) (*domain.StatusEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}
	if !strings.HasPrefix(strings.TrimSpace(event.Type), "payment_intent.") {
		return nil, domain.ErrEventIgnored
	}

	remoteID := strings.TrimSpace(event.Data.Object.ID)
	remoteStatus := strings.TrimSpace(event.Data.Object.Status)
	if remoteID == "" || remoteStatus == "" {
		return nil, domain.ErrInvalidPayload
	}

	return &domain.StatusEvent{
		EventID:        strings.TrimSpace(event.ID),
		RemoteIntentID: remoteID,
		RemoteStatus:   remoteStatus,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}
