package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is the processing state of a payment intent.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusProcessing Status = "PROCESSING"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusCanceled   Status = "CANCELED"
	StatusFailed     Status = "FAILED"
)

// ValidStatus reports whether s is one of the known statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusCreated, StatusProcessing, StatusSucceeded, StatusCanceled, StatusFailed:
		return true
	default:
		return false
	}
}

// MapProcessorStatus translates a processor-side status string into the
// local intent status. Unknown values map to FAILED.
func MapProcessorStatus(remote string) Status {
	switch strings.ToLower(strings.TrimSpace(remote)) {
	case "requires_payment_method", "requires_confirmation", "requires_action":
		return StatusCreated
	case "processing":
		return StatusProcessing
	case "succeeded":
		return StatusSucceeded
	case "canceled":
		return StatusCanceled
	default:
		return StatusFailed
	}
}

type PaymentIntent struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	IntentID       string         `json:"intent_id" gorm:"type:text;not null;uniqueIndex"`
	StripeIntentID *string        `json:"stripe_intent_id" gorm:"type:text;uniqueIndex"`
	MerchantID     snowflake.ID   `json:"merchant_id" gorm:"not null;index"`
	Amount         int64          `json:"amount" gorm:"not null"`
	Currency       string         `json:"currency" gorm:"type:text;not null"`
	Description    string         `json:"description" gorm:"type:text"`
	Status         Status         `json:"status" gorm:"type:text;not null"`
	ClientSecret   string         `json:"client_secret" gorm:"type:text"`
	Metadata       datatypes.JSON `json:"metadata" gorm:"type:jsonb"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"not null"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }
