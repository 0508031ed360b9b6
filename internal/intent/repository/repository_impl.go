package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/payflow-io/payflow/internal/intent/domain"
	"github.com/payflow-io/payflow/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, intent *domain.PaymentIntent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_intents (id, intent_id, stripe_intent_id, merchant_id, amount, currency, description, status, client_secret, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.ID,
		intent.IntentID,
		intent.StripeIntentID,
		intent.MerchantID,
		intent.Amount,
		intent.Currency,
		intent.Description,
		intent.Status,
		intent.ClientSecret,
		intent.Metadata,
		intent.CreatedAt,
		intent.UpdatedAt,
	).Error
}

func (r *repo) FindByIntentID(ctx context.Context, db *gorm.DB, intentID string) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := db.WithContext(ctx).Raw(
		`SELECT id, intent_id, stripe_intent_id, merchant_id, amount, currency, description, status, client_secret, metadata, created_at, updated_at
		 FROM payment_intents WHERE intent_id = ?`,
		intentID,
	).Scan(&intent).Error
	if err != nil {
		return nil, err
	}
	if intent.ID == 0 {
		return nil, nil
	}
	return &intent, nil
}

func (r *repo) FindByStripeIntentID(ctx context.Context, db *gorm.DB, stripeIntentID string) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := db.WithContext(ctx).Raw(
		`SELECT id, intent_id, stripe_intent_id, merchant_id, amount, currency, description, status, client_secret, metadata, created_at, updated_at
		 FROM payment_intents WHERE stripe_intent_id = ?`,
		stripeIntentID,
	).Scan(&intent).Error
	if err != nil {
		return nil, err
	}
	if intent.ID == 0 {
		return nil, nil
	}
	return &intent, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, filter domain.ListIntentFilter, page pagination.Pagination) ([]*domain.PaymentIntent, error) {
	var intents []*domain.PaymentIntent
	stmt := db.WithContext(ctx).
		Model(&domain.PaymentIntent{}).
		Where("merchant_id = ?", merchantID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, err
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, err
		}
		stmt = stmt.Where("created_at < ? OR (created_at = ? AND id < ?)", createdAt, createdAt, cursor.ID)
	}
	if page.PageSize > 0 {
		// one extra row signals another page
		stmt = stmt.Limit(page.PageSize + 1)
	}
	err := stmt.
		Order("created_at desc, id desc").
		Find(&intents).Error
	if err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repo) ExistsByIntentID(ctx context.Context, db *gorm.DB, intentID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payment_intents WHERE intent_id = ?`,
		intentID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, intentID string, status domain.Status, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_intents SET status = ?, updated_at = ? WHERE intent_id = ?`,
		status,
		updatedAt,
		intentID,
	).Error
}
