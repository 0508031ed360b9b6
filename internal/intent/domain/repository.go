package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/payflow-io/payflow/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, intent *PaymentIntent) error
	FindByIntentID(ctx context.Context, db *gorm.DB, intentID string) (*PaymentIntent, error)
	FindByStripeIntentID(ctx context.Context, db *gorm.DB, stripeIntentID string) (*PaymentIntent, error)
	List(ctx context.Context, db *gorm.DB, merchantID snowflake.ID, filter ListIntentFilter, page pagination.Pagination) ([]*PaymentIntent, error)
	ExistsByIntentID(ctx context.Context, db *gorm.DB, intentID string) (bool, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, intentID string, status Status, updatedAt time.Time) error
}
