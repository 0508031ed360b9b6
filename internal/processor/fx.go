package processor

import (
	"github.com/payflow-io/payflow/internal/config"
	"github.com/payflow-io/payflow/internal/observability/metrics"
	"github.com/payflow-io/payflow/internal/processor/domain"
	"github.com/payflow-io/payflow/internal/processor/stripe"
	"go.uber.org/fx"
)

type ClientParams struct {
	fx.In

	Config  config.Config
	Metrics *metrics.Metrics `optional:"true"`
}

var Module = fx.Module("processor",
	fx.Provide(
		func(p ClientParams) (domain.Client, error) {
			return stripe.NewClient(
				p.Config.StripeAPIKey,
				p.Config.StripeAccountID,
				stripe.WithMetrics(p.Metrics),
			)
		},
		func(cfg config.Config) (domain.WebhookAdapter, error) {
			return stripe.NewWebhookAdapter(cfg.StripeWebhookSecret)
		},
	),
)
