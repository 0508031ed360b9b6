package intent

import (
	"github.com/payflow-io/payflow/internal/intent/repository"
	"github.com/payflow-io/payflow/internal/intent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("intent.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
