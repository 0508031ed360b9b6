package audit

import (
	"github.com/payflow-io/payflow/internal/audit/repository"
	"github.com/payflow-io/payflow/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
