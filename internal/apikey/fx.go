package apikey

import (
	"github.com/payflow-io/payflow/internal/apikey/repository"
	"github.com/payflow-io/payflow/internal/apikey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
