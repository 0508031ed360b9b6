package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/payflow-io/payflow/internal/clock"
	"github.com/payflow-io/payflow/internal/config"
	"github.com/payflow-io/payflow/internal/observability"
	"github.com/payflow-io/payflow/internal/server"
	"github.com/payflow-io/payflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
