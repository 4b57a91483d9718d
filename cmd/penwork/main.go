package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/penwork/internal/clock"
	"github.com/smallbiznis/penwork/internal/config"
	"github.com/smallbiznis/penwork/internal/migration"
	"github.com/smallbiznis/penwork/internal/observability"
	"github.com/smallbiznis/penwork/internal/scheduler"
	"github.com/smallbiznis/penwork/internal/server"
	"github.com/smallbiznis/penwork/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP API, realtime fan-out and every domain service
		server.Module,

		// Paysheet reconcile loop; guarded by a redis lock when several
		// instances run it
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
