package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/penwork/internal/assignment"
	"github.com/smallbiznis/penwork/internal/audit"
	"github.com/smallbiznis/penwork/internal/authorization"
	"github.com/smallbiznis/penwork/internal/clock"
	"github.com/smallbiznis/penwork/internal/config"
	"github.com/smallbiznis/penwork/internal/observability"
	"github.com/smallbiznis/penwork/internal/paysheet"
	"github.com/smallbiznis/penwork/internal/providers/pdf"
	"github.com/smallbiznis/penwork/internal/ratelimit"
	"github.com/smallbiznis/penwork/internal/realtime"
	"github.com/smallbiznis/penwork/internal/scheduler"
	"github.com/smallbiznis/penwork/internal/storage"
	"github.com/smallbiznis/penwork/pkg/db"
	"go.uber.org/fx"
)

// The worker runs only the reconcile loop. Paysheet refresh signals it emits
// reach API instances through the redis event transport.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services required by scheduler
		scheduler.Module,
		paysheet.Module,
		assignment.Module,
		authorization.Module,
		audit.Module,

		// Transitive dependencies of the paysheet service
		storage.Module,
		ratelimit.Module,
		realtime.Module,
		pdf.Module,

		// No server module!
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
