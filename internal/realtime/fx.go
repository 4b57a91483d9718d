package realtime

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/penwork/internal/clock"
	"github.com/smallbiznis/penwork/internal/config"
	"github.com/smallbiznis/penwork/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("realtime",
	fx.Provide(provideHub),
	fx.Provide(provideBus),
	fx.Provide(func(b *Bus) Publisher { return b }),
)

func provideHub(cfg config.Config) *Hub {
	return NewHub(cfg.Events.SubscriberBuffer)
}

type busParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Hub       *Hub
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *metrics.Metrics `optional:"true"`
	Redis     *redis.Client    `optional:"true"`
}

func provideBus(p busParams) *Bus {
	var transport Transport
	if rt := NewRedisTransport(p.Redis, p.Config.Events.RedisChannel, p.Log); rt != nil {
		transport = rt
	}
	bus := NewBus(BusConfig{QueueSize: p.Config.Events.QueueSize}, p.Hub, transport, p.Clock, p.Metrics, p.Log)

	ctx, cancel := context.WithCancel(context.Background())
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			bus.Start(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return bus.Stop(stopCtx)
		},
	})
	return bus
}
