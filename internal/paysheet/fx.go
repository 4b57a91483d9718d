package paysheet

import (
	"time"

	"github.com/smallbiznis/penwork/internal/cache"
	"github.com/smallbiznis/penwork/internal/config"
	"github.com/smallbiznis/penwork/internal/paysheet/domain"
	"github.com/smallbiznis/penwork/internal/paysheet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("paysheet.service",
	fx.Provide(providePaysheetCache),
	fx.Provide(service.New),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
	fx.Invoke(service.RegisterConsumer),
)

func providePaysheetCache(holder *config.LedgerConfigHolder) cache.PaysheetCache {
	return cache.NewPaysheetCache(func() time.Duration { return holder.Get().CacheTTL })
}
