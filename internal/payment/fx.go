package payment

import (
	"github.com/smallbiznis/penwork/internal/payment/adapters"
	"github.com/smallbiznis/penwork/internal/payment/adapters/payhere"
	"github.com/smallbiznis/penwork/internal/payment/domain"
	"github.com/smallbiznis/penwork/internal/payment/repository"
	paymentservice "github.com/smallbiznis/penwork/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			payhere.NewFactory(),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(func(s *paymentservice.Service) domain.Service { return s }),
)
