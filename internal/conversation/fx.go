package conversation

import (
	"github.com/smallbiznis/penwork/internal/conversation/domain"
	"github.com/smallbiznis/penwork/internal/conversation/repository"
	"github.com/smallbiznis/penwork/internal/conversation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("conversation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
	fx.Invoke(service.RegisterConsumer),
)
