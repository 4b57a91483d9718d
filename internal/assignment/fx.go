package assignment

import (
	"github.com/smallbiznis/penwork/internal/assignment/repository"
	"github.com/smallbiznis/penwork/internal/assignment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("assignment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
