package queue

import (
	"github.com/smallbiznis/stockline/internal/queue/repository"
	"github.com/smallbiznis/stockline/internal/queue/service"
	"go.uber.org/fx"
)

var Module = fx.Module("queue.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
