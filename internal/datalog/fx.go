package datalog

import (
	"github.com/smallbiznis/stockline/internal/datalog/repository"
	"github.com/smallbiznis/stockline/internal/datalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("datalog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
