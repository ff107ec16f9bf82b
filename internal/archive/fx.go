package archive

import (
	archivedomain "github.com/smallbiznis/stockline/internal/archive/domain"
	"github.com/smallbiznis/stockline/internal/archive/repository"
	"github.com/smallbiznis/stockline/internal/archive/service"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("archive.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(func(svc archivedomain.Service) queuedomain.Archiver { return svc }),
)
