package qualification

import (
	"github.com/smallbiznis/uplink/internal/qualification/repository"
	"github.com/smallbiznis/uplink/internal/qualification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("qualification.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
