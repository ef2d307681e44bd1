package volume

import (
	"github.com/smallbiznis/uplink/internal/volume/repository"
	"github.com/smallbiznis/uplink/internal/volume/service"
	"go.uber.org/fx"
)

var Module = fx.Module("volume.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
