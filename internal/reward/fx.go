package reward

import (
	"github.com/smallbiznis/uplink/internal/reward/repository"
	"github.com/smallbiznis/uplink/internal/reward/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reward.service",
	fx.Provide(repository.Provide),
	fx.Provide(repository.ProvideStock),
	fx.Provide(service.NewService),
)
