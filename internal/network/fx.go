package network

import (
	"github.com/smallbiznis/uplink/internal/network/repository"
	"github.com/smallbiznis/uplink/internal/network/service"
	"go.uber.org/fx"
)

var Module = fx.Module("network.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
