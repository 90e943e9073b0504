package connector

import (
	"go.uber.org/fx"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/config"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/connector/service"
)

func Module() fx.Option {
	return fx.Module("connector",
		fx.Provide(
			func(cfg *config.Config) *service.Registry {
				return service.NewRegistry(service.Options{
					Timeout:    cfg.ConnectorTimeout,
					RecvWindow: cfg.RecvWindowMS,
				})
			},
			service.NewMarkStream,
		),
	)
}
