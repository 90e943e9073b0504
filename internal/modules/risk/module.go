package risk

import (
	"go.uber.org/fx"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/risk/service"
)

func Module() fx.Option {
	return fx.Module("risk",
		fx.Provide(
			service.NewPolicy,
		),
	)
}
