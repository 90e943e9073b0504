package decision

import (
	"go.uber.org/fx"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/decision/service"
)

func Module() fx.Option {
	return fx.Module("decision",
		fx.Provide(
			service.NewMetrics,
			service.NewRouter,
			func() service.Oracle { return service.NewRuleOracle() },
		),
	)
}
