package sentiment

import (
	"context"

	"go.uber.org/fx"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/config"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/sentiment/service"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/scheduler"
)

func Module() fx.Option {
	return fx.Module("sentiment",
		fx.Provide(
			func() service.FearGreedSource { return service.NewFearGreedFeed() },
			func() service.DominanceSource { return service.NewDominanceFeed() },
			func() service.PulseSource { return service.NewMarketPulseFeed() },
			func(fg service.FearGreedSource, dom service.DominanceSource, pulse service.PulseSource,
				clk scheduler.Clock, cfg *config.Config) *service.Aggregator {
				return service.NewAggregator(fg, dom, pulse, clk, cfg.VerdictCadence)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, agg *service.Aggregator, clk scheduler.Clock, cfg *config.Config, ctx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go scheduler.Every(ctx, clk, cfg.VerdictCadence, agg.Refresh)
					return nil
				},
			})
		}),
	)
}
