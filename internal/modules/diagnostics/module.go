package diagnostics

import (
	"context"

	"go.uber.org/fx"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/config"
	connector "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/connector/service"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/diagnostics/service"
	healthsvc "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/health/service"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/notify"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/scheduler"
)

func Module() fx.Option {
	return fx.Module("diagnostics",
		fx.Provide(
			func(reg *connector.Registry, clk scheduler.Clock, cfg *config.Config) *service.Runner {
				return service.NewRunner(reg, clk, cfg.ProbeTimeout)
			},
			func(runner *service.Runner, creds service.CredentialStore, sink service.ReportSink,
				alerter notify.Alerter, clk scheduler.Clock, cfg *config.Config) *service.Monitor {
				return service.NewMonitor(runner, creds, sink, alerter, clk, cfg.MonitorInterval)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, mon *service.Monitor, state *healthsvc.State, ctx context.Context) {
			mon.SetSweepHook(state.TouchSweep)
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go mon.Run(ctx)
					return nil
				},
			})
		}),
	)
}
