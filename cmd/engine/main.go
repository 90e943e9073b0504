package main

import (
	"context"
	"log"

	"go.uber.org/fx"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/config"
	connector "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/connector"
	decision "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/decision"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/diagnostics"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/health"
	healthsvc "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/health/service"
	intake "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/intake"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/orchestrator"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/postgres"
	risk "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/risk"
	sentiment "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/sentiment"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/notify"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/repo"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/logger"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/scheduler"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/tracing"
)

const serviceName = "execution-engine"

func main() {
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}
	logger.SetServiceName(serviceName)
	tracing.SetServiceName(serviceName)

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
			func() scheduler.Clock {
				return scheduler.NewReal()
			},
		),
		config.Module(),
		postgres.Module(),
		repo.Module(),
		notify.Module(),
		sentiment.Module(),
		intake.Module(),
		decision.Module(),
		risk.Module(),
		connector.Module(),
		orchestrator.Module(),
		diagnostics.Module(),
		health.Module(),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, state *healthsvc.State) {
			_, closeTracer, err := tracing.InitTracer(tracing.Config{
				Host: cfg.Jaeger.Host,
				Port: cfg.Jaeger.Port,
			})
			if err != nil {
				logger.Error("tracing disabled: %v", err)
				closeTracer = func() {}
			}
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					state.SetReady(true)
					return nil
				},
				OnStop: func(_ context.Context) error {
					closeTracer()
					return nil
				},
			})
		}),
	)
	if err := app.Start(context.Background()); err != nil {
		log.Fatal(err)
	}
	<-app.Done()
}
