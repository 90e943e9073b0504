package main

import (
	"context"
	"fmt"
	"log"

	"github.com/bytedance/sonic"
	"go.uber.org/fx"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/config"
	connector "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/connector"
	connsvc "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/connector/service"
	diagsvc "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/diagnostics/service"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/postgres"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/notify"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/repo"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/logger"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/scheduler"
)

// Разовый полный прогон диагностики по всем ключам: печатает отчёты и
// обновляет статусы кредов. Для cron и ручных проверок.
func main() {
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}
	logger.SetServiceName("diag")

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
			func() scheduler.Clock {
				return scheduler.NewReal()
			},
			func(reg *connsvc.Registry, clk scheduler.Clock, cfg *config.Config) *diagsvc.Runner {
				return diagsvc.NewRunner(reg, clk, cfg.ProbeTimeout)
			},
			func(runner *diagsvc.Runner, creds diagsvc.CredentialStore, sink diagsvc.ReportSink,
				alerter notify.Alerter, clk scheduler.Clock, cfg *config.Config) *diagsvc.Monitor {
				return diagsvc.NewMonitor(runner, creds, sink, alerter, clk, cfg.MonitorInterval)
			},
		),
		config.Module(),
		postgres.Module(),
		repo.Module(),
		notify.Module(),
		connector.Module(),
		fx.Invoke(func(mon *diagsvc.Monitor, ctx context.Context) error {
			reports, err := mon.RunAll(ctx)
			if err != nil {
				return err
			}
			for _, report := range reports {
				out, err := sonic.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Printf("%s\n", out)
			}
			return nil
		}),
	)

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		log.Fatal(err)
	}
	_ = app.Stop(ctx)
}
