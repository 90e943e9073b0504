package intake

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/config"
	healthsvc "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/health/service"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/intake/service"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/scheduler"
)

func Module() fx.Option {
	return fx.Module("intake",
		fx.Provide(
			func(clk scheduler.Clock, cfg *config.Config) *service.Intake {
				return service.NewIntake(clk, cfg.SignalFreshness)
			},
			func(envs chan service.Envelope, state *healthsvc.State) *service.Server {
				return service.NewServer(envs, state.TouchSignal)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, srv *service.Server, cfg *config.Config) {
			addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.PublicPort)
			hs := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					ln, err := net.Listen("tcp", addr)
					if err != nil {
						return err
					}
					go func() { _ = hs.Serve(ln) }()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					return hs.Shutdown(ctx)
				},
			})
		}),
	)
}
