package orchestrator

import (
	"context"

	"go.uber.org/fx"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/config"
	connector "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/connector/service"
	decision "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/decision/service"
	intake "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/intake/service"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/orchestrator/service"
	risk "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/risk/service"
	sentiment "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/sentiment/service"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/store"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/scheduler"
)

func Module() fx.Option {
	return fx.Module("orchestrator",
		fx.Provide(
			store.NewStateStore,
			func() chan intake.Envelope { return make(chan intake.Envelope, 64) },
			func(agg *sentiment.Aggregator) service.VerdictSource { return agg },
			func(
				in *intake.Intake,
				router *decision.Router,
				oracle decision.Oracle,
				policy *risk.Policy,
				registry *connector.Registry,
				state *store.StateStore,
				users service.UserSource,
				creds service.CredentialSource,
				execs service.ExecutionLog,
				sums service.SummarySink,
				verdicts service.VerdictSource,
				clk scheduler.Clock,
				cfg *config.Config,
			) *service.Orchestrator {
				return service.NewOrchestrator(in, router, oracle, policy, registry, state,
					users, creds, execs, sums, verdicts, clk, service.Options{
						OracleTimeout:     cfg.OracleTimeout,
						FanoutConcurrency: cfg.FanoutConcurrency,
						FanoutTimeout:     cfg.FanoutTimeout,
						FailureCooldown:   cfg.FailureCooldown,
					})
			},
			func(orch *service.Orchestrator, stream *connector.MarkStream, cfg *config.Config) *service.Refresher {
				return service.NewRefresher(orch, stream, cfg.BalanceRefreshInterval, cfg.PositionRefreshInterval)
			},
		),
		fx.Invoke(func(
			lc fx.Lifecycle,
			orch *service.Orchestrator,
			ref *service.Refresher,
			envs chan intake.Envelope,
			ctx context.Context,
		) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go ref.Run(ctx)
					go func() {
						for {
							select {
							case <-ctx.Done():
								return
							case env := <-envs:
								_, _ = orch.ProcessSignal(ctx, env)
							}
						}
					}()
					return nil
				},
			})
		}),
	)
}
