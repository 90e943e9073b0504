package repo

import (
	"go.uber.org/fx"

	diag "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/diagnostics/service"
	orch "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/orchestrator/service"
)

func Module() fx.Option {
	return fx.Module("repo",
		fx.Provide(
			NewUsers,
			NewCredentials,
			NewExecutions,
			NewSummaries,
			NewReports,
			func(c *Credentials) diag.CredentialStore { return c },
			func(r *Reports) diag.ReportSink { return r },
			func(u *Users) orch.UserSource { return u },
			func(c *Credentials) orch.CredentialSource { return c },
			func(e *Executions) orch.ExecutionLog { return e },
			func(s *Summaries) orch.SummarySink { return s },
		),
	)
}
