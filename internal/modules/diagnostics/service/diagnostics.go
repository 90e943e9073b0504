package service

import (
	"context"
	"fmt"
	"time"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
	connector "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/connector/service"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/scheduler"
)

// Веса категорий. Аутентификация весит больше всех: без неё ключ мёртв.
var categoryWeights = map[models.ProbeCategory]float64{
	models.ProbeConnectivity: 0.15,
	models.ProbeAuth:         0.30,
	models.ProbePermissions:  0.15,
	models.ProbeBalance:      0.15,
	models.ProbeTrading:      0.15,
	models.ProbeMarketData:   0.10,
}

// probeOrder — фиксированный порядок прогона.
var probeOrder = []models.ProbeCategory{
	models.ProbeConnectivity,
	models.ProbeAuth,
	models.ProbePermissions,
	models.ProbeBalance,
	models.ProbeTrading,
	models.ProbeMarketData,
}

var remediationHints = map[models.IssueCode]string{
	models.IssueIPWhitelist:   "add the engine egress IP to the API key whitelist",
	models.IssueInvalidAPIKey: "re-issue the API key and update stored credentials",
	models.IssueAuthFailure:   "check key/secret pair and server clock drift",
	models.IssueNoTradePerm:   "enable derivatives trading permission for the key",
	models.IssueConnectivity:  "check exchange status page and egress networking",
	models.IssueRateLimited:   "reduce probe frequency or request a higher limit",
}

// Runner гоняет структурированные пробы против коннектора.
type Runner struct {
	registry     *connector.Registry
	clk          scheduler.Clock
	probeTimeout time.Duration
}

func NewRunner(registry *connector.Registry, clk scheduler.Clock, probeTimeout time.Duration) *Runner {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Runner{registry: registry, clk: clk, probeTimeout: probeTimeout}
}

// ConnectorID — стабильный идентификатор коннектора в отчётах.
func ConnectorID(cred models.ExchangeCredential) string {
	return fmt.Sprintf("%s:%d:%s", cred.Exchange, cred.UserID, cred.Environment)
}

// RunFull прогоняет весь порядок проб. Упавшая connectivity рубит
// зависимые пробы; упавшая auth рубит permissions/balance/trading,
// но market data (публичная) всё равно проверяется.
func (r *Runner) RunFull(ctx context.Context, cred models.ExchangeCredential) models.DiagnosticReport {
	report := models.DiagnosticReport{
		ConnectorID: ConnectorID(cred),
		UserID:      cred.UserID,
		Exchange:    cred.Exchange,
		Environment: cred.Environment,
		GeneratedAt: r.clk.Now(),
	}

	conn, err := r.registry.For(cred)
	if err != nil {
		for _, cat := range probeOrder {
			report.Results = append(report.Results, r.failed(report.ConnectorID, cat,
				models.ReasonUnsupportedInstrument, err.Error()))
		}
		report.Overall = models.StatusFailed
		report.CriticalIssues = append(report.CriticalIssues, issue(models.IssueConnectivity))
		return report
	}

	diag, ok := conn.(connector.Diagnosable)
	if !ok {
		// коннектор без диагностической поверхности — проверяем только auth
		diag = nil
	}

	connectivityOK := true
	authOK := true

	for _, cat := range probeOrder {
		switch {
		case !connectivityOK && cat != models.ProbeConnectivity:
			report.Results = append(report.Results, r.failed(report.ConnectorID, cat,
				models.ReasonConnectivityFailure, "skipped: no connectivity"))
			continue
		case !authOK && authDependent(cat):
			report.Results = append(report.Results, r.failed(report.ConnectorID, cat,
				models.ReasonAuthFailed, "skipped: authentication failed"))
			continue
		}

		res := r.probe(ctx, report.ConnectorID, cat, conn, diag)
		report.Results = append(report.Results, res)

		if !res.OK {
			if cat == models.ProbeConnectivity {
				connectivityOK = false
			}
			if cat == models.ProbeAuth {
				authOK = false
			}
		}
	}

	report.Overall = Overall(report.Results)
	report.CriticalIssues = CriticalIssues(report.Results)
	return report
}

// QuickCheck — лёгкий режим для непрерывного мониторинга:
// connectivity + authentication.
func (r *Runner) QuickCheck(ctx context.Context, cred models.ExchangeCredential) (bool, []models.DiagnosticResult) {
	conn, err := r.registry.For(cred)
	if err != nil {
		return false, []models.DiagnosticResult{r.failed(ConnectorID(cred),
			models.ProbeConnectivity, models.ReasonUnsupportedInstrument, err.Error())}
	}
	diag, _ := conn.(connector.Diagnosable)

	id := ConnectorID(cred)
	results := []models.DiagnosticResult{
		r.probe(ctx, id, models.ProbeConnectivity, conn, diag),
	}
	if results[0].OK {
		results = append(results, r.probe(ctx, id, models.ProbeAuth, conn, diag))
	}

	for _, res := range results {
		if !res.OK {
			return false, results
		}
	}
	return true, results
}

func authDependent(cat models.ProbeCategory) bool {
	switch cat {
	case models.ProbePermissions, models.ProbeBalance, models.ProbeTrading:
		return true
	}
	return false
}

func (r *Runner) probe(ctx context.Context, id string, cat models.ProbeCategory,
	conn connector.Connector, diag connector.Diagnosable) models.DiagnosticResult {

	pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	started := time.Now()
	var err error
	switch cat {
	case models.ProbeConnectivity:
		if diag != nil {
			err = diag.Ping(pctx)
		}
	case models.ProbeAuth, models.ProbeBalance:
		_, err = conn.GetBalance(pctx, "USDT")
	case models.ProbePermissions:
		if diag != nil {
			err = diag.CheckPermissions(pctx)
		}
	case models.ProbeTrading:
		if diag != nil {
			err = diag.CheckTrading(pctx)
		} else {
			_, err = conn.ListPositions(pctx)
		}
	case models.ProbeMarketData:
		if diag != nil {
			err = diag.CheckMarketData(pctx)
		}
	}

	res := models.DiagnosticResult{
		ConnectorID: id,
		Category:    cat,
		OK:          err == nil,
		Latency:     time.Since(started),
		CheckedAt:   r.clk.Now(),
	}
	if err != nil {
		res.Reason = models.ReasonOf(err)
		res.Detail = err.Error()
	}
	return res
}

func (r *Runner) failed(id string, cat models.ProbeCategory, reason models.ReasonCode, detail string) models.DiagnosticResult {
	return models.DiagnosticResult{
		ConnectorID: id,
		Category:    cat,
		OK:          false,
		Reason:      reason,
		Detail:      detail,
		CheckedAt:   r.clk.Now(),
	}
}

// Overall — взвешенная оценка. EXCELLENT только при 100% успехе;
// любой провал аутентификации не пускает выше PARTIAL.
func Overall(results []models.DiagnosticResult) models.OverallStatus {
	var total, ok float64
	authFailed := false
	for _, res := range results {
		w := categoryWeights[res.Category]
		total += w
		if res.OK {
			ok += w
		} else if res.Category == models.ProbeAuth {
			authFailed = true
		}
	}
	if total == 0 {
		return models.StatusFailed
	}

	ratio := ok / total
	var status models.OverallStatus
	switch {
	case ratio >= 1.0:
		status = models.StatusExcellent
	case ratio >= 0.8:
		status = models.StatusGood
	case ratio >= 0.5:
		status = models.StatusPartial
	case ratio >= 0.25:
		status = models.StatusLimited
	default:
		status = models.StatusFailed
	}

	if authFailed && (status == models.StatusExcellent || status == models.StatusGood) {
		status = models.StatusPartial
	}
	return status
}

// CriticalIssues собирает список проблем с ремедиацией, без дублей.
func CriticalIssues(results []models.DiagnosticResult) []models.CriticalIssue {
	seen := make(map[models.IssueCode]bool)
	var issues []models.CriticalIssue

	add := func(code models.IssueCode) {
		if !seen[code] {
			seen[code] = true
			issues = append(issues, issue(code))
		}
	}

	for _, res := range results {
		if res.OK {
			continue
		}
		switch res.Reason {
		case models.ReasonAuthFailed:
			add(models.IssueAuthFailure)
			add(models.IssueInvalidAPIKey)
		case models.ReasonIPRestricted:
			add(models.IssueIPWhitelist)
		case models.ReasonInsufficientPerms:
			add(models.IssueNoTradePerm)
		case models.ReasonRateLimited:
			add(models.IssueRateLimited)
		case models.ReasonConnectivityFailure, models.ReasonTimeout:
			if res.Category == models.ProbeConnectivity {
				add(models.IssueConnectivity)
			}
		}
		if res.Category == models.ProbeAuth && res.Reason != models.ReasonAuthFailed {
			// auth-проба упала по иной причине — всё равно критично
			add(models.IssueAuthFailure)
		}
	}
	return issues
}

func issue(code models.IssueCode) models.CriticalIssue {
	return models.CriticalIssue{Code: code, Hint: remediationHints[code]}
}
