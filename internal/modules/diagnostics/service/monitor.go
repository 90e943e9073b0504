package service

import (
	"context"
	"sync"
	"time"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/notify"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/logger"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/scheduler"
)

// CredentialStore — источник кредов и единственная точка смены их статуса.
// Статус меняет только диагностика, больше никто.
type CredentialStore interface {
	ListCredentials(ctx context.Context) ([]models.ExchangeCredential, error)
	SetValidationStatus(ctx context.Context, key models.CredKey, status models.ValidationStatus, checkedAt time.Time) error
}

// ReportSink принимает полные отчёты; последний отчёт по коннектору
// замещает предыдущий.
type ReportSink interface {
	SaveReport(ctx context.Context, report models.DiagnosticReport) error
}

// Monitor гоняет лёгкие проверки по всем кредам с заданным интервалом
// и алертит при переходе healthy → failing.
type Monitor struct {
	runner   *Runner
	creds    CredentialStore
	sink     ReportSink
	alerter  notify.Alerter
	clk      scheduler.Clock
	interval time.Duration

	onSweep func(t time.Time) // health-отметка, опционально

	mu      sync.Mutex
	healthy map[models.CredKey]bool
}

// SetSweepHook ставит колбек, дергаемый после каждого цикла мониторинга.
func (m *Monitor) SetSweepHook(fn func(t time.Time)) { m.onSweep = fn }

func NewMonitor(runner *Runner, creds CredentialStore, sink ReportSink,
	alerter notify.Alerter, clk scheduler.Clock, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Monitor{
		runner:   runner,
		creds:    creds,
		sink:     sink,
		alerter:  alerter,
		clk:      clk,
		interval: interval,
		healthy:  make(map[models.CredKey]bool),
	}
}

func (m *Monitor) Interval() time.Duration { return m.interval }

// Run блокируется до отмены контекста.
func (m *Monitor) Run(ctx context.Context) {
	scheduler.Every(ctx, m.clk, m.interval, func(ctx context.Context) {
		m.Sweep(ctx)
	})
}

// Sweep — один цикл: quick check каждого ключа, трекинг переходов.
func (m *Monitor) Sweep(ctx context.Context) {
	creds, err := m.creds.ListCredentials(ctx)
	if err != nil {
		logger.Error("monitor: list credentials: %v", err)
		return
	}

	for _, cred := range creds {
		ok, results := m.runner.QuickCheck(ctx, cred)
		m.observe(ctx, cred, ok, results)
	}
	if m.onSweep != nil {
		m.onSweep(m.clk.Now())
	}
}

func (m *Monitor) observe(ctx context.Context, cred models.ExchangeCredential, ok bool, results []models.DiagnosticResult) {
	key := cred.Key()

	m.mu.Lock()
	was, seen := m.healthy[key]
	m.healthy[key] = ok
	m.mu.Unlock()

	now := m.clk.Now()
	if ok {
		if err := m.creds.SetValidationStatus(ctx, key, models.CredentialValid, now); err != nil {
			logger.Error("monitor: set status %v: %v", key, err)
		}
		if seen && !was {
			logger.Info("monitor: credential recovered user=%d exchange=%s", cred.UserID, cred.Exchange)
		}
		return
	}

	if err := m.creds.SetValidationStatus(ctx, key, models.CredentialInvalid, now); err != nil {
		logger.Error("monitor: set status %v: %v", key, err)
	}

	// алертим только на переход: healthy → failing
	if seen && was && m.alerter != nil {
		m.alerter.CredentialDegraded(models.CredentialAlert{
			AccountID: cred.UserID,
			Exchange:  cred.Exchange,
			Issues:    CriticalIssues(results),
			Timestamp: now,
		})
	}
	logger.Error("monitor: credential failing user=%d exchange=%s results=%d",
		cred.UserID, cred.Exchange, len(results))
}

// RunAll прогоняет полную диагностику всех кредов, обновляет статусы
// и сохраняет отчёты. Используется cmd/diag и стартовой проверкой движка.
func (m *Monitor) RunAll(ctx context.Context) ([]models.DiagnosticReport, error) {
	creds, err := m.creds.ListCredentials(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]models.DiagnosticReport, 0, len(creds))
	for _, cred := range creds {
		report := m.runner.RunFull(ctx, cred)
		reports = append(reports, report)

		status := models.CredentialValid
		if report.Overall == models.StatusFailed || report.Overall == models.StatusLimited {
			status = models.CredentialInvalid
		}
		if err := m.creds.SetValidationStatus(ctx, cred.Key(), status, report.GeneratedAt); err != nil {
			logger.Error("diagnostics: set status %v: %v", cred.Key(), err)
		}
		if m.sink != nil {
			if err := m.sink.SaveReport(ctx, report); err != nil {
				logger.Error("diagnostics: save report %s: %v", report.ConnectorID, err)
			}
		}

		m.mu.Lock()
		m.healthy[cred.Key()] = status == models.CredentialValid
		m.mu.Unlock()
	}
	return reports, nil
}
