package service

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
	connector "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/connector/service"
	decision "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/decision/service"
	intake "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/intake/service"
	risk "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/risk/service"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/store"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/logger"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/scheduler"
)

// UserSource — активные пользователи движка.
type UserSource interface {
	ListActive(ctx context.Context) ([]models.User, error)
}

// CredentialSource — ключи пользователей. Читаем, никогда не меняем
// статус: это прерогатива диагностики.
type CredentialSource interface {
	ListCredentials(ctx context.Context) ([]models.ExchangeCredential, error)
}

// ExecutionLog — журнал записей фан-аута.
type ExecutionLog interface {
	InsertBatch(ctx context.Context, records []models.ExecutionRecord) error
}

// SummarySink — итоги прогона. Провал записи итога фатален: движок без
// аудита работать не должен.
type SummarySink interface {
	Upsert(ctx context.Context, sum models.RunSummary) error
}

// VerdictSource — текущий рыночный вердикт.
type VerdictSource interface {
	Current() models.MarketVerdict
}

// Options — параметры конвейера.
type Options struct {
	OracleTimeout     time.Duration
	FanoutConcurrency int
	FanoutTimeout     time.Duration
	FailureCooldown   time.Duration
}

func (o Options) withDefaults() Options {
	if o.OracleTimeout <= 0 {
		o.OracleTimeout = 20 * time.Second
	}
	if o.FanoutConcurrency <= 0 {
		o.FanoutConcurrency = 4
	}
	if o.FanoutTimeout <= 0 {
		o.FanoutTimeout = 2 * time.Minute
	}
	if o.FailureCooldown <= 0 {
		o.FailureCooldown = 2 * time.Minute
	}
	return o
}

// Orchestrator прогоняет сигнал через весь конвейер:
// валидация → классификация → маршрутизация → вердикт-гейт → фан-аут.
type Orchestrator struct {
	intake   *intake.Intake
	router   *decision.Router
	oracle   decision.Oracle
	policy   *risk.Policy
	registry *connector.Registry
	state    *store.StateStore
	users    UserSource
	creds    CredentialSource
	execs    ExecutionLog
	sums     SummarySink
	verdicts VerdictSource
	clk      scheduler.Clock
	opts     Options

	marks markCache
	locks keyedLocks

	mu   sync.Mutex
	seen map[string]*seenEntry // signalID -> обработанные пары, идемпотентность реплеев

	cdMu      sync.Mutex
	cooldowns map[lockKey]time.Time // (user, instrument) -> не открывать до
}

// seenKey — пара, по которой дедуплицируются реплеи. Exchange в ключе:
// фан-аут обязан накрыть все креды юзера, реплей — ни одну повторно.
type seenKey struct {
	UserID   int64
	Exchange string
}

type seenEntry struct {
	pairs   map[seenKey]bool
	expires time.Time
}

func NewOrchestrator(
	in *intake.Intake,
	router *decision.Router,
	oracle decision.Oracle,
	policy *risk.Policy,
	registry *connector.Registry,
	state *store.StateStore,
	users UserSource,
	creds CredentialSource,
	execs ExecutionLog,
	sums SummarySink,
	verdicts VerdictSource,
	clk scheduler.Clock,
	opts Options,
) *Orchestrator {
	return &Orchestrator{
		intake:    in,
		router:    router,
		oracle:    oracle,
		policy:    policy,
		registry:  registry,
		state:     state,
		users:     users,
		creds:     creds,
		execs:     execs,
		sums:      sums,
		verdicts:  verdicts,
		clk:       clk,
		opts:      opts.withDefaults(),
		seen:      make(map[string]*seenEntry),
		cooldowns: make(map[lockKey]time.Time),
	}
}

// ProcessSignal — один сигнал от конверта до журнала. Ошибка наверх уходит
// только по отказу инфраструктуры; отказ по каждому юзеру изолируется
// в его ExecutionRecord.
func (o *Orchestrator) ProcessSignal(ctx context.Context, env intake.Envelope) (models.RunSummary, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "process_signal")
	defer span.Finish()
	span.SetTag("signal.id", env.ID)
	span.SetTag("signal.instrument", env.Instrument)

	started := o.clk.Now()
	o.prune(started)
	sum := models.RunSummary{
		SignalID:  env.ID,
		StartedAt: started,
		Reasons:   make(map[models.ReasonCode]int),
	}

	sig, err := o.intake.Validate(env)
	if err != nil {
		code := models.ReasonOf(err)
		sum.Class = models.ClassUnclassified
		sum.Skipped = 1
		sum.Reasons[code]++
		logger.Info("orchestrator: signal %s rejected at intake: %v", env.ID, err)
		return o.finish(ctx, span, sum)
	}

	open := o.state.OpenPositionsByInstrument(sig.Instrument)
	class := intake.Classify(sig, open)
	sum.Class = class
	span.SetTag("signal.class", string(class))

	route := o.router.Route(class)
	if route.NoOp {
		// закрывать нечего — дешёвый выход без фан-аута
		logger.Info("orchestrator: signal %s class=%s no-op (%s)", sig.ID, class, route.ReasonCode)
		return o.finish(ctx, span, sum)
	}

	verdict := o.verdicts.Current()
	sum.Verdict = verdict.Direction
	span.SetTag("verdict", string(verdict.Direction))

	// NONE держит движок полностью: ноль исполнений за период,
	// закрытия включительно
	if verdict.Direction == models.VerdictNone {
		sum.Skipped = 1
		sum.Reasons[models.ReasonNoVerdict]++
		logger.Info("orchestrator: signal %s blocked, market verdict is NONE", sig.ID)
		return o.finish(ctx, span, sum)
	}
	if !sig.CloseIntent && !verdict.Direction.Allows(sig.Direction) {
		sum.Skipped = 1
		sum.Reasons[models.ReasonNoVerdict]++
		logger.Info("orchestrator: signal %s direction %s not allowed by verdict %s",
			sig.ID, sig.Direction, verdict.Direction)
		return o.finish(ctx, span, sum)
	}

	if route.RouteToReasoning {
		octx, cancel := context.WithTimeout(ctx, o.opts.OracleTimeout)
		approval, err := o.oracle.Decide(octx, sig, class, verdict, open)
		cancel()
		if err != nil {
			// оракул недоступен — осторожный отказ, не слепое исполнение
			sum.Skipped = 1
			sum.Reasons[models.ReasonOf(err)]++
			logger.Error("orchestrator: oracle failed for signal %s: %v", sig.ID, err)
			return o.finish(ctx, span, sum)
		}
		if !approval.Approved {
			sum.Skipped = 1
			sum.Reasons[models.ReasonNoVerdict]++
			logger.Info("orchestrator: signal %s rejected by oracle: %s", sig.ID, approval.Reason)
			return o.finish(ctx, span, sum)
		}
	}
	sum.Approved = 1

	fctx, cancel := context.WithTimeout(ctx, o.opts.FanoutTimeout)
	records := o.fanOut(fctx, sig, class, verdict)
	cancel()

	for _, rec := range records {
		switch rec.Outcome {
		case models.OutcomeExecuted:
			sum.Executed++
		case models.OutcomeFailed:
			sum.Failed++
			sum.Reasons[rec.Reason]++
		case models.OutcomeSkipped:
			sum.Skipped++
			sum.Reasons[rec.Reason]++
		}
	}

	if len(records) > 0 {
		if err := o.execs.InsertBatch(ctx, records); err != nil {
			logger.Error("orchestrator: persist execution records for %s: %v", sig.ID, err)
		}
	}
	return o.finish(ctx, span, sum)
}

// finish закрывает итог прогона. Итог — аудиторский след, без него движок
// не имеет права продолжать, поэтому отказ записи фатален.
func (o *Orchestrator) finish(ctx context.Context, span opentracing.Span, sum models.RunSummary) (models.RunSummary, error) {
	sum.FinishedAt = o.clk.Now()
	span.SetTag("executed", sum.Executed)
	span.SetTag("failed", sum.Failed)
	span.SetTag("skipped", sum.Skipped)

	if o.sums != nil {
		if err := o.sums.Upsert(ctx, sum); err != nil {
			logger.Fatal("orchestrator: persist run summary for %s: %v", sum.SignalID, err)
		}
	}
	logger.Info("orchestrator: signal %s done class=%s verdict=%s executed=%d failed=%d skipped=%d",
		sum.SignalID, sum.Class, sum.Verdict, sum.Executed, sum.Failed, sum.Skipped)
	return sum, nil
}

// markSeen регистрирует тройку (signal, user, exchange); false = уже
// обрабатывали. Запись живёт до ExpiresAt сигнала.
func (o *Orchestrator) markSeen(signalID string, key seenKey, expires time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.seen[signalID]
	if !ok {
		e = &seenEntry{pairs: make(map[seenKey]bool), expires: expires}
		o.seen[signalID] = e
	}
	if e.pairs[key] {
		return false
	}
	e.pairs[key] = true
	return true
}

// prune выкидывает протухшие записи идемпотентности и кулдаунов, иначе
// карты растут до бесконечности жизни процесса.
func (o *Orchestrator) prune(now time.Time) {
	o.mu.Lock()
	for id, e := range o.seen {
		if now.After(e.expires) {
			delete(o.seen, id)
		}
	}
	o.mu.Unlock()

	o.cdMu.Lock()
	for key, until := range o.cooldowns {
		if now.After(until) {
			delete(o.cooldowns, key)
		}
	}
	o.cdMu.Unlock()
}

// inCooldown: после провала исполнения инструмент юзера отдыхает,
// чтобы не долбить биржу тем же ордером.
func (o *Orchestrator) inCooldown(key lockKey) bool {
	o.cdMu.Lock()
	defer o.cdMu.Unlock()
	until, ok := o.cooldowns[key]
	if !ok {
		return false
	}
	if o.clk.Now().After(until) {
		delete(o.cooldowns, key)
		return false
	}
	return true
}

func (o *Orchestrator) startCooldown(key lockKey) {
	o.cdMu.Lock()
	o.cooldowns[key] = o.clk.Now().Add(o.opts.FailureCooldown)
	o.cdMu.Unlock()
}

// SetMark обновляет кеш mark-цен (кормится из публичного стрима).
func (o *Orchestrator) SetMark(instrument string, mark float64) {
	o.marks.set(instrument, mark)
}

func (o *Orchestrator) Mark(instrument string) (float64, bool) {
	return o.marks.get(instrument)
}

type markCache struct {
	mu    sync.RWMutex
	marks map[string]float64
}

func (m *markCache) set(instrument string, mark float64) {
	m.mu.Lock()
	if m.marks == nil {
		m.marks = make(map[string]float64)
	}
	m.marks[instrument] = mark
	m.mu.Unlock()
}

func (m *markCache) get(instrument string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mark, ok := m.marks[instrument]
	return mark, ok
}

// keyedLocks сериализует исполнение по паре (user, instrument):
// два сигнала по одному инструменту юзера не гоняются параллельно.
// Записи refcount-ятся и удаляются, когда последний держатель отпускает.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[lockKey]*refLock
}

type lockKey struct {
	UserID     int64
	Instrument string
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedLocks) lock(key lockKey) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[lockKey]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
