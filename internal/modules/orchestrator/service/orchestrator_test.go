package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/models"
	connector "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/connector/service"
	decision "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/decision/service"
	intake "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/intake/service"
	risk "github.com/coinbitclub/market-bot-newdeploy-sub011/internal/modules/risk/service"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/internal/store"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/logger"
	"github.com/coinbitclub/market-bot-newdeploy-sub011/pkg/scheduler"
)

func init() {
	_ = logger.Init()
}

// fakeConn исполняет ордера в памяти и умеет падать по требованию.
type fakeConn struct {
	userID int64

	mu       sync.Mutex
	orders   []connector.OrderRequest
	orderErr error
}

func (f *fakeConn) Exchange() string { return "fake" }

func (f *fakeConn) GetBalance(context.Context, string) (models.Balance, error) {
	return models.Balance{
		UserID: f.userID, Exchange: "fake", Asset: "USDT",
		Total: 1000, Available: 1000, UpdatedAt: time.Now(),
	}, nil
}

func (f *fakeConn) ListPositions(context.Context) ([]models.Position, error) { return nil, nil }

func (f *fakeConn) PlaceOrder(_ context.Context, req connector.OrderRequest) (connector.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return connector.OrderResult{}, f.orderErr
	}
	f.orders = append(f.orders, req)
	return connector.OrderResult{OrderID: "ord-1", Latency: time.Millisecond}, nil
}

func (f *fakeConn) placed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type memUsers struct{ users []models.User }

func (m memUsers) ListActive(context.Context) ([]models.User, error) { return m.users, nil }

type memCreds struct{ creds []models.ExchangeCredential }

func (m memCreds) ListCredentials(context.Context) ([]models.ExchangeCredential, error) {
	return m.creds, nil
}

type memExecLog struct {
	mu      sync.Mutex
	records []models.ExecutionRecord
}

func (m *memExecLog) InsertBatch(_ context.Context, records []models.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

type memSums struct {
	mu   sync.Mutex
	sums []models.RunSummary
}

func (m *memSums) Upsert(_ context.Context, sum models.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sums = append(m.sums, sum)
	return nil
}

type fixedVerdict struct{ v models.MarketVerdict }

func (f fixedVerdict) Current() models.MarketVerdict { return f.v }

type harness struct {
	orch  *Orchestrator
	clk   *scheduler.Fake
	state *store.StateStore
	reg   *connector.Registry
	conns map[int64]*fakeConn
	execs *memExecLog
	sums  *memSums
}

func user(id int64, tier models.Tier) models.User {
	return models.User{ID: id, Name: "u", Tier: tier, Active: true}
}

func cred(userID int64, status models.ValidationStatus) models.ExchangeCredential {
	return models.ExchangeCredential{
		UserID: userID, Exchange: "fake", Environment: models.EnvMainnet,
		ValidationStatus: status,
	}
}

func newHarness(t *testing.T, verdict models.VerdictDirection,
	users []models.User, creds []models.ExchangeCredential) *harness {
	t.Helper()

	clk := scheduler.NewFake(time.Now())
	conns := make(map[int64]*fakeConn)
	reg := connector.NewRegistry(connector.Options{})
	reg.Register("fake", func(c models.ExchangeCredential, _ connector.Options) connector.Connector {
		conn, ok := conns[c.UserID]
		if !ok {
			conn = &fakeConn{userID: c.UserID}
			conns[c.UserID] = conn
		}
		return conn
	})
	for _, c := range creds {
		if _, ok := conns[c.UserID]; !ok {
			conns[c.UserID] = &fakeConn{userID: c.UserID}
		}
	}

	state := store.NewStateStore()
	for _, u := range users {
		state.UpsertBalance(models.Balance{
			UserID: u.ID, Exchange: "fake", Asset: "USDT",
			Total: 1000, Available: 1000, UpdatedAt: clk.Now(),
		})
	}

	execs := &memExecLog{}
	sums := &memSums{}

	orch := NewOrchestrator(
		intake.NewIntake(clk, 5*time.Minute),
		decision.NewRouter(decision.NewMetrics()),
		decision.NewRuleOracle(),
		risk.NewPolicy(),
		reg,
		state,
		memUsers{users: users},
		memCreds{creds: creds},
		execs,
		sums,
		fixedVerdict{v: models.MarketVerdict{Direction: verdict, GeneratedAt: clk.Now()}},
		clk,
		Options{FanoutConcurrency: 2, OracleTimeout: time.Second, FanoutTimeout: time.Minute},
	)
	orch.SetMark("BTCUSDT", 50000)

	return &harness{orch: orch, clk: clk, state: state, reg: reg, conns: conns, execs: execs, sums: sums}
}

func envelope(id, action string, ts time.Time) intake.Envelope {
	return intake.Envelope{
		ID: id, Instrument: "BTCUSDT", Action: action, Source: "tv", Timestamp: ts,
	}
}

func TestProcessSignalFanOut(t *testing.T) {
	users := []models.User{user(1, models.TierVIP), user(2, models.TierPremium), user(3, models.TierBasic)}
	creds := []models.ExchangeCredential{
		cred(1, models.CredentialValid),
		cred(2, models.CredentialValid),
		cred(3, models.CredentialInvalid), // диагностика пометила ключ мёртвым
	}
	h := newHarness(t, models.VerdictLong, users, creds)

	sum, err := h.orch.ProcessSignal(context.Background(), envelope("s1", "LONG", h.clk.Now()))
	require.NoError(t, err)

	assert.Equal(t, models.ClassNormal, sum.Class)
	assert.Equal(t, 2, sum.Executed)
	assert.Equal(t, 0, sum.Failed)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Reasons[models.ReasonCredentialInvalid])

	assert.Equal(t, 1, h.conns[1].placed())
	assert.Equal(t, 1, h.conns[2].placed())
	assert.Equal(t, 0, h.conns[3].placed())

	// у каждого исполненного — защитные уровни от политики
	order := h.conns[2].orders[0]
	assert.Greater(t, order.StopLoss, 0.0)
	assert.Greater(t, order.TakeProfit, 0.0)
	assert.Equal(t, models.DirLong, order.Side)
}

func TestProcessSignalNoVerdictGate(t *testing.T) {
	users := []models.User{user(1, models.TierVIP)}
	creds := []models.ExchangeCredential{cred(1, models.CredentialValid)}
	h := newHarness(t, models.VerdictNone, users, creds)

	sum, err := h.orch.ProcessSignal(context.Background(), envelope("s1", "LONG", h.clk.Now()))
	require.NoError(t, err)

	assert.Zero(t, sum.Executed)
	assert.Equal(t, 1, sum.Reasons[models.ReasonNoVerdict])
	assert.Equal(t, 0, h.conns[1].placed())
}

func TestProcessSignalVerdictDirectionGate(t *testing.T) {
	users := []models.User{user(1, models.TierVIP)}
	creds := []models.ExchangeCredential{cred(1, models.CredentialValid)}
	h := newHarness(t, models.VerdictShort, users, creds)

	sum, err := h.orch.ProcessSignal(context.Background(), envelope("s1", "LONG", h.clk.Now()))
	require.NoError(t, err)

	assert.Zero(t, sum.Executed)
	assert.Equal(t, 0, h.conns[1].placed())
}

func TestProcessSignalStale(t *testing.T) {
	h := newHarness(t, models.VerdictLong,
		[]models.User{user(1, models.TierVIP)},
		[]models.ExchangeCredential{cred(1, models.CredentialValid)})

	sum, err := h.orch.ProcessSignal(context.Background(),
		envelope("s1", "LONG", h.clk.Now().Add(-time.Hour)))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Reasons[models.ReasonStaleSignal])
	assert.Equal(t, 0, h.conns[1].placed())
}

func TestProcessSignalCloseWithoutPositionIsNoOp(t *testing.T) {
	h := newHarness(t, models.VerdictLong,
		[]models.User{user(1, models.TierVIP)},
		[]models.ExchangeCredential{cred(1, models.CredentialValid)})

	sum, err := h.orch.ProcessSignal(context.Background(), envelope("s1", "CLOSE_LONG", h.clk.Now()))
	require.NoError(t, err)

	assert.Equal(t, models.ClassCloseWithoutPosition, sum.Class)
	assert.Zero(t, sum.Executed)
	assert.Equal(t, 0, h.conns[1].placed())
}

func TestProcessSignalCloseReduceOnly(t *testing.T) {
	h := newHarness(t, models.VerdictLong,
		[]models.User{user(1, models.TierVIP)},
		[]models.ExchangeCredential{cred(1, models.CredentialValid)})

	h.state.UpsertPosition(models.Position{
		UserID: 1, Exchange: "fake", Instrument: "BTCUSDT", Side: models.DirLong,
		Size: 0.4, Open: true, UpdatedAt: h.clk.Now(),
	})

	sum, err := h.orch.ProcessSignal(context.Background(), envelope("s1", "FECHE_LONG", h.clk.Now()))
	require.NoError(t, err)

	assert.Equal(t, models.ClassCloseWithPosition, sum.Class)
	assert.Equal(t, 1, sum.Executed)

	require.Equal(t, 1, h.conns[1].placed())
	order := h.conns[1].orders[0]
	assert.True(t, order.ReduceOnly)
	assert.Equal(t, 0.4, order.Qty)

	// позиция в кеше закрыта
	p, ok := h.state.Position(models.PosKey{UserID: 1, Exchange: "fake", Instrument: "BTCUSDT", Side: models.DirLong})
	require.True(t, ok)
	assert.False(t, p.Open)
}

func TestProcessSignalReplayIsIdempotent(t *testing.T) {
	h := newHarness(t, models.VerdictLong,
		[]models.User{user(1, models.TierVIP)},
		[]models.ExchangeCredential{cred(1, models.CredentialValid)})

	env := envelope("s1", "LONG", h.clk.Now())
	_, err := h.orch.ProcessSignal(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, 1, h.conns[1].placed())

	sum, err := h.orch.ProcessSignal(context.Background(), env)
	require.NoError(t, err)
	assert.Zero(t, sum.Executed, "replayed signal must not re-execute")
	assert.Equal(t, 1, h.conns[1].placed())
}

func TestProcessSignalCloseBlockedUnderNoneVerdict(t *testing.T) {
	h := newHarness(t, models.VerdictNone,
		[]models.User{user(1, models.TierVIP)},
		[]models.ExchangeCredential{cred(1, models.CredentialValid)})

	h.state.UpsertPosition(models.Position{
		UserID: 1, Exchange: "fake", Instrument: "BTCUSDT", Side: models.DirLong,
		Size: 0.4, Open: true, UpdatedAt: h.clk.Now(),
	})

	// NONE = ноль исполнений за период, закрытия не исключение
	sum, err := h.orch.ProcessSignal(context.Background(), envelope("s1", "CLOSE_LONG", h.clk.Now()))
	require.NoError(t, err)

	assert.Zero(t, sum.Executed)
	assert.Equal(t, 1, sum.Reasons[models.ReasonNoVerdict])
	assert.Equal(t, 0, h.conns[1].placed())

	p, ok := h.state.Position(models.PosKey{UserID: 1, Exchange: "fake", Instrument: "BTCUSDT", Side: models.DirLong})
	require.True(t, ok)
	assert.True(t, p.Open, "position must stay untouched")
}

func TestProcessSignalNoMarkPriceSkips(t *testing.T) {
	h := newHarness(t, models.VerdictLong,
		[]models.User{user(1, models.TierVIP)},
		[]models.ExchangeCredential{cred(1, models.CredentialValid)})

	// по ETHUSDT кеш mark-цен пуст: даже VIP без защиты не получает
	// ордер с нулевым объёмом
	env := intake.Envelope{
		ID: "s1", Instrument: "ETHUSDT", Action: "LONG", Source: "tv", Timestamp: h.clk.Now(),
	}
	sum, err := h.orch.ProcessSignal(context.Background(), env)
	require.NoError(t, err)

	assert.Zero(t, sum.Executed)
	assert.Equal(t, 1, sum.Reasons[models.ReasonNoMarkPrice])
	assert.Equal(t, 0, h.conns[1].placed())
}

func TestProcessSignalFanOutCoversAllCredentials(t *testing.T) {
	creds := []models.ExchangeCredential{
		cred(1, models.CredentialValid),
		{UserID: 1, Exchange: "fake2", Environment: models.EnvMainnet,
			ValidationStatus: models.CredentialValid},
	}
	h := newHarness(t, models.VerdictLong, []models.User{user(1, models.TierVIP)}, creds)

	conn2 := &fakeConn{userID: 1}
	h.reg.Register("fake2", func(models.ExchangeCredential, connector.Options) connector.Connector {
		return conn2
	})

	env := envelope("s1", "LONG", h.clk.Now())
	sum, err := h.orch.ProcessSignal(context.Background(), env)
	require.NoError(t, err)

	// обе биржи юзера исполняются, порядок кредов роли не играет
	assert.Equal(t, 2, sum.Executed)
	assert.Equal(t, 1, h.conns[1].placed())
	assert.Equal(t, 1, conn2.placed())

	// реплей не трогает ни одну из бирж повторно
	sum, err = h.orch.ProcessSignal(context.Background(), env)
	require.NoError(t, err)
	assert.Zero(t, sum.Executed)
	assert.Equal(t, 1, h.conns[1].placed())
	assert.Equal(t, 1, conn2.placed())
}

func TestProcessSignalCloseSkipsUsersWithoutPosition(t *testing.T) {
	users := []models.User{user(1, models.TierVIP), user(2, models.TierVIP)}
	creds := []models.ExchangeCredential{cred(1, models.CredentialValid), cred(2, models.CredentialValid)}
	h := newHarness(t, models.VerdictLong, users, creds)

	h.state.UpsertPosition(models.Position{
		UserID: 1, Exchange: "fake", Instrument: "BTCUSDT", Side: models.DirLong,
		Size: 0.4, Open: true, UpdatedAt: h.clk.Now(),
	})

	sum, err := h.orch.ProcessSignal(context.Background(), envelope("s1", "CLOSE_LONG", h.clk.Now()))
	require.NoError(t, err)

	assert.Equal(t, models.ClassCloseWithPosition, sum.Class)
	assert.Equal(t, 1, sum.Executed)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Reasons[models.ReasonNoOpenPosition])
	assert.Equal(t, 1, h.conns[1].placed())
	assert.Equal(t, 0, h.conns[2].placed())
}

func TestStateMapsAreEvicted(t *testing.T) {
	h := newHarness(t, models.VerdictLong,
		[]models.User{user(1, models.TierVIP)},
		[]models.ExchangeCredential{cred(1, models.CredentialValid)})

	h.conns[1].orderErr = &connector.APIError{Kind: models.ReasonRateLimited, RawCode: "10006"}
	_, err := h.orch.ProcessSignal(context.Background(), envelope("s1", "LONG", h.clk.Now()))
	require.NoError(t, err)

	h.orch.mu.Lock()
	seenBefore := len(h.orch.seen)
	h.orch.mu.Unlock()
	h.orch.cdMu.Lock()
	cdBefore := len(h.orch.cooldowns)
	h.orch.cdMu.Unlock()
	require.Equal(t, 1, seenBefore)
	require.Equal(t, 1, cdBefore)

	// окно свежести (5m) и кулдаун (2m) истекли: следующий прогон подметает
	h.conns[1].orderErr = nil
	h.clk.Advance(6 * time.Minute)
	_, err = h.orch.ProcessSignal(context.Background(), envelope("s2", "LONG", h.clk.Now()))
	require.NoError(t, err)

	h.orch.mu.Lock()
	_, s1Alive := h.orch.seen["s1"]
	h.orch.mu.Unlock()
	assert.False(t, s1Alive, "expired idempotency entry must be evicted")

	h.orch.cdMu.Lock()
	cdAfter := len(h.orch.cooldowns)
	h.orch.cdMu.Unlock()
	assert.Zero(t, cdAfter, "expired cooldowns must be evicted")

	h.orch.locks.mu.Lock()
	locksAfter := len(h.orch.locks.locks)
	h.orch.locks.mu.Unlock()
	assert.Zero(t, locksAfter, "released keyed locks must not linger")
}

func TestProcessSignalErrorIsolation(t *testing.T) {
	users := []models.User{user(1, models.TierVIP), user(2, models.TierVIP)}
	creds := []models.ExchangeCredential{cred(1, models.CredentialValid), cred(2, models.CredentialValid)}
	h := newHarness(t, models.VerdictLong, users, creds)

	h.conns[1].orderErr = &connector.APIError{Kind: models.ReasonRateLimited, RawCode: "10006"}

	sum, err := h.orch.ProcessSignal(context.Background(), envelope("s1", "LONG", h.clk.Now()))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Executed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Reasons[models.ReasonRateLimited])
	assert.Equal(t, 1, h.conns[2].placed(), "other users must not be affected")
}

func TestProcessSignalBothVerdictExcludesHedging(t *testing.T) {
	users := []models.User{user(1, models.TierVIP), user(2, models.TierVIP)}
	creds := []models.ExchangeCredential{cred(1, models.CredentialValid), cred(2, models.CredentialValid)}
	h := newHarness(t, models.VerdictBoth, users, creds)

	// у первого юзера открыт LONG: SHORT по тому же инструменту запрещён
	h.state.UpsertPosition(models.Position{
		UserID: 1, Exchange: "fake", Instrument: "BTCUSDT", Side: models.DirLong,
		Size: 0.1, Open: true, UpdatedAt: h.clk.Now(),
	})

	sum, err := h.orch.ProcessSignal(context.Background(), envelope("s1", "SHORT", h.clk.Now()))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Executed)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Reasons[models.ReasonOppositePosition])
	assert.Equal(t, 0, h.conns[1].placed())
	assert.Equal(t, 1, h.conns[2].placed())
}

func TestProcessSignalFailureStartsCooldown(t *testing.T) {
	h := newHarness(t, models.VerdictLong,
		[]models.User{user(1, models.TierVIP)},
		[]models.ExchangeCredential{cred(1, models.CredentialValid)})

	h.conns[1].orderErr = &connector.APIError{Kind: models.ReasonRateLimited, RawCode: "10006"}
	_, err := h.orch.ProcessSignal(context.Background(), envelope("s1", "LONG", h.clk.Now()))
	require.NoError(t, err)

	// инструмент остывает: следующий сигнал пропускается без похода на биржу
	h.conns[1].orderErr = nil
	sum, err := h.orch.ProcessSignal(context.Background(), envelope("s2", "LONG", h.clk.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Reasons[models.ReasonCooldownActive])
	assert.Equal(t, 0, h.conns[1].placed())

	// кулдаун истёк — исполнение снова идёт
	h.clk.Advance(3 * time.Minute)
	sum, err = h.orch.ProcessSignal(context.Background(), envelope("s3", "LONG", h.clk.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Executed)
	assert.Equal(t, 1, h.conns[1].placed())
}

func TestProcessSignalBelowMinimumNotional(t *testing.T) {
	h := newHarness(t, models.VerdictLong,
		[]models.User{user(1, models.TierFree)},
		[]models.ExchangeCredential{cred(1, models.CredentialValid)})

	// FREE: 100 * 0.10 * 2 = 20 < 50
	h.state.UpsertBalance(models.Balance{
		UserID: 1, Exchange: "fake", Asset: "USDT",
		Total: 100, Available: 100, UpdatedAt: h.clk.Now().Add(time.Second),
	})

	sum, err := h.orch.ProcessSignal(context.Background(), envelope("s1", "LONG", h.clk.Now()))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Reasons[models.ReasonBelowMinimumNotional])
	assert.Equal(t, 0, h.conns[1].placed())
}

func TestProcessSignalPersistsRecordsAndSummary(t *testing.T) {
	h := newHarness(t, models.VerdictLong,
		[]models.User{user(1, models.TierVIP)},
		[]models.ExchangeCredential{cred(1, models.CredentialValid)})

	_, err := h.orch.ProcessSignal(context.Background(), envelope("s1", "LONG", h.clk.Now()))
	require.NoError(t, err)

	require.Len(t, h.execs.records, 1)
	assert.Equal(t, models.OutcomeExecuted, h.execs.records[0].Outcome)
	assert.Equal(t, "ord-1", h.execs.records[0].OrderID)

	require.Len(t, h.sums.sums, 1)
	assert.Equal(t, "s1", h.sums.sums[0].SignalID)
	assert.False(t, h.sums.sums[0].FinishedAt.Before(h.sums.sums[0].StartedAt))
}
