package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"challenge-core/internal/account"
	"challenge-core/internal/events"
	"challenge-core/internal/rules"
	"challenge-core/internal/validator"
)

var testTime = time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)

type eventSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *eventSink) Publish(ev events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) ofType(t events.Type) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type closerStub struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *closerStub) CloseOpenTrades(context.Context, string, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

type fixture struct {
	engine *Engine
	sink   *eventSink
	closer *closerStub
}

func newFixture(t *testing.T, rs rules.RuleSet) *fixture {
	t.Helper()
	sink := &eventSink{}
	closer := &closerStub{}
	collab := NopCollaborators()
	collab.Closer = closer

	eng := New(Config{
		Registry:      account.NewRegistry(nil, zerolog.Nop()),
		Catalog:       rules.NewCatalog(rs),
		Notifier:      sink,
		Collaborators: collab,
		Logger:        zerolog.Nop(),
	})
	eng.nowFn = func() time.Time { return testTime }
	return &fixture{engine: eng, sink: sink, closer: closer}
}

func (f *fixture) create(t *testing.T) account.State {
	t.Helper()
	st, err := f.engine.CreateAccount(context.Background(), "user-1", "standard", 10000)
	require.NoError(t, err)
	return st
}

func intent() validator.TradeIntent {
	return validator.TradeIntent{Symbol: "EURUSD", Side: "BUY", Volume: 1, Price: 1.1000, StopLoss: 1.0950}
}

func TestCreateAccountSetsExpiry(t *testing.T) {
	f := newFixture(t, rules.Default()) // phase 1 caps at 30 trading days
	st := f.create(t)

	assert.Equal(t, account.StatusActive, st.Status)
	assert.Equal(t, testTime.AddDate(0, 0, 30), st.ExpiresAt)
	assert.Len(t, f.sink.ofType(events.TypeChallengeUpdate), 1)
}

func TestProposeAdmitAndCounters(t *testing.T) {
	f := newFixture(t, rules.Default())
	st := f.create(t)

	res, err := f.engine.OnTradeProposed(context.Background(), st.ID, intent())
	require.NoError(t, err)
	assert.Equal(t, validator.Admit, res.Decision)

	snap, _ := f.engine.Registry().Snapshot(st.ID)
	assert.Equal(t, 1, snap.TotalTrades)
	assert.Equal(t, 1, snap.OpenPositions)
}

// N concurrent proposals against a cap of K must admit exactly K: the
// read-validate-mutate sequence runs under the per-account lock.
func TestConcurrentProposalsRespectDailyCap(t *testing.T) {
	rs := rules.Default()
	rs.MaxTradesPerDay = 5
	f := newFixture(t, rs)
	st := f.create(t)

	const workers = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.OnTradeProposed(context.Background(), st.ID, intent())
			if err != nil {
				return
			}
			if res.Decision == validator.Admit {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, admitted)
	snap, _ := f.engine.Registry().Snapshot(st.ID)
	assert.Equal(t, 5, snap.TotalTrades)
	assert.Equal(t, 5, snap.DailyTradeCount)
}

func TestCloseUpdatesLedgerAndEmits(t *testing.T) {
	f := newFixture(t, rules.Default())
	st := f.create(t)

	trade := Trade{ID: "t1", Symbol: "EURUSD", Side: "BUY", Volume: 100000, OpenPrice: 1.1000}
	res, err := f.engine.OnTradeClosed(context.Background(), st.ID, trade, 1.1010)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, res.Profit, 1e-9)
	assert.InDelta(t, 10100.0, res.NewBalance, 1e-9)

	snap, _ := f.engine.Registry().Snapshot(st.ID)
	assert.Equal(t, 1, snap.Stats.Wins)
	assert.Equal(t, 10100.0, snap.HighestBalance)
	assert.Len(t, f.sink.ofType(events.TypeChallengeUpdate), 2) // created + trade_closed
}

func TestCloseSellSideProfit(t *testing.T) {
	f := newFixture(t, rules.Default())
	st := f.create(t)

	trade := Trade{ID: "t1", Symbol: "EURUSD", Side: "SELL", Volume: 100000, OpenPrice: 1.1000}
	res, err := f.engine.OnTradeClosed(context.Background(), st.ID, trade, 1.0990)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, res.Profit, 1e-9)
}

func TestCloseBreachingDailyCapFailsAccount(t *testing.T) {
	f := newFixture(t, rules.Default()) // 5% daily cap
	st := f.create(t)

	trade := Trade{ID: "t1", Symbol: "EURUSD", Side: "BUY", Volume: 100000, OpenPrice: 1.1000}
	_, err := f.engine.OnTradeClosed(context.Background(), st.ID, trade, 1.0940) // -600
	require.NoError(t, err)

	snap, _ := f.engine.Registry().Snapshot(st.ID)
	assert.Equal(t, account.StatusFailed, snap.Status)
	assert.Equal(t, account.FailMaxDailyDrawdown, snap.FailureReason)
	require.Len(t, f.sink.ofType(events.TypeChallengeFailed), 1)
	assert.Equal(t, 1, f.closer.calls)
}

// A failed close-all leaves the positions for the reconciliation sweep but
// never blocks the terminal transition.
func TestFailureSideEffectsAreBestEffort(t *testing.T) {
	f := newFixture(t, rules.Default())
	st := f.create(t)
	f.closer.err = errors.New("platform down")

	require.NoError(t, f.engine.Registry().WithAccount(context.Background(), st.ID, func(s *account.State) error {
		s.OpenPositions = 2
		return nil
	}))

	err := f.engine.Terminate(context.Background(), st.ID, account.FailManual, "operator action")
	require.NoError(t, err)

	snap, _ := f.engine.Registry().Snapshot(st.ID)
	assert.Equal(t, account.StatusFailed, snap.Status)
	assert.Equal(t, 2, snap.OpenPositions) // close-all failed, sweep retries
	assert.Len(t, f.sink.ofType(events.TypeChallengeFailed), 1)
}

func TestTerminateIsIdempotent(t *testing.T) {
	f := newFixture(t, rules.Default())
	st := f.create(t)

	require.NoError(t, f.engine.Terminate(context.Background(), st.ID, account.FailCancelled, "user request"))
	require.NoError(t, f.engine.Terminate(context.Background(), st.ID, account.FailManual, "late duplicate"))

	snap, _ := f.engine.Registry().Snapshot(st.ID)
	assert.Equal(t, account.StatusCancelled, snap.Status)
	assert.Equal(t, account.FailCancelled, snap.FailureReason)
	assert.Len(t, f.sink.ofType(events.TypeChallengeFailed), 1)
}

func TestPhasePassOnClose(t *testing.T) {
	rs := rules.Default()
	rs.Phases[0].MinTradingDays = 1
	f := newFixture(t, rs)
	st := f.create(t)

	trade := Trade{ID: "t1", Symbol: "EURUSD", Side: "BUY", Volume: 100000, OpenPrice: 1.1000}
	_, err := f.engine.OnTradeClosed(context.Background(), st.ID, trade, 1.1080) // +800 = 8%
	require.NoError(t, err)

	snap, _ := f.engine.Registry().Snapshot(st.ID)
	assert.Equal(t, 2, snap.CurrentPhase)
	assert.Len(t, f.sink.ofType(events.TypeChallengePhasePassed), 1)
}

// A close racing the failure (or replayed by reconciliation) must not touch
// the frozen ledger; it only releases the position slot.
func TestCloseOnTerminalAccountLeavesLedgerFrozen(t *testing.T) {
	f := newFixture(t, rules.Default())
	st := f.create(t)

	require.NoError(t, f.engine.Registry().WithAccount(context.Background(), st.ID, func(s *account.State) error {
		s.OpenPositions = 1
		return nil
	}))
	f.closer.err = errors.New("platform down") // keep the orphaned position
	require.NoError(t, f.engine.Terminate(context.Background(), st.ID, account.FailManual, "operator action"))

	trade := Trade{ID: "t1", Symbol: "EURUSD", Side: "BUY", Volume: 100000, OpenPrice: 1.1000}
	res, err := f.engine.OnTradeClosed(context.Background(), st.ID, trade, 1.1010)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, res.NewBalance)

	snap, _ := f.engine.Registry().Snapshot(st.ID)
	assert.Equal(t, 10000.0, snap.Balance)
	assert.Equal(t, 0, snap.Stats.Wins)
	assert.Empty(t, snap.TradingDays)
	assert.Equal(t, 0, snap.OpenPositions)
}

func TestEquityTickBreachesDailyCap(t *testing.T) {
	f := newFixture(t, rules.Default())
	st := f.create(t)

	res, err := f.engine.OnEquityTick(context.Background(), st.ID, -600)
	require.NoError(t, err)
	assert.InDelta(t, 9400.0, res.Equity, 1e-9)
	assert.InDelta(t, 6.0, res.DailyDrawdownPct, 1e-9)

	snap, _ := f.engine.Registry().Snapshot(st.ID)
	assert.Equal(t, account.StatusFailed, snap.Status)
}

func TestEquityTickCoalescing(t *testing.T) {
	sink := &eventSink{}
	eng := New(Config{
		Registry:      account.NewRegistry(nil, zerolog.Nop()),
		Catalog:       rules.NewCatalog(rules.Default()),
		Notifier:      sink,
		Collaborators: NopCollaborators(),
		TickRate:      1, // one recompute per second, burst 1
		Logger:        zerolog.Nop(),
	})
	eng.nowFn = func() time.Time { return testTime }
	st, err := eng.CreateAccount(context.Background(), "user-1", "standard", 10000)
	require.NoError(t, err)

	// First tick consumes the burst and mutates equity.
	_, err = eng.OnEquityTick(context.Background(), st.ID, -100)
	require.NoError(t, err)
	snap, _ := eng.Registry().Snapshot(st.ID)
	assert.Equal(t, 9900.0, snap.Equity)
	rev := snap.Revision

	// Immediate second tick is coalesced: reported but not applied.
	res, err := eng.OnEquityTick(context.Background(), st.ID, -200)
	require.NoError(t, err)
	assert.InDelta(t, 9800.0, res.Equity, 1e-9)
	snap, _ = eng.Registry().Snapshot(st.ID)
	assert.Equal(t, 9900.0, snap.Equity)
	assert.Equal(t, rev, snap.Revision)
}

func TestRequestPayout(t *testing.T) {
	f := newFixture(t, rules.Default())
	st := f.create(t)

	require.NoError(t, f.engine.Registry().WithAccount(context.Background(), st.ID, func(s *account.State) error {
		s.Status = account.StatusFunded
		s.Funded = &account.FundedAccount{ProfitSplitPct: 80}
		s.Balance = 11000
		s.Equity = 11000
		return nil
	}))

	amount, err := f.engine.RequestPayout(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, 800.0, amount)
	assert.Len(t, f.sink.ofType(events.TypeChallengePayout), 1)

	// Nothing left after the sweep: a second request pays zero.
	amount, err = f.engine.RequestPayout(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, amount)
	assert.Len(t, f.sink.ofType(events.TypeChallengePayout), 1)
}

func TestUnknownAccount(t *testing.T) {
	f := newFixture(t, rules.Default())

	_, err := f.engine.OnTradeProposed(context.Background(), "missing", intent())
	assert.ErrorIs(t, err, account.ErrNotFound)

	_, err = f.engine.OnEquityTick(context.Background(), "missing", 0)
	assert.ErrorIs(t, err, account.ErrNotFound)
}
