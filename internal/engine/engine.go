// Package engine is the library-style boundary of the challenge core: every
// trade lifecycle event enters here, is validated and applied under the
// account's lock, and leaves as a typed decision plus published events.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"challenge-core/internal/account"
	"challenge-core/internal/drawdown"
	"challenge-core/internal/events"
	"challenge-core/internal/phase"
	"challenge-core/internal/rules"
	"challenge-core/internal/validator"
	"challenge-core/pkg/db"
)

// Config wires an Engine.
type Config struct {
	Registry      *account.Registry
	Catalog       *rules.Catalog
	Notifier      events.Notifier
	Store         *db.Store // optional; phase-history persistence
	Collaborators Collaborators
	// TickRate caps full drawdown recomputes per account per second on the
	// equity-tick path. 0 disables coalescing.
	TickRate float64
	Logger   zerolog.Logger
}

// Engine evaluates challenge accounts. All mutations of one account are
// serialized through the registry's per-account lock.
type Engine struct {
	registry *account.Registry
	catalog  *rules.Catalog
	notifier events.Notifier
	store    *db.Store
	collab   Collaborators
	monitor  *drawdown.Monitor
	phases   *phase.Transitioner
	breaker  *collabBreaker
	limiters *tickLimiters
	nowFn    func() time.Time
	log      zerolog.Logger
}

// New creates an engine. The notifier is mandatory: the engine never holds a
// global publisher, it pushes to whatever sink it was constructed with.
func New(cfg Config) *Engine {
	e := &Engine{
		registry: cfg.Registry,
		catalog:  cfg.Catalog,
		notifier: cfg.Notifier,
		store:    cfg.Store,
		collab:   cfg.Collaborators,
		phases:   phase.NewTransitioner(cfg.Logger),
		breaker:  newCollabBreaker(cfg.Logger),
		limiters: newTickLimiters(cfg.TickRate),
		nowFn:    func() time.Time { return time.Now().UTC() },
		log:      cfg.Logger.With().Str("component", "engine").Logger(),
	}
	if e.notifier == nil {
		e.notifier = events.Nop{}
	}
	e.monitor = drawdown.NewMonitor(e, cfg.Logger)
	return e
}

func (e *Engine) now() time.Time { return e.nowFn() }

// Registry exposes the account registry for the sweeper and read paths.
func (e *Engine) Registry() *account.Registry { return e.registry }

// CreateAccount registers a new challenge account at purchase time.
func (e *Engine) CreateAccount(ctx context.Context, userID, tier string, size float64) (account.State, error) {
	rs := e.catalog.Get(tier)
	now := e.now()

	st := account.New(uuid.NewString(), userID, tier, size, now)
	if days := expiryDays(&rs); days > 0 {
		st.ExpiresAt = now.AddDate(0, 0, days)
	}

	if err := e.registry.Create(ctx, st); err != nil {
		return account.State{}, err
	}
	e.log.Info().Str("account_id", st.ID).Str("tier", tier).Float64("size", size).
		Msg("challenge account created")
	e.notifier.Publish(events.New(events.TypeChallengeUpdate, st.ID, st.UserID, map[string]any{
		"action": "created",
		"tier":   tier,
		"size":   size,
	}))
	return *st, nil
}

// expiryDays resolves the initial hard-expiry window: the tier-wide duration
// wins, otherwise phase 1's trading-day cap applies.
func expiryDays(rs *rules.RuleSet) int {
	if rs.ChallengeDurationDays > 0 {
		return rs.ChallengeDurationDays
	}
	if ph, ok := rs.PhaseByNumber(1); ok {
		return ph.MaxTradingDays
	}
	return 0
}

// OnTradeProposed validates a proposed trade pre-commit. Counters are
// incremented on admission inside the same lock scope, so concurrent
// proposals cannot overshoot a cap.
func (e *Engine) OnTradeProposed(ctx context.Context, accountID string, intent validator.TradeIntent) (validator.Result, error) {
	var res validator.Result
	err := e.registry.WithAccount(ctx, accountID, func(st *account.State) error {
		rs := e.catalog.Get(st.Tier)
		res = validator.Validate(st, &rs, intent, e.now())

		switch {
		case res.Failed:
			// The validator already recorded the terminal transition; run
			// the failure side effects here.
			e.failSideEffects(ctx, st, res.FailureReason, res.Message)
		case res.DrawdownHit:
			// Rejected on an already-breached cap; the monitor owns the
			// actual failure transition.
			e.monitor.Recompute(ctx, st, &rs)
		case res.Decision == validator.Warn:
			e.notifier.Publish(events.New(events.TypeChallengeWarning, st.ID, st.UserID, map[string]any{
				"rule":    string(res.Reason),
				"message": res.Message,
			}))
		}
		return nil
	})
	return res, err
}

// OnTradeOpened runs the post-commit checks after a trade opened on the
// platform.
func (e *Engine) OnTradeOpened(ctx context.Context, accountID string, trade Trade) error {
	return e.registry.WithAccount(ctx, accountID, func(st *account.State) error {
		rs := e.catalog.Get(st.Tier)
		snap := e.monitor.Recompute(ctx, st, &rs)
		e.notifier.Publish(events.New(events.TypeChallengeUpdate, st.ID, st.UserID, map[string]any{
			"action":             "trade_opened",
			"symbol":             trade.Symbol,
			"daily_drawdown_pct": snap.DailyPct,
			"total_drawdown_pct": snap.TotalPct,
		}))
		return nil
	})
}

// OnTradeClosed applies a realized trade result, then runs the drawdown and
// phase checks post-commit.
func (e *Engine) OnTradeClosed(ctx context.Context, accountID string, trade Trade, closePrice float64) (CloseResult, error) {
	var result CloseResult
	err := e.registry.WithAccount(ctx, accountID, func(st *account.State) error {
		now := e.now()
		profit := realizedProfit(trade, closePrice)

		// Terminal ledgers are immutable. A close arriving late (racing the
		// failure, or replayed by the reconciliation sweep) only releases
		// the position slot.
		if st.Terminal() {
			if st.OpenPositions > 0 {
				st.OpenPositions--
			}
			result = CloseResult{Profit: profit, NewBalance: st.Balance}
			return nil
		}

		st.RecordClose(profit)
		st.RecordTradingDay(now)
		result = CloseResult{Profit: profit, NewBalance: st.Balance}

		rs := e.catalog.Get(st.Tier)
		e.monitor.Recompute(ctx, st, &rs)
		if st.Terminal() {
			return nil
		}

		switch e.phases.Evaluate(st, &rs, now) {
		case phase.PhasePassed:
			e.persistPhaseRecord(ctx, st)
			e.notifier.Publish(events.New(events.TypeChallengePhasePassed, st.ID, st.UserID, map[string]any{
				"phase":   st.CurrentPhase - 1,
				"balance": st.Balance,
			}))
		case phase.Funded:
			e.persistPhaseRecord(ctx, st)
			e.notifier.Publish(events.New(events.TypeChallengeFunded, st.ID, st.UserID, map[string]any{
				"balance":          st.Balance,
				"profit_split_pct": st.Funded.ProfitSplitPct,
			}))
		default:
			e.notifier.Publish(events.New(events.TypeChallengeUpdate, st.ID, st.UserID, map[string]any{
				"action":      "trade_closed",
				"profit":      profit,
				"new_balance": st.Balance,
			}))
		}
		return nil
	})
	return result, err
}

// realizedProfit computes the P/L of a closed trade.
func realizedProfit(trade Trade, closePrice float64) float64 {
	if trade.Side == "SELL" {
		return (trade.OpenPrice - closePrice) * trade.Volume
	}
	return (closePrice - trade.OpenPrice) * trade.Volume
}

// OnEquityTick folds floating P/L into equity and recomputes drawdown. Tick
// bursts are coalesced per account: above the configured rate the tick is
// reported from the last authoritative snapshot without a recompute, which
// is safe because every trade close and sweep recomputes from scratch.
func (e *Engine) OnEquityTick(ctx context.Context, accountID string, floatingPnL float64) (TickResult, error) {
	if !e.limiters.allow(accountID) {
		snap, ok := e.registry.Snapshot(accountID)
		if !ok {
			return TickResult{}, account.ErrNotFound
		}
		return TickResult{
			Equity:           snap.Balance + floatingPnL,
			DailyDrawdownPct: snap.CurrentDailyDrawdownPct,
			TotalDrawdownPct: snap.CurrentTotalDrawdownPct,
		}, nil
	}

	var result TickResult
	err := e.registry.WithAccount(ctx, accountID, func(st *account.State) error {
		if st.Terminal() {
			result = TickResult{Equity: st.Equity}
			return nil
		}
		st.Equity = st.Balance + floatingPnL
		rs := e.catalog.Get(st.Tier)
		snap := e.monitor.Recompute(ctx, st, &rs)
		result = TickResult{
			Equity:           st.Equity,
			DailyDrawdownPct: snap.DailyPct,
			TotalDrawdownPct: snap.TotalPct,
		}
		return nil
	})
	return result, err
}

// RequestPayout releases the eligible profit split of a funded account and
// credits the trader's wallet. Returns the paid amount, or 0 when nothing is
// eligible.
func (e *Engine) RequestPayout(ctx context.Context, accountID string) (float64, error) {
	var paid float64
	err := e.registry.WithAccount(ctx, accountID, func(st *account.State) error {
		rs := e.catalog.Get(st.Tier)
		amount, ok := e.phases.EvaluatePayout(st, &rs)
		if !ok {
			return nil
		}
		paid = amount

		// Wallet credit is best-effort: the ledger sweep is authoritative
		// and a failed transfer is surfaced for operator reconciliation.
		if err := e.collab.Wallet.CreditWallet(ctx, st.UserID, amount); err != nil {
			e.log.Error().Err(err).Str("account_id", st.ID).Float64("amount", amount).
				Msg("wallet credit failed; payout recorded for reconciliation")
		}
		e.notifier.Publish(events.New(events.TypeChallengePayout, st.ID, st.UserID, map[string]any{
			"amount":        amount,
			"total_payouts": st.Funded.TotalPayouts,
		}))
		return nil
	})
	return paid, err
}

// Terminate force-fails an account (manual termination, user cancellation,
// failed payment).
func (e *Engine) Terminate(ctx context.Context, accountID string, reason account.FailureReason, details string) error {
	return e.registry.WithAccount(ctx, accountID, func(st *account.State) error {
		e.Fail(ctx, st, reason, details)
		return nil
	})
}

// persistPhaseRecord appends the newest frozen phase record to the store.
// Best-effort: the in-memory history is authoritative and re-persisted with
// the account snapshot.
func (e *Engine) persistPhaseRecord(ctx context.Context, st *account.State) {
	if e.store == nil || len(st.PhaseHistory) == 0 {
		return
	}
	rec := st.PhaseHistory[len(st.PhaseHistory)-1]
	err := e.store.InsertPhaseRecord(ctx, db.PhaseHistoryRow{
		AccountID:    st.ID,
		Phase:        rec.Phase,
		Result:       rec.Result,
		StartBalance: rec.StartBalance,
		EndBalance:   rec.EndBalance,
		TradingDays:  rec.TradingDays,
		Trades:       rec.Trades,
		StartedAt:    rec.StartedAt,
		EndedAt:      rec.EndedAt,
	})
	if err != nil {
		e.log.Error().Err(err).Str("account_id", st.ID).Int("phase", rec.Phase).
			Msg("failed to persist phase record")
	}
}

// tickLimiters rate-limits full recomputes per account on the equity path.
type tickLimiters struct {
	rate     rate.Limit
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newTickLimiters(perSec float64) *tickLimiters {
	return &tickLimiters{
		rate:     rate.Limit(perSec),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (t *tickLimiters) allow(accountID string) bool {
	if t.rate <= 0 {
		return true
	}
	t.mu.Lock()
	lim, ok := t.limiters[accountID]
	if !ok {
		lim = rate.NewLimiter(t.rate, 1)
		t.limiters[accountID] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}
