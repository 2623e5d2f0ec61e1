// Package drawdown recomputes daily, total and trailing drawdown for a
// challenge account and owns the failure transition when a cap is breached.
package drawdown

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"challenge-core/internal/account"
	"challenge-core/internal/rules"
)

// Breach identifies which drawdown cap was crossed, if any.
type Breach int

const (
	BreachNone Breach = iota
	BreachDaily
	BreachTotal
	BreachTrailing
)

// Snapshot is the result of one drawdown recompute.
type Snapshot struct {
	DailyPct float64
	TotalPct float64
	Breach   Breach
	Detail   string
}

// Triggered reports whether any cap was breached.
func (s Snapshot) Triggered() bool { return s.Breach != BreachNone }

// FailureReason maps the breach to the terminal failure reason recorded on
// the account. Trailing-floor breaches count as total drawdown.
func (s Snapshot) FailureReason() account.FailureReason {
	switch s.Breach {
	case BreachDaily:
		return account.FailMaxDailyDrawdown
	case BreachTotal, BreachTrailing:
		return account.FailMaxTotalDrawdown
	}
	return ""
}

// FailureHandler performs the terminal-failure side effects: closing open
// trades, suspending the external trading account, recording failure fields
// and emitting the event. Implemented by the engine.
type FailureHandler interface {
	Fail(ctx context.Context, st *account.State, reason account.FailureReason, details string)
}

// basisRefs resolves the reference and low points for the configured basis.
func basisRefs(st *account.State, basis rules.DrawdownBasis) (dailyRef, totalRef, low float64) {
	switch basis {
	case rules.BasisBalance:
		return st.DailyStartBalance, max(st.HighestBalance, st.Balance), st.Balance
	case rules.BasisEquity:
		return st.DailyStartEquity, max(st.HighestEquity, st.Equity), st.Equity
	default: // higher of both
		return max(st.DailyStartBalance, st.DailyStartEquity),
			max(st.HighestBalance, st.Balance, st.HighestEquity, st.Equity),
			min(st.Balance, st.Equity)
	}
}

// Compute derives the current drawdown readings without mutating state. Used
// by the validator's fail-fast pre-commit check.
func Compute(st *account.State, rs *rules.RuleSet) Snapshot {
	dailyRef, totalRef, low := basisRefs(st, rs.DrawdownBasis)

	var snap Snapshot
	if dailyRef > 0 {
		snap.DailyPct = math.Max(0, (dailyRef-low)/dailyRef*100)
	}
	if st.InitialBalance > 0 {
		snap.TotalPct = math.Max(0, (totalRef-low)/st.InitialBalance*100)
	}

	switch {
	case rs.MaxDailyDrawdownPct > 0 && snap.DailyPct >= rs.MaxDailyDrawdownPct:
		snap.Breach = BreachDaily
		snap.Detail = "daily drawdown cap breached"
	case rs.MaxTotalDrawdownPct > 0 && snap.TotalPct >= rs.MaxTotalDrawdownPct:
		snap.Breach = BreachTotal
		snap.Detail = "total drawdown cap breached"
	case rs.TrailingDrawdownEnabled && st.TrailingFloorLocked && st.Equity < st.TrailingFloor:
		snap.Breach = BreachTrailing
		snap.Detail = "trailing floor breached"
	}
	return snap
}

// Monitor recomputes drawdown state post-commit and triggers failure.
type Monitor struct {
	handler FailureHandler
	log     zerolog.Logger
}

// NewMonitor creates a monitor delegating failures to handler.
func NewMonitor(handler FailureHandler, log zerolog.Logger) *Monitor {
	return &Monitor{
		handler: handler,
		log:     log.With().Str("component", "drawdown_monitor").Logger(),
	}
}

// Recompute raises watermarks, arms the trailing floor, updates the running
// drawdown fields on the account and fails it when a cap is breached. Daily
// takes priority when both caps breach in the same recompute. Callers must
// hold the account's lock.
func (m *Monitor) Recompute(ctx context.Context, st *account.State, rs *rules.RuleSet) Snapshot {
	// Watermarks are monotonic: raise, never lower.
	if st.Balance > st.HighestBalance {
		st.HighestBalance = st.Balance
	}
	if st.Equity > st.HighestEquity {
		st.HighestEquity = st.Equity
	}

	// Trailing floor locks exactly once, at initial balance, the first time
	// profit reaches the lock threshold. It is never re-armed or lowered.
	if rs.TrailingDrawdownEnabled && !st.TrailingFloorLocked && st.InitialBalance > 0 {
		profitPct := (st.HighestBalance - st.InitialBalance) / st.InitialBalance * 100
		if profitPct >= rs.TrailingLockProfitPct {
			st.TrailingFloor = st.InitialBalance
			st.TrailingFloorLocked = true
			m.log.Info().Str("account_id", st.ID).Float64("floor", st.TrailingFloor).
				Msg("trailing drawdown floor locked")
		}
	}

	snap := Compute(st, rs)

	st.CurrentDailyDrawdownPct = snap.DailyPct
	st.CurrentTotalDrawdownPct = snap.TotalPct
	if snap.DailyPct > st.MaxDailyDrawdownReached {
		st.MaxDailyDrawdownReached = snap.DailyPct
	}
	if snap.TotalPct > st.MaxTotalDrawdownReached {
		st.MaxTotalDrawdownReached = snap.TotalPct
	}

	if snap.Triggered() && !st.Terminal() {
		m.log.Warn().Str("account_id", st.ID).
			Float64("daily_pct", snap.DailyPct).Float64("total_pct", snap.TotalPct).
			Str("detail", snap.Detail).Msg("drawdown cap breached")
		m.handler.Fail(ctx, st, snap.FailureReason(), snap.Detail)
	}
	return snap
}
