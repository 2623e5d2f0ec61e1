// Package phase decides phase-pass and funding transitions for a challenge
// account, and payout eligibility once funded.
package phase

import (
	"time"

	"github.com/rs/zerolog"

	"challenge-core/internal/account"
	"challenge-core/internal/rules"
)

// Outcome is the result of one transition evaluation.
type Outcome string

const (
	NoChange    Outcome = "no_change"
	PhasePassed Outcome = "phase_passed"
	Funded      Outcome = "funded"
)

// Transitioner evaluates phase-pass conditions and applies transitions.
type Transitioner struct {
	log zerolog.Logger
}

// NewTransitioner creates a transitioner.
func NewTransitioner(log zerolog.Logger) *Transitioner {
	return &Transitioner{log: log.With().Str("component", "phase_transitioner").Logger()}
}

// Evaluate checks the current phase's pass condition and, when met, applies
// the transition: the phase's history record is frozen, and either the next
// phase starts with fresh watermarks or the account becomes funded. Callers
// must hold the account's lock.
func (t *Transitioner) Evaluate(st *account.State, rs *rules.RuleSet, now time.Time) Outcome {
	if st.Status != account.StatusActive || st.PhaseStatus != account.PhaseActive {
		return NoChange
	}

	ph, ok := rs.PhaseByNumber(st.CurrentPhase)
	if !ok {
		return NoChange
	}

	profit := st.ProfitPct()
	tradingDays := len(st.TradingDays)
	if profit < ph.ProfitTargetPct {
		return NoChange
	}
	if tradingDays < ph.MinTradingDays {
		return NoChange
	}
	if ph.MinTrades > 0 && st.TotalTrades < ph.MinTrades {
		return NoChange
	}

	// Freeze the passed phase's record. Once appended it is never rewritten.
	record := account.PhaseRecord{
		Phase:        st.CurrentPhase,
		StartedAt:    st.PhaseStartedAt,
		EndedAt:      now.UTC(),
		StartBalance: st.PhaseStartBalance,
		EndBalance:   st.Balance,
		TradingDays:  tradingDays,
		Trades:       st.PhaseTradeCount,
		Result:       "passed",
	}
	st.PhaseHistory = append(st.PhaseHistory, record)

	if st.CurrentPhase >= rs.TotalPhases() {
		st.PhaseStatus = account.PhasePassed
		st.Status = account.StatusFunded
		st.Funded = &account.FundedAccount{ProfitSplitPct: rs.Payout.ProfitSplitPct}
		// Funded accounts run open-ended; the evaluation clock stops here.
		st.ExpiresAt = time.Time{}
		t.log.Info().Str("account_id", st.ID).Int("phase", record.Phase).
			Float64("profit_pct", profit).Msg("all phases passed, account funded")
		return Funded
	}

	// Advance to the next phase. Watermarks and baselines reset so drawdown
	// from the passed phase cannot penalize the new one: each phase is an
	// independent drawdown window anchored to its own starting balance.
	st.CurrentPhase++
	st.PhaseStatus = account.PhaseActive
	st.PhaseStartedAt = now.UTC()
	st.PhaseStartBalance = st.Balance
	st.HighestBalance = st.Balance
	st.HighestEquity = st.Equity
	st.DailyStartBalance = st.Balance
	st.DailyStartEquity = st.Equity
	st.CurrentDailyDrawdownPct = 0
	st.CurrentTotalDrawdownPct = 0
	st.TradingDays = nil
	st.PhaseTradeCount = 0

	// The two-strike warning machinery resets on phase transition only.
	st.RuleViolationWarned = false
	st.ViolationCount = 0
	st.LastViolationType = ""

	if next, ok := rs.PhaseByNumber(st.CurrentPhase); ok && next.MaxTradingDays > 0 {
		st.ExpiresAt = now.UTC().AddDate(0, 0, next.MaxTradingDays)
	} else {
		st.ExpiresAt = time.Time{}
	}

	t.log.Info().Str("account_id", st.ID).Int("phase", st.CurrentPhase).
		Float64("profit_pct", profit).Msg("phase passed")
	return PhasePassed
}

// EvaluatePayout computes the eligible payout for a funded account: the
// trader's split of realized profit above the initial balance, gated by the
// tier's minimum. On success the profit is swept out of the ledger, the
// balance returns to the initial size and baselines follow, so the next
// payout cycle starts clean. Callers must hold the account's lock.
func (t *Transitioner) EvaluatePayout(st *account.State, rs *rules.RuleSet) (float64, bool) {
	if st.Status != account.StatusFunded || st.Funded == nil {
		return 0, false
	}

	profit := st.Balance - st.InitialBalance
	if profit <= 0 {
		return 0, false
	}

	amount := profit * st.Funded.ProfitSplitPct / 100
	if rs.Payout.MinimumPayout > 0 && amount < rs.Payout.MinimumPayout {
		return 0, false
	}

	st.Funded.TotalPayouts += amount
	st.Balance = st.InitialBalance
	st.Equity = st.Balance
	st.DailyStartBalance = st.Balance
	st.DailyStartEquity = st.Equity
	st.HighestBalance = st.Balance
	st.HighestEquity = st.Equity

	t.log.Info().Str("account_id", st.ID).Float64("amount", amount).
		Float64("total_payouts", st.Funded.TotalPayouts).Msg("payout released")
	return amount, true
}
