// Package validator decides admissibility of a proposed trade against the
// account's rule set, pre-commit. Checks run in a fixed order so rejection
// reporting is deterministic: the first failing rule wins.
package validator

import (
	"fmt"
	"math"
	"strings"
	"time"

	"challenge-core/internal/account"
	"challenge-core/internal/drawdown"
	"challenge-core/internal/rules"
)

// Decision is the admission verdict for a proposed trade.
type Decision string

const (
	Admit  Decision = "admit"
	Reject Decision = "reject"
	Warn   Decision = "warn"
)

// Reason names the rule behind a rejection or warning.
type Reason string

const (
	ReasonNotActive          Reason = "not_active"
	ReasonTimeLimit          Reason = "time_limit_exceeded"
	ReasonInstrument         Reason = "instrument_not_allowed"
	ReasonMaxLotSize         Reason = "max_lot_size"
	ReasonMaxPositions       Reason = "max_positions"
	ReasonMaxTradesPerDay    Reason = "max_trades_per_day"
	ReasonMaxTradesPerPhase  Reason = "max_trades_per_phase"
	ReasonMaxTotalTrades     Reason = "max_total_trades"
	ReasonMinTimeBetween     Reason = "min_time_between_trades"
	ReasonMandatoryStopLoss  Reason = "mandatory_sl"
	ReasonStopLossTooWide    Reason = "max_stop_loss_pips"
	ReasonWeekendHolding     Reason = "weekend_holding"
	ReasonDrawdownBreached   Reason = "drawdown_breached"
)

// TradeIntent is a proposed trade before commit. StopLoss of 0 means the
// order carries no stop.
type TradeIntent struct {
	Symbol   string
	Side     string // BUY or SELL
	Volume   float64
	Price    float64
	StopLoss float64
}

// Result is the validation outcome. When Failed is set the account reached a
// terminal failure during validation and the caller must run the failure
// side effects (close trades, suspend, emit event).
type Result struct {
	Decision      Decision
	Reason        Reason
	Message       string
	Failed        bool
	FailureReason account.FailureReason
	// DrawdownHit marks a fail-fast rejection on an already-breached cap;
	// the actual failure transition belongs to the drawdown monitor.
	DrawdownHit bool
}

func rejected(reason Reason, msg string) Result {
	return Result{Decision: Reject, Reason: reason, Message: msg}
}

// Validate runs the ordered admission checks and, on admission, applies the
// counter side effects. The caller must hold the account's lock for the full
// read-validate-mutate sequence, otherwise concurrent trades can each pass a
// counter check and overshoot the cap together.
func Validate(st *account.State, rs *rules.RuleSet, intent TradeIntent, now time.Time) Result {
	// 1. Account must be able to trade at all.
	if !st.Tradeable() {
		return rejected(ReasonNotActive, fmt.Sprintf("account is %s", st.Status))
	}

	// 2. Hard expiry is a terminal condition, not a plain rejection. It only
	// applies while the account is still in evaluation; funded accounts
	// carry no clock.
	if st.Status == account.StatusActive && !st.ExpiresAt.IsZero() && !now.Before(st.ExpiresAt) {
		st.MarkFailed(account.FailTimeLimit, "challenge duration exceeded", now)
		return Result{
			Decision:      Reject,
			Reason:        ReasonTimeLimit,
			Message:       "challenge time limit exceeded",
			Failed:        true,
			FailureReason: account.FailTimeLimit,
		}
	}

	// 3. Instrument allow-list.
	if !rs.InstrumentAllowed(intent.Symbol) {
		return rejected(ReasonInstrument, fmt.Sprintf("instrument %s is not allowed", intent.Symbol))
	}

	// 4. Volume cap.
	if rs.MaxLotSize > 0 && intent.Volume > rs.MaxLotSize {
		return rejected(ReasonMaxLotSize,
			fmt.Sprintf("volume %.2f exceeds max lot size %.2f", intent.Volume, rs.MaxLotSize))
	}

	// 5. Position rule.
	if !rs.AllowMultiplePositions {
		if st.OpenPositions >= 1 {
			return rejected(ReasonMaxPositions, "only one open position is allowed")
		}
	} else if rs.MaxOpenPositions > 0 && st.OpenPositions >= rs.MaxOpenPositions {
		return rejected(ReasonMaxPositions,
			fmt.Sprintf("open positions %d at cap %d", st.OpenPositions, rs.MaxOpenPositions))
	}

	// 6. Daily trade count; the counter rolls over on UTC date change.
	st.RollDailyCounter(now)
	if rs.MaxTradesPerDay > 0 && st.DailyTradeCount >= rs.MaxTradesPerDay {
		return rejected(ReasonMaxTradesPerDay,
			fmt.Sprintf("daily trade limit reached: %d/%d", st.DailyTradeCount, rs.MaxTradesPerDay))
	}

	// 7. Phase trade count.
	if rs.MaxTradesPerPhase > 0 && st.PhaseTradeCount >= rs.MaxTradesPerPhase {
		return rejected(ReasonMaxTradesPerPhase,
			fmt.Sprintf("phase trade limit reached: %d/%d", st.PhaseTradeCount, rs.MaxTradesPerPhase))
	}

	// 8. Total trade count, with the two-strike warning policy.
	if rs.MaxTotalTrades > 0 && st.TotalTrades >= rs.MaxTotalTrades {
		st.ViolationCount++
		st.LastViolationType = string(ReasonMaxTotalTrades)
		if rs.WarnBeforeBlow && !st.RuleViolationWarned {
			st.RuleViolationWarned = true
			return Result{
				Decision: Warn,
				Reason:   ReasonMaxTotalTrades,
				Message: fmt.Sprintf("total trade limit reached (%d): next violation fails the challenge",
					rs.MaxTotalTrades),
			}
		}
		st.MarkFailed(account.FailMaxTotalTrades,
			fmt.Sprintf("total trade limit %d breached after warning", rs.MaxTotalTrades), now)
		return Result{
			Decision:      Reject,
			Reason:        ReasonMaxTotalTrades,
			Message:       "total trade limit breached",
			Failed:        true,
			FailureReason: account.FailMaxTotalTrades,
		}
	}

	// 9. Minimum spacing between trades.
	if rs.MinTimeBetweenTradesSec > 0 && !st.LastTradeAt.IsZero() {
		elapsed := now.Sub(st.LastTradeAt)
		minGap := time.Duration(rs.MinTimeBetweenTradesSec) * time.Second
		if elapsed < minGap {
			return rejected(ReasonMinTimeBetween,
				fmt.Sprintf("wait %.0fs between trades", (minGap - elapsed).Seconds()))
		}
	}

	// 10. Mandatory stop-loss, plus the optional width cap.
	if rs.MandatoryStopLoss && intent.StopLoss == 0 {
		return rejected(ReasonMandatoryStopLoss, "a stop-loss is mandatory on this tier")
	}
	if rs.MaxStopLossPips > 0 && intent.StopLoss > 0 {
		pips := math.Abs(intent.Price-intent.StopLoss) / pipSize(intent.Symbol)
		if pips > rs.MaxStopLossPips {
			return rejected(ReasonStopLossTooWide,
				fmt.Sprintf("stop-loss distance %.1f pips exceeds cap %.1f", pips, rs.MaxStopLossPips))
		}
	}

	// 11. Weekend holding restriction.
	if !rs.WeekendHoldingAllowed && rs.WeekendWindow.Contains(now) {
		return rejected(ReasonWeekendHolding, "no new positions during the weekend window")
	}

	// 12. Fail-fast on an already-breached drawdown cap. The failure
	// transition itself is owned by the drawdown monitor.
	if snap := drawdown.Compute(st, rs); snap.Triggered() {
		return Result{
			Decision:    Reject,
			Reason:      ReasonDrawdownBreached,
			Message:     snap.Detail,
			DrawdownHit: true,
		}
	}

	// Admission side effects: counters, last-trade time, trading-day list.
	st.RecordTrade(now)
	return Result{Decision: Admit}
}

// pipSize returns the conventional pip for a symbol: 0.01 for JPY-quoted
// pairs, 0.0001 otherwise.
func pipSize(symbol string) float64 {
	if strings.HasSuffix(strings.ToUpper(symbol), "JPY") {
		return 0.01
	}
	return 0.0001
}
