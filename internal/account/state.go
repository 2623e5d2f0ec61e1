// Package account holds the mutable numeric ledger for one challenge account
// and the registry that serializes access to it.
package account

import (
	"time"
)

// Status is the lifecycle status of a challenge account.
type Status string

const (
	StatusActive      Status = "active"
	StatusPhasePassed Status = "phase_passed"
	StatusFunded      Status = "funded"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
	StatusExpired     Status = "expired"
)

// PhaseStatus tracks the state of the current evaluation phase.
type PhaseStatus string

const (
	PhaseActive PhaseStatus = "active"
	PhasePassed PhaseStatus = "passed"
	PhaseFailed PhaseStatus = "failed"
)

// FailureReason is the machine-readable cause of a terminal failure.
type FailureReason string

const (
	FailMaxDailyDrawdown FailureReason = "max_daily_drawdown"
	FailMaxTotalDrawdown FailureReason = "max_total_drawdown"
	FailMaxTotalTrades   FailureReason = "max_total_trades"
	FailTimeLimit        FailureReason = "time_limit_exceeded"
	FailInactivity       FailureReason = "inactivity"
	FailManual           FailureReason = "manual_termination"
	FailCancelled        FailureReason = "cancelled_by_user"
	FailPayment          FailureReason = "payment_failed"
)

// Stats accumulates closed-trade statistics for one account.
type Stats struct {
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	GrossProfit float64 `json:"gross_profit"`
	GrossLoss   float64 `json:"gross_loss"`
	LargestWin  float64 `json:"largest_win"`
	LargestLoss float64 `json:"largest_loss"`
}

// ProfitFactor returns gross profit over gross loss; 0 when no losses yet.
func (s Stats) ProfitFactor() float64 {
	if s.GrossLoss == 0 {
		return 0
	}
	return s.GrossProfit / s.GrossLoss
}

// WinRate returns the fraction of winning trades, 0..1.
func (s Stats) WinRate() float64 {
	total := s.Wins + s.Losses
	if total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(total)
}

// PhaseRecord is the frozen outcome of one evaluation phase. Once a phase
// passes the record is immutable.
type PhaseRecord struct {
	Phase        int       `json:"phase"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	StartBalance float64   `json:"start_balance"`
	EndBalance   float64   `json:"end_balance"`
	TradingDays  int       `json:"trading_days"`
	Trades       int       `json:"trades"`
	Result       string    `json:"result"` // "passed" or "failed"
}

// FundedAccount holds payout bookkeeping once all phases are passed.
type FundedAccount struct {
	ProfitSplitPct float64 `json:"profit_split_pct"`
	TotalPayouts   float64 `json:"total_payouts"`
	ScalingLevel   int     `json:"scaling_level"`
}

// State is the mutable numeric ledger for one challenge account. All reads
// and writes must happen inside the registry's per-account lock scope.
type State struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`

	InitialBalance float64 `json:"initial_balance"` // immutable after creation
	Balance        float64 `json:"balance"`
	Equity         float64 `json:"equity"`

	// Monotonic watermarks.
	HighestBalance float64 `json:"highest_balance"`
	HighestEquity  float64 `json:"highest_equity"`

	// Daily baseline, reset once per UTC calendar day.
	DailyStartBalance float64 `json:"daily_start_balance"`
	DailyStartEquity  float64 `json:"daily_start_equity"`
	DailyResetDay     string  `json:"daily_reset_day"` // UTC yyyy-mm-dd of last reset

	// Trailing drawdown floor; 0 until locked, never lowered afterwards.
	TrailingFloor       float64 `json:"trailing_floor"`
	TrailingFloorLocked bool    `json:"trailing_floor_locked"`

	// Running drawdown readings and their max-reached watermarks.
	CurrentDailyDrawdownPct float64 `json:"current_daily_drawdown_pct"`
	CurrentTotalDrawdownPct float64 `json:"current_total_drawdown_pct"`
	MaxDailyDrawdownReached float64 `json:"max_daily_drawdown_reached"`
	MaxTotalDrawdownReached float64 `json:"max_total_drawdown_reached"`

	CurrentPhase      int         `json:"current_phase"`
	PhaseStatus       PhaseStatus `json:"phase_status"`
	PhaseStartedAt    time.Time   `json:"phase_started_at"`
	PhaseStartBalance float64     `json:"phase_start_balance"`
	Status            Status      `json:"status"`

	FailureReason  FailureReason `json:"failure_reason,omitempty"`
	FailureDetails string        `json:"failure_details,omitempty"`
	FailedAt       *time.Time    `json:"failed_at,omitempty"`

	// Two-strike warning machinery for the max-total-trades rule.
	RuleViolationWarned bool   `json:"rule_violation_warned"`
	LastViolationType   string `json:"last_violation_type,omitempty"`
	ViolationCount      int    `json:"violation_count"`

	// Counters.
	DailyTradeCount int       `json:"daily_trade_count"`
	DailyTradeDate  string    `json:"daily_trade_date"` // UTC yyyy-mm-dd the daily counter belongs to
	PhaseTradeCount int       `json:"phase_trade_count"`
	TotalTrades     int       `json:"total_trades"`
	OpenPositions   int       `json:"open_positions"`
	LastTradeAt     time.Time `json:"last_trade_at"`

	Stats       Stats    `json:"stats"`
	TradingDays []string `json:"trading_days"` // distinct UTC days with at least one trade

	PhaseHistory []PhaseRecord  `json:"phase_history"`
	Funded       *FundedAccount `json:"funded,omitempty"`

	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"` // zero = no hard expiry

	// Optimistic-concurrency revision, bumped on every persist.
	Revision int64 `json:"revision"`
}

// DayKey formats t as the UTC calendar-day key used for baselines and
// counters.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// New creates a challenge account at purchase time. Watermarks and baselines
// start at the purchased size per the account lifecycle rules.
func New(id, userID, tier string, size float64, now time.Time) *State {
	return &State{
		ID:                id,
		UserID:            userID,
		Tier:              tier,
		InitialBalance:    size,
		Balance:           size,
		Equity:            size,
		HighestBalance:    size,
		HighestEquity:     size,
		DailyStartBalance: size,
		DailyStartEquity:  size,
		DailyResetDay:     DayKey(now),
		CurrentPhase:      1,
		PhaseStatus:       PhaseActive,
		PhaseStartedAt:    now.UTC(),
		PhaseStartBalance: size,
		Status:            StatusActive,
		StartedAt:         now.UTC(),
	}
}

// Terminal reports whether the account has reached an immutable status.
// Funded accounts stay mutable for payout bookkeeping.
func (s *State) Terminal() bool {
	switch s.Status {
	case StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Tradeable reports whether new trades may be admitted at all.
func (s *State) Tradeable() bool {
	return s.Status == StatusActive || s.Status == StatusFunded
}

// ProfitPct returns balance profit relative to the initial balance, in
// percent. Negative while under water.
func (s *State) ProfitPct() float64 {
	if s.InitialBalance == 0 {
		return 0
	}
	return (s.Balance - s.InitialBalance) / s.InitialBalance * 100
}

// MarkFailed records a terminal failure. It is idempotent: once terminal,
// later calls change nothing, so a race between two failure paths cannot
// overwrite the first recorded reason. Cancellations and time-limit expiries
// land on their dedicated statuses; everything else becomes failed.
func (s *State) MarkFailed(reason FailureReason, details string, now time.Time) bool {
	if s.Terminal() {
		return false
	}
	at := now.UTC()
	switch reason {
	case FailCancelled:
		s.Status = StatusCancelled
	case FailTimeLimit:
		s.Status = StatusExpired
	default:
		s.Status = StatusFailed
	}
	s.PhaseStatus = PhaseFailed
	s.FailureReason = reason
	s.FailureDetails = details
	s.FailedAt = &at
	return true
}

// RecordTradingDay appends the UTC day of t to the trading-day list if it is
// not already present, and returns the distinct-day count.
func (s *State) RecordTradingDay(t time.Time) int {
	day := DayKey(t)
	for _, d := range s.TradingDays {
		if d == day {
			return len(s.TradingDays)
		}
	}
	s.TradingDays = append(s.TradingDays, day)
	return len(s.TradingDays)
}

// RollDailyCounter resets the per-day trade counter when the UTC day has
// changed since the counter was last touched.
func (s *State) RollDailyCounter(now time.Time) {
	day := DayKey(now)
	if s.DailyTradeDate != day {
		s.DailyTradeDate = day
		s.DailyTradeCount = 0
	}
}

// RecordTrade applies the admission side effects: counters, last-trade time
// and the trading-day list.
func (s *State) RecordTrade(now time.Time) {
	s.RollDailyCounter(now)
	s.DailyTradeCount++
	s.PhaseTradeCount++
	s.TotalTrades++
	s.OpenPositions++
	s.LastTradeAt = now.UTC()
	s.RecordTradingDay(now)
}

// RecordClose applies a realized trade result to the ledger and statistics.
func (s *State) RecordClose(profit float64) {
	s.Balance += profit
	s.Equity = s.Balance
	if s.OpenPositions > 0 {
		s.OpenPositions--
	}
	if profit >= 0 {
		s.Stats.Wins++
		s.Stats.GrossProfit += profit
		if profit > s.Stats.LargestWin {
			s.Stats.LargestWin = profit
		}
	} else {
		loss := -profit
		s.Stats.Losses++
		s.Stats.GrossLoss += loss
		if loss > s.Stats.LargestLoss {
			s.Stats.LargestLoss = loss
		}
	}
}
