// Package rules defines the declarative rule set a challenge account is
// evaluated against. A RuleSet is read-only once loaded; the engine never
// mutates it.
package rules

import (
	"time"
)

// DrawdownBasis selects which series anchors drawdown calculations.
type DrawdownBasis string

const (
	BasisBalance      DrawdownBasis = "balance"
	BasisEquity       DrawdownBasis = "equity"
	BasisHigherOfBoth DrawdownBasis = "higher_of_both"
)

// Phase describes one evaluation stage with its own pass conditions.
type Phase struct {
	PhaseNumber     int     `json:"phase_number" yaml:"phase_number"`
	ProfitTargetPct float64 `json:"profit_target_pct" yaml:"profit_target_pct"`
	MinTradingDays  int     `json:"min_trading_days" yaml:"min_trading_days"`
	MaxTradingDays  int     `json:"max_trading_days" yaml:"max_trading_days"`
	MinTrades       int     `json:"min_trades" yaml:"min_trades"`
}

// Payout holds profit-split parameters applied once an account is funded.
type Payout struct {
	ProfitSplitPct  float64 `json:"profit_split_pct" yaml:"profit_split_pct"`
	MinimumPayout   float64 `json:"minimum_payout" yaml:"minimum_payout"`
	PayoutFrequency string  `json:"payout_frequency" yaml:"payout_frequency"` // e.g. "biweekly", "monthly"
}

// WeekendWindow is the UTC window during which open positions are forbidden
// when weekend holding is disallowed. Exposed as configuration rather than
// hardcoded literals; defaults match the common Fri 21:00 - Sun 21:00 cutoff.
type WeekendWindow struct {
	CloseWeekday time.Weekday `json:"close_weekday" yaml:"close_weekday"`
	CloseHour    int          `json:"close_hour" yaml:"close_hour"`
	OpenWeekday  time.Weekday `json:"open_weekday" yaml:"open_weekday"`
	OpenHour     int          `json:"open_hour" yaml:"open_hour"`
}

// RuleSet defines the full rule configuration for one evaluation tier.
type RuleSet struct {
	Tier string `json:"tier" yaml:"tier"`

	// Drawdown
	MaxDailyDrawdownPct float64       `json:"max_daily_drawdown_pct" yaml:"max_daily_drawdown_pct"`
	MaxTotalDrawdownPct float64       `json:"max_total_drawdown_pct" yaml:"max_total_drawdown_pct"`
	DrawdownBasis       DrawdownBasis `json:"drawdown_basis" yaml:"drawdown_basis"`

	// Trailing drawdown (instant-funding tiers)
	TrailingDrawdownEnabled bool    `json:"trailing_drawdown_enabled" yaml:"trailing_drawdown_enabled"`
	TrailingLockProfitPct   float64 `json:"trailing_lock_profit_pct" yaml:"trailing_lock_profit_pct"`

	// Time caps
	MaxInactivityDays     int `json:"max_inactivity_days" yaml:"max_inactivity_days"`
	ChallengeDurationDays int `json:"challenge_duration_days" yaml:"challenge_duration_days"`

	// Trading conduct
	WeekendHoldingAllowed bool          `json:"weekend_holding_allowed" yaml:"weekend_holding_allowed"`
	WeekendWindow         WeekendWindow `json:"weekend_window" yaml:"weekend_window"`
	NewsTradingAllowed    bool          `json:"news_trading_allowed" yaml:"news_trading_allowed"`
	MandatoryStopLoss     bool          `json:"mandatory_stop_loss" yaml:"mandatory_stop_loss"`
	MaxStopLossPips       float64       `json:"max_stop_loss_pips" yaml:"max_stop_loss_pips"`

	// Position / volume caps
	MaxLotSize             float64 `json:"max_lot_size" yaml:"max_lot_size"`
	MaxOpenPositions       int     `json:"max_open_positions" yaml:"max_open_positions"` // 0 = unlimited
	AllowMultiplePositions bool    `json:"allow_multiple_positions" yaml:"allow_multiple_positions"`

	// Trade-count caps
	MaxTradesPerDay         int `json:"max_trades_per_day" yaml:"max_trades_per_day"`
	MaxTradesPerPhase       int `json:"max_trades_per_phase" yaml:"max_trades_per_phase"`
	MaxTotalTrades          int `json:"max_total_trades" yaml:"max_total_trades"`
	MinTimeBetweenTradesSec int `json:"min_time_between_trades_sec" yaml:"min_time_between_trades_sec"`

	// Two-strike policy on the max-total-trades rule.
	WarnBeforeBlow bool `json:"warn_before_blow" yaml:"warn_before_blow"`

	// Instrument allow-list; empty means unrestricted.
	AllowedInstruments []string `json:"allowed_instruments" yaml:"allowed_instruments"`

	// Ordered phase definitions. Instant-funding tiers have a single phase.
	Phases []Phase `json:"phases" yaml:"phases"`

	Payout Payout `json:"payout" yaml:"payout"`
}

// DefaultWeekendWindow returns the standard Fri 21:00 - Sun 21:00 UTC window.
func DefaultWeekendWindow() WeekendWindow {
	return WeekendWindow{
		CloseWeekday: time.Friday,
		CloseHour:    21,
		OpenWeekday:  time.Sunday,
		OpenHour:     21,
	}
}

// Default returns the baseline two-phase evaluation rule set.
func Default() RuleSet {
	return RuleSet{
		Tier:                    "standard",
		MaxDailyDrawdownPct:     5,
		MaxTotalDrawdownPct:     10,
		DrawdownBasis:           BasisHigherOfBoth,
		TrailingDrawdownEnabled: false,
		TrailingLockProfitPct:   0,
		MaxInactivityDays:       30,
		ChallengeDurationDays:   0, // unlimited unless phase caps apply
		WeekendHoldingAllowed:   true,
		WeekendWindow:           DefaultWeekendWindow(),
		NewsTradingAllowed:      true,
		MandatoryStopLoss:       false,
		MaxStopLossPips:         0,
		MaxLotSize:              20,
		MaxOpenPositions:        0,
		AllowMultiplePositions:  true,
		MaxTradesPerDay:         0,
		MaxTradesPerPhase:       0,
		MaxTotalTrades:          0,
		MinTimeBetweenTradesSec: 0,
		WarnBeforeBlow:          true,
		Phases: []Phase{
			{PhaseNumber: 1, ProfitTargetPct: 8, MinTradingDays: 5, MaxTradingDays: 30},
			{PhaseNumber: 2, ProfitTargetPct: 5, MinTradingDays: 5, MaxTradingDays: 60},
		},
		Payout: Payout{
			ProfitSplitPct:  80,
			MinimumPayout:   100,
			PayoutFrequency: "biweekly",
		},
	}
}

// InstrumentAllowed reports whether the symbol passes the allow-list.
// An empty list means every instrument is allowed.
func (r *RuleSet) InstrumentAllowed(symbol string) bool {
	if len(r.AllowedInstruments) == 0 {
		return true
	}
	for _, s := range r.AllowedInstruments {
		if s == symbol {
			return true
		}
	}
	return false
}

// PhaseByNumber returns the phase definition for n, or false when n is out of
// range. Phase numbers are 1-based and the list is ordered.
func (r *RuleSet) PhaseByNumber(n int) (Phase, bool) {
	for _, p := range r.Phases {
		if p.PhaseNumber == n {
			return p, true
		}
	}
	return Phase{}, false
}

// TotalPhases returns the number of evaluation phases in the tier.
func (r *RuleSet) TotalPhases() int {
	return len(r.Phases)
}

// Contains reports whether t (UTC) falls inside the weekend no-holding window.
func (w WeekendWindow) Contains(t time.Time) bool {
	t = t.UTC()
	day := t.Weekday()
	hour := t.Hour()

	switch day {
	case w.CloseWeekday:
		return hour >= w.CloseHour
	case w.OpenWeekday:
		return hour < w.OpenHour
	default:
		// Days strictly between close and open, walking forward from close.
		for d := (w.CloseWeekday + 1) % 7; d != w.OpenWeekday; d = (d + 1) % 7 {
			if d == day {
				return true
			}
		}
		return false
	}
}
