package account

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)

func TestNewStartsEverythingAtSize(t *testing.T) {
	st := New("a1", "u1", "standard", 25000, now)

	assert.Equal(t, 25000.0, st.Balance)
	assert.Equal(t, 25000.0, st.Equity)
	assert.Equal(t, 25000.0, st.HighestBalance)
	assert.Equal(t, 25000.0, st.DailyStartBalance)
	assert.Equal(t, 25000.0, st.PhaseStartBalance)
	assert.Equal(t, 1, st.CurrentPhase)
	assert.Equal(t, StatusActive, st.Status)
	assert.Equal(t, DayKey(now), st.DailyResetDay)
}

func TestMarkFailedStatusMapping(t *testing.T) {
	tests := []struct {
		reason FailureReason
		want   Status
	}{
		{FailMaxDailyDrawdown, StatusFailed},
		{FailMaxTotalDrawdown, StatusFailed},
		{FailInactivity, StatusFailed},
		{FailManual, StatusFailed},
		{FailPayment, StatusFailed},
		{FailCancelled, StatusCancelled},
		{FailTimeLimit, StatusExpired},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			st := New("a1", "u1", "standard", 10000, now)
			require.True(t, st.MarkFailed(tt.reason, "details", now))
			assert.Equal(t, tt.want, st.Status)
			assert.Equal(t, tt.reason, st.FailureReason)
			assert.Equal(t, PhaseFailed, st.PhaseStatus)
			require.NotNil(t, st.FailedAt)
		})
	}
}

// Terminal statuses are immutable: the first recorded reason wins.
func TestMarkFailedIsIdempotent(t *testing.T) {
	st := New("a1", "u1", "standard", 10000, now)

	require.True(t, st.MarkFailed(FailMaxDailyDrawdown, "first", now))
	assert.False(t, st.MarkFailed(FailManual, "second", now.Add(time.Hour)))

	assert.Equal(t, FailMaxDailyDrawdown, st.FailureReason)
	assert.Equal(t, "first", st.FailureDetails)
}

func TestTradeableAndTerminal(t *testing.T) {
	st := New("a1", "u1", "standard", 10000, now)
	assert.True(t, st.Tradeable())
	assert.False(t, st.Terminal())

	st.Status = StatusFunded
	assert.True(t, st.Tradeable())
	assert.False(t, st.Terminal())

	st.Status = StatusFailed
	assert.False(t, st.Tradeable())
	assert.True(t, st.Terminal())
}

func TestRecordTradingDayDeduplicates(t *testing.T) {
	st := New("a1", "u1", "standard", 10000, now)

	assert.Equal(t, 1, st.RecordTradingDay(now))
	assert.Equal(t, 1, st.RecordTradingDay(now.Add(4*time.Hour)))
	assert.Equal(t, 2, st.RecordTradingDay(now.AddDate(0, 0, 1)))
}

func TestRollDailyCounter(t *testing.T) {
	st := New("a1", "u1", "standard", 10000, now)
	st.DailyTradeDate = DayKey(now)
	st.DailyTradeCount = 7

	st.RollDailyCounter(now.Add(time.Hour))
	assert.Equal(t, 7, st.DailyTradeCount, "same day keeps the counter")

	st.RollDailyCounter(now.AddDate(0, 0, 1))
	assert.Equal(t, 0, st.DailyTradeCount)
	assert.Equal(t, DayKey(now.AddDate(0, 0, 1)), st.DailyTradeDate)
}

func TestRecordCloseStats(t *testing.T) {
	st := New("a1", "u1", "standard", 10000, now)
	st.OpenPositions = 2

	st.RecordClose(250)
	st.RecordClose(-100)
	st.RecordClose(400)

	assert.Equal(t, 10550.0, st.Balance)
	assert.Equal(t, st.Balance, st.Equity)
	assert.Equal(t, 0, st.OpenPositions) // never below zero
	assert.Equal(t, 2, st.Stats.Wins)
	assert.Equal(t, 1, st.Stats.Losses)
	assert.Equal(t, 650.0, st.Stats.GrossProfit)
	assert.Equal(t, 100.0, st.Stats.GrossLoss)
	assert.Equal(t, 400.0, st.Stats.LargestWin)
	assert.Equal(t, 100.0, st.Stats.LargestLoss)
	assert.InDelta(t, 6.5, st.Stats.ProfitFactor(), 1e-9)
	assert.InDelta(t, 2.0/3.0, st.Stats.WinRate(), 1e-9)
}

func TestProfitPct(t *testing.T) {
	st := New("a1", "u1", "standard", 10000, now)
	st.Balance = 10800
	assert.InDelta(t, 8.0, st.ProfitPct(), 1e-9)

	st.Balance = 9500
	assert.InDelta(t, -5.0, st.ProfitPct(), 1e-9)
}
