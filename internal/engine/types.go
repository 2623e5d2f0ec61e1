package engine

import (
	"context"
)

// TradeCloser closes all open trades of an account on the external trading
// platform. Calls are best-effort: a failure is logged and retried by the
// reconciliation sweep, never rolled back into the state transition.
type TradeCloser interface {
	CloseOpenTrades(ctx context.Context, accountID, reason string) error
}

// AccountSuspender suspends the external trading-account record so no new
// orders reach the platform after a terminal failure.
type AccountSuspender interface {
	SuspendAccount(ctx context.Context, accountID string) error
}

// WalletCrediter credits a payout to the trader's wallet. Transfer mechanics
// live outside the engine.
type WalletCrediter interface {
	CreditWallet(ctx context.Context, userID string, amount float64) error
}

// Collaborators bundles the external interfaces the engine calls out to.
type Collaborators struct {
	Closer    TradeCloser
	Suspender AccountSuspender
	Wallet    WalletCrediter
}

// Trade describes an executed (opened) trade as reported by the platform.
type Trade struct {
	ID        string
	Symbol    string
	Side      string // BUY or SELL
	Volume    float64
	OpenPrice float64
	StopLoss  float64
}

// CloseResult is returned from OnTradeClosed.
type CloseResult struct {
	Profit     float64
	NewBalance float64
}

// TickResult is returned from OnEquityTick.
type TickResult struct {
	Equity           float64
	DailyDrawdownPct float64
	TotalDrawdownPct float64
}

// NopCollaborators returns no-op implementations for dry-run and tests.
func NopCollaborators() Collaborators {
	return Collaborators{
		Closer:    nopCloser{},
		Suspender: nopSuspender{},
		Wallet:    nopWallet{},
	}
}

type nopCloser struct{}

func (nopCloser) CloseOpenTrades(context.Context, string, string) error { return nil }

type nopSuspender struct{}

func (nopSuspender) SuspendAccount(context.Context, string) error { return nil }

type nopWallet struct{}

func (nopWallet) CreditWallet(context.Context, string, float64) error { return nil }
