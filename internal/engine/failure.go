package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"challenge-core/internal/account"
	"challenge-core/internal/events"
)

// Fail records a terminal failure and runs the side effects. It implements
// the drawdown monitor's failure handler. Idempotent: once the account is
// terminal the call is a no-op, so a breach detected on two paths at once
// produces exactly one failure.
func (e *Engine) Fail(ctx context.Context, st *account.State, reason account.FailureReason, details string) {
	if !st.MarkFailed(reason, details, e.now()) {
		return
	}
	e.failSideEffects(ctx, st, reason, details)
}

// failSideEffects closes open trades, suspends the platform account and
// publishes the failure event. Collaborator errors are logged, never raised:
// the state transition already happened and the reconciliation sweep retries
// orphaned trades later.
func (e *Engine) failSideEffects(ctx context.Context, st *account.State, reason account.FailureReason, details string) {
	e.log.Warn().Str("account_id", st.ID).Str("reason", string(reason)).
		Str("details", details).Msg("challenge failed")

	if err := e.breaker.closeTrades(ctx, e.collab.Closer, st.ID, string(reason)); err != nil {
		e.log.Error().Err(err).Str("account_id", st.ID).
			Msg("close-all failed; reconciliation sweep will retry")
	} else {
		st.OpenPositions = 0
	}

	if err := e.breaker.suspend(ctx, e.collab.Suspender, st.ID); err != nil {
		e.log.Error().Err(err).Str("account_id", st.ID).Msg("account suspension failed")
	}

	e.notifier.Publish(events.New(events.TypeChallengeFailed, st.ID, st.UserID, map[string]any{
		"reason":  string(reason),
		"details": details,
		"balance": st.Balance,
		"equity":  st.Equity,
		"phase":   st.CurrentPhase,
	}))
}

// collabBreaker wraps the platform-facing collaborators in circuit breakers
// so a dead platform API cannot stall every failure path behind timeouts.
type collabBreaker struct {
	closer    *gobreaker.CircuitBreaker
	suspender *gobreaker.CircuitBreaker
}

func newCollabBreaker(log zerolog.Logger) *collabBreaker {
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).
					Str("to", to.String()).Msg("circuit breaker state change")
			},
		}
	}
	return &collabBreaker{
		closer:    gobreaker.NewCircuitBreaker(settings("trade_closer")),
		suspender: gobreaker.NewCircuitBreaker(settings("account_suspender")),
	}
}

func (b *collabBreaker) closeTrades(ctx context.Context, c TradeCloser, accountID, reason string) error {
	_, err := b.closer.Execute(func() (any, error) {
		return nil, c.CloseOpenTrades(ctx, accountID, reason)
	})
	return err
}

func (b *collabBreaker) suspend(ctx context.Context, s AccountSuspender, accountID string) error {
	_, err := b.suspender.Execute(func() (any, error) {
		return nil, s.SuspendAccount(ctx, accountID)
	})
	return err
}
