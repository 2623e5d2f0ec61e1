// Package sweeper runs the periodic enforcement passes that do not depend on
// trade flow: hard expiry, inactivity, the daily baseline reset and the
// reconciliation of orphaned open trades.
package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"challenge-core/internal/account"
	"challenge-core/internal/rules"
)

// Failer applies a terminal failure with its side effects. Implemented by the
// engine.
type Failer interface {
	Fail(ctx context.Context, st *account.State, reason account.FailureReason, details string)
}

// TradeCloser retries closing open trades left behind by a failed close-all.
type TradeCloser interface {
	CloseOpenTrades(ctx context.Context, accountID, reason string) error
}

// Sweeper walks every registered account on a schedule and applies the
// time-based rules. Every pass is idempotent: running twice in the same
// minute changes nothing the first run did not already change.
type Sweeper struct {
	registry *account.Registry
	catalog  *rules.Catalog
	failer   Failer
	closer   TradeCloser
	cron     *cron.Cron
	nowFn    func() time.Time
	log      zerolog.Logger
}

// New creates a sweeper. closer may be nil; the reconciliation pass is then
// skipped.
func New(registry *account.Registry, catalog *rules.Catalog, failer Failer, closer TradeCloser, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		registry: registry,
		catalog:  catalog,
		failer:   failer,
		closer:   closer,
		nowFn:    func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "sweeper").Logger(),
	}
}

// Start schedules the sweep on the given cron spec and returns. Overlapping
// runs are skipped, a panicking pass is recovered and logged.
func (s *Sweeper) Start(ctx context.Context, spec string) error {
	cl := cronLogger{s.log}
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cl),
		cron.Recover(cl),
	))
	_, err := s.cron.AddFunc(spec, func() {
		s.SweepOnce(ctx, s.nowFn())
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Str("spec", spec).Msg("sweeper started")
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// SweepOnce runs all passes over every account once. Exported so operators
// and tests can force a sweep at a chosen instant.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) {
	start := time.Now()
	var expired, inactive, resets, reconciled int

	for _, id := range s.registry.IDs() {
		err := s.registry.WithAccount(ctx, id, func(st *account.State) error {
			rs := s.catalog.Get(st.Tier)

			if st.Terminal() {
				if s.reconcile(ctx, st) {
					reconciled++
				}
				return nil
			}

			// Hard expiry first: an expired account must not get a fresh
			// daily baseline. Only evaluation accounts expire; funded
			// accounts have no clock.
			if st.Status == account.StatusActive && !st.ExpiresAt.IsZero() && !now.Before(st.ExpiresAt) {
				s.failer.Fail(ctx, st, account.FailTimeLimit, "challenge duration exceeded")
				expired++
				return nil
			}

			if s.checkInactivity(ctx, st, &rs, now) {
				inactive++
				return nil
			}

			if s.resetDaily(st, now) {
				resets++
			}
			return nil
		})
		if err != nil {
			s.log.Error().Err(err).Str("account_id", id).Msg("sweep pass failed")
		}
	}

	s.log.Info().Int("expired", expired).Int("inactive", inactive).
		Int("daily_resets", resets).Int("reconciled", reconciled).
		Dur("took", time.Since(start)).Msg("sweep complete")
}

// checkInactivity fails evaluation accounts with no trade inside the tier's
// inactivity window. Accounts that never traded are measured from their start
// time. Funded accounts may sit idle.
func (s *Sweeper) checkInactivity(ctx context.Context, st *account.State, rs *rules.RuleSet, now time.Time) bool {
	if st.Status != account.StatusActive || rs.MaxInactivityDays <= 0 {
		return false
	}
	last := st.LastTradeAt
	if last.IsZero() {
		last = st.StartedAt
	}
	if now.Sub(last) < time.Duration(rs.MaxInactivityDays)*24*time.Hour {
		return false
	}
	s.failer.Fail(ctx, st, account.FailInactivity, "no trading activity within the allowed window")
	return true
}

// resetDaily re-anchors the daily drawdown baseline at the UTC day boundary
// to the higher of balance and equity. The stored day marker makes the reset
// exactly-once per day no matter how often the sweep runs.
func (s *Sweeper) resetDaily(st *account.State, now time.Time) bool {
	day := account.DayKey(now)
	if st.DailyResetDay == day {
		return false
	}
	ref := max(st.Balance, st.Equity)
	st.DailyResetDay = day
	st.DailyStartBalance = ref
	st.DailyStartEquity = ref
	st.CurrentDailyDrawdownPct = 0
	return true
}

// reconcile retries the close-all for terminal accounts that still show open
// positions, which happens when the platform call failed at failure time.
func (s *Sweeper) reconcile(ctx context.Context, st *account.State) bool {
	if s.closer == nil || st.OpenPositions == 0 {
		return false
	}
	if err := s.closer.CloseOpenTrades(ctx, st.ID, string(st.FailureReason)); err != nil {
		s.log.Warn().Err(err).Str("account_id", st.ID).
			Int("open_positions", st.OpenPositions).Msg("reconcile close-all failed, will retry")
		return false
	}
	st.OpenPositions = 0
	return true
}

// cronLogger adapts zerolog to the cron logging interface.
type cronLogger struct {
	log zerolog.Logger
}

func (c cronLogger) Info(msg string, kv ...any) {
	c.log.Debug().Fields(kv).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.log.Error().Err(err).Fields(kv).Msg(msg)
}
