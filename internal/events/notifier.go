package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"challenge-core/pkg/db"
)

// Notifier pushes challenge events to external subscribers. Implementations
// must never block the caller: publishing happens inside the per-account
// mutation scope.
type Notifier interface {
	Publish(ev Event)
}

// BusNotifier publishes onto the in-process bus.
type BusNotifier struct {
	Bus *Bus
}

func (n BusNotifier) Publish(ev Event) {
	n.Bus.Publish(ev)
}

// AuditNotifier appends every event to the SQLite audit trail. Writes are
// asynchronous and best-effort; a failed append never blocks a state
// transition.
type AuditNotifier struct {
	store *db.Store
	log   zerolog.Logger
}

// NewAuditNotifier creates an audit sink backed by store.
func NewAuditNotifier(store *db.Store, log zerolog.Logger) *AuditNotifier {
	return &AuditNotifier{
		store: store,
		log:   log.With().Str("component", "event_audit").Logger(),
	}
}

func (n *AuditNotifier) Publish(ev Event) {
	go func() {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			payload = []byte("{}")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.store.AppendEvent(ctx, db.EventRow{
			ID:        ev.ID,
			AccountID: ev.AccountID,
			UserID:    ev.UserID,
			Type:      string(ev.Type),
			Payload:   string(payload),
			CreatedAt: ev.At,
		}); err != nil {
			n.log.Error().Err(err).Str("event_id", ev.ID).Str("account_id", ev.AccountID).
				Msg("failed to append event to audit trail")
		}
	}()
}

// Multi fans an event out to several sinks.
type Multi []Notifier

func (m Multi) Publish(ev Event) {
	for _, n := range m {
		n.Publish(ev)
	}
}

// Nop discards events; useful in tests.
type Nop struct{}

func (Nop) Publish(Event) {}
