package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"challenge-core/pkg/db"
)

// ErrNotFound is returned when an account id is unknown to the registry.
var ErrNotFound = errors.New("account not found")

// Store persists account snapshots. *db.Store satisfies it; tests may use an
// in-memory fake.
type Store interface {
	UpsertAccount(ctx context.Context, row db.AccountRow) error
	ListAccounts(ctx context.Context) ([]db.AccountRow, error)
}

type entry struct {
	mu    sync.Mutex
	state *State
}

// Registry keeps an in-memory view of every challenge account and serializes
// all mutations per account id. Every read-validate-mutate-persist sequence
// for one account must run inside WithAccount.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	store   Store
	log     zerolog.Logger
}

// NewRegistry creates a registry backed by store. A nil store keeps accounts
// in memory only.
func NewRegistry(store Store, log zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		store:   store,
		log:     log.With().Str("component", "account_registry").Logger(),
	}
}

// Load seeds the in-memory view from the store on startup.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	rows, err := r.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		st := &State{}
		if err := json.Unmarshal([]byte(row.StateJSON), st); err != nil {
			r.log.Error().Err(err).Str("account_id", row.ID).Msg("skipping account with corrupt state blob")
			continue
		}
		r.entries[st.ID] = &entry{state: st}
	}
	r.log.Info().Int("accounts", len(r.entries)).Msg("account registry loaded")
	return nil
}

// Create registers a new account and persists its initial snapshot.
func (r *Registry) Create(ctx context.Context, st *State) error {
	r.mu.Lock()
	if _, exists := r.entries[st.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("account %s already registered", st.ID)
	}
	e := &entry{state: st}
	r.entries[st.ID] = e
	r.mu.Unlock()

	return r.persist(ctx, st)
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// WithAccount runs fn with exclusive access to the account's state and then
// persists the snapshot. An error from fn aborts persistence.
func (r *Registry) WithAccount(ctx context.Context, id string, fn func(*State) error) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := fn(e.state); err != nil {
		return err
	}
	return r.persist(ctx, e.state)
}

// persist bumps the revision and writes the snapshot through the store.
func (r *Registry) persist(ctx context.Context, st *State) error {
	st.Revision++
	if r.store == nil {
		return nil
	}

	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal account %s: %w", st.ID, err)
	}
	row := db.AccountRow{
		ID:            st.ID,
		UserID:        st.UserID,
		Tier:          st.Tier,
		Status:        string(st.Status),
		CurrentPhase:  st.CurrentPhase,
		Balance:       st.Balance,
		Equity:        st.Equity,
		FailureReason: string(st.FailureReason),
		Revision:      st.Revision,
		StateJSON:     string(blob),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := r.store.UpsertAccount(ctx, row); err != nil {
		return fmt.Errorf("persist account %s: %w", st.ID, err)
	}
	return nil
}

// Snapshot returns a copy of the account state for lock-free reads.
func (r *Registry) Snapshot(id string) (State, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.state
	return cp, true
}

// IDs returns every registered account id.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	return out
}

// Count returns the number of registered accounts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
