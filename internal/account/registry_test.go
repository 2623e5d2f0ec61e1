package account

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"challenge-core/pkg/db"
)

// memStore keeps the latest row per account in memory.
type memStore struct {
	mu   sync.Mutex
	rows map[string]db.AccountRow
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]db.AccountRow)}
}

func (m *memStore) UpsertAccount(_ context.Context, row db.AccountRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.ID] = row
	return nil
}

func (m *memStore) ListAccounts(context.Context) ([]db.AccountRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.AccountRow, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row)
	}
	return out, nil
}

func TestRegistryCreateAndSnapshot(t *testing.T) {
	store := newMemStore()
	r := NewRegistry(store, zerolog.Nop())

	st := New("a1", "u1", "standard", 10000, now)
	require.NoError(t, r.Create(context.Background(), st))

	snap, ok := r.Snapshot("a1")
	require.True(t, ok)
	assert.Equal(t, 10000.0, snap.Balance)
	assert.Equal(t, int64(1), snap.Revision)

	require.Error(t, r.Create(context.Background(), New("a1", "u1", "standard", 10000, now)),
		"duplicate id must be rejected")
}

func TestWithAccountPersistsAndBumpsRevision(t *testing.T) {
	store := newMemStore()
	r := NewRegistry(store, zerolog.Nop())
	require.NoError(t, r.Create(context.Background(), New("a1", "u1", "standard", 10000, now)))

	err := r.WithAccount(context.Background(), "a1", func(st *State) error {
		st.Balance = 10500
		return nil
	})
	require.NoError(t, err)

	row := store.rows["a1"]
	assert.Equal(t, 10500.0, row.Balance)
	assert.Equal(t, int64(2), row.Revision)

	var persisted State
	require.NoError(t, json.Unmarshal([]byte(row.StateJSON), &persisted))
	assert.Equal(t, 10500.0, persisted.Balance)
}

func TestWithAccountErrorAbortsPersist(t *testing.T) {
	store := newMemStore()
	r := NewRegistry(store, zerolog.Nop())
	require.NoError(t, r.Create(context.Background(), New("a1", "u1", "standard", 10000, now)))

	boom := errors.New("boom")
	err := r.WithAccount(context.Background(), "a1", func(st *State) error {
		st.Balance = 1
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), store.rows["a1"].Revision, "aborted mutation must not persist")
}

func TestWithAccountUnknownID(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	err := r.WithAccount(context.Background(), "missing", func(*State) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadRoundTrip(t *testing.T) {
	store := newMemStore()
	r := NewRegistry(store, zerolog.Nop())

	st := New("a1", "u1", "standard", 10000, now)
	st.TradingDays = []string{"2025-06-01", "2025-06-02"}
	st.Stats.Wins = 3
	require.NoError(t, r.Create(context.Background(), st))

	// A fresh registry over the same store sees the same state.
	r2 := NewRegistry(store, zerolog.Nop())
	require.NoError(t, r2.Load(context.Background()))
	require.Equal(t, 1, r2.Count())

	snap, ok := r2.Snapshot("a1")
	require.True(t, ok)
	assert.Equal(t, st.TradingDays, snap.TradingDays)
	assert.Equal(t, 3, snap.Stats.Wins)
}

// Parallel mutations on one account must serialize: every increment lands.
func TestWithAccountSerializesMutations(t *testing.T) {
	r := NewRegistry(nil, zerolog.Nop())
	require.NoError(t, r.Create(context.Background(), New("a1", "u1", "standard", 10000, now)))

	const workers = 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.WithAccount(context.Background(), "a1", func(st *State) error {
				st.TotalTrades++
				return nil
			})
		}()
	}
	wg.Wait()

	snap, _ := r.Snapshot("a1")
	assert.Equal(t, workers, snap.TotalTrades)
}
