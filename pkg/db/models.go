package db

import "time"

// AccountRow is the persisted snapshot of one challenge account. The hot
// columns exist for operational queries; state_json carries the full ledger.
type AccountRow struct {
	ID            string
	UserID        string
	Tier          string
	Status        string
	CurrentPhase  int
	Balance       float64
	Equity        float64
	FailureReason string
	Revision      int64
	StateJSON     string
	UpdatedAt     time.Time
}

// PhaseHistoryRow is one frozen phase outcome. Rows are append-only.
type PhaseHistoryRow struct {
	AccountID    string
	Phase        int
	Result       string
	StartBalance float64
	EndBalance   float64
	TradingDays  int
	Trades       int
	StartedAt    time.Time
	EndedAt      time.Time
}

// EventRow is one published challenge event, kept as an append-only audit
// trail.
type EventRow struct {
	ID        string
	AccountID string
	UserID    string
	Type      string
	Payload   string
	CreatedAt time.Time
}
