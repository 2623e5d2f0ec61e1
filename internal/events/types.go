package events

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Type enumerates challenge lifecycle topics pushed to subscribers.
type Type string

const (
	TypeChallengeUpdate      Type = "challenge_update"
	TypeChallengeFailed      Type = "challenge_failed"
	TypeChallengePhasePassed Type = "challenge_phase_passed"
	TypeChallengeFunded      Type = "challenge_funded"
	TypeChallengeWarning     Type = "challenge_warning"
	TypeChallengePayout      Type = "challenge_payout"
)

// Event is one challenge lifecycle notification. IDs are ULIDs so the audit
// trail sorts chronologically by primary key.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	AccountID string         `json:"account_id"`
	UserID    string         `json:"user_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"at"`
}

// New builds an event with a fresh ULID and timestamp.
func New(t Type, accountID, userID string, payload map[string]any) Event {
	now := time.Now().UTC()
	return Event{
		ID:        ulid.Make().String(),
		Type:      t,
		AccountID: accountID,
		UserID:    userID,
		Payload:   payload,
		At:        now,
	}
}
