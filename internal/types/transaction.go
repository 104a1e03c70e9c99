package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusFailed  Status = "FAILED"
	StatusExpired Status = "EXPIRED"
)

// IsTerminal reports whether no further transition is allowed from the status.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusExpired
}

func (s Status) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

type Transaction struct {
	ID                   uuid.UUID
	OwnerID              int64
	RequestedAmount      decimal.Decimal
	ExpectedPayoutAmount decimal.Decimal
	ExternalEntryID      string
	Status               Status
	SettlementReference  string
	// Ephemeral chat messages, deleted once the transaction is finalized.
	QRMessageID       *int64
	ReminderMessageID *int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EphemeralMessageIDs returns the chat messages that have to be removed when the
// transaction reaches a terminal state.
func (t *Transaction) EphemeralMessageIDs() []int64 {
	var ids []int64

	if t.QRMessageID != nil {
		ids = append(ids, *t.QRMessageID)
	}

	if t.ReminderMessageID != nil {
		ids = append(ids, *t.ReminderMessageID)
	}

	return ids
}
