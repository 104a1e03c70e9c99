package model

import (
	"fmt"
	"time"

	"github.com/openbuilders/pix-bridge/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction mirrors a row of the transactions table. Amounts are selected as
// text so they can be parsed into decimals without precision loss.
type Transaction struct {
	ID                   uuid.UUID `db:"id"`
	OwnerID              int64     `db:"owner_id"`
	RequestedAmount      string    `db:"requested_amount"`
	ExpectedPayoutAmount string    `db:"expected_payout_amount"`
	ExternalEntryID      string    `db:"external_entry_id"`
	Status               string    `db:"status"`
	SettlementReference  *string   `db:"settlement_reference"`
	QRMessageID          *int64    `db:"qr_message_id"`
	ReminderMessageID    *int64    `db:"reminder_message_id"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func (t Transaction) ToDomain() (*types.Transaction, error) {
	requested, err := decimal.NewFromString(t.RequestedAmount)
	if err != nil {
		return nil, fmt.Errorf("parse requested amount %q: %w", t.RequestedAmount, err)
	}

	payout, err := decimal.NewFromString(t.ExpectedPayoutAmount)
	if err != nil {
		return nil, fmt.Errorf("parse payout amount %q: %w", t.ExpectedPayoutAmount, err)
	}

	status := types.Status(t.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q of transaction %s", t.Status,
			t.ExternalEntryID)
	}

	tx := &types.Transaction{
		ID:                   t.ID,
		OwnerID:              t.OwnerID,
		RequestedAmount:      requested,
		ExpectedPayoutAmount: payout,
		ExternalEntryID:      t.ExternalEntryID,
		Status:               status,
		QRMessageID:          t.QRMessageID,
		ReminderMessageID:    t.ReminderMessageID,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}

	if t.SettlementReference != nil {
		tx.SettlementReference = *t.SettlementReference
	}

	return tx, nil
}
