package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/openbuilders/pix-bridge/internal/repository"
	"github.com/openbuilders/pix-bridge/internal/repository/postgres/model"
	"github.com/openbuilders/pix-bridge/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	DuplicateKeyValue string = "23505"
)

const transactionColumns = `id, owner_id,
	requested_amount::text AS requested_amount,
	expected_payout_amount::text AS expected_payout_amount,
	external_entry_id, status, settlement_reference,
	qr_message_id, reminder_message_id, created_at, updated_at`

func (p *Postgres) Create(ctx context.Context, tx *types.Transaction) error {
	query := `
		INSERT INTO transactions (id, owner_id, requested_amount,
			expected_payout_amount, external_entry_id, status, qr_message_id)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := p.pg.QueryRow(ctx, query,
		tx.ID,
		tx.OwnerID,
		tx.RequestedAmount.String(),
		tx.ExpectedPayoutAmount.String(),
		tx.ExternalEntryID,
		string(tx.Status),
		tx.QRMessageID,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == DuplicateKeyValue {
			return repository.ErrDuplicate
		}

		return fmt.Errorf("couldn't persist transaction: %w", err)
	}

	return nil
}

func (p *Postgres) GetByExternalEntryID(ctx context.Context, entryID string) (
	*types.Transaction, error) {

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE external_entry_id = $1`

	return p.queryTransaction(ctx, query, entryID)
}

func (p *Postgres) ExistsByExternalEntryID(ctx context.Context, entryID string) (
	bool, error) {

	var exists bool

	err := p.pg.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE external_entry_id = $1)`,
		entryID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check transaction existence: %w", err)
	}

	return exists, nil
}

// CompareAndTransition moves the transaction from one status to another in a
// single conditional update. The ephemeral message references are cleared by
// the same statement and their previous values are returned, so only the
// caller that won the transition gets to delete the messages.
func (p *Postgres) CompareAndTransition(ctx context.Context, entryID string,
	from, to types.Status, fields repository.TransitionFields) (
	*types.Transaction, error) {

	query := `
		UPDATE transactions AS t
		SET status = $3,
			settlement_reference = COALESCE(NULLIF($4, ''), t.settlement_reference),
			qr_message_id = NULL,
			reminder_message_id = NULL,
			updated_at = NOW()
		FROM (
			SELECT id, qr_message_id, reminder_message_id
			FROM transactions
			WHERE external_entry_id = $1
			FOR UPDATE
		) AS prev
		WHERE t.id = prev.id AND t.status = $2
		RETURNING t.id, t.owner_id,
			t.requested_amount::text AS requested_amount,
			t.expected_payout_amount::text AS expected_payout_amount,
			t.external_entry_id, t.status, t.settlement_reference,
			prev.qr_message_id AS qr_message_id,
			prev.reminder_message_id AS reminder_message_id,
			t.created_at, t.updated_at
	`

	tx, err := p.queryTransaction(ctx, query,
		entryID, string(from), string(to), fields.SettlementReference)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, p.missingOrConflict(ctx, entryID)
	}

	return tx, err
}

// SetReminderMessage stores the reminder message of a transaction that is
// still pending.
func (p *Postgres) SetReminderMessage(ctx context.Context, entryID string,
	messageID int64) error {

	tag, err := p.pg.Exec(ctx, `
		UPDATE transactions
		SET reminder_message_id = $2, updated_at = NOW()
		WHERE external_entry_id = $1 AND status = $3`,
		entryID, messageID, string(types.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("couldn't store reminder message: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return p.missingOrConflict(ctx, entryID)
	}

	return nil
}

// missingOrConflict tells apart the two reasons a conditional update can
// affect no rows. It is only used for reporting: the update itself already
// decided the outcome.
func (p *Postgres) missingOrConflict(ctx context.Context, entryID string) error {
	exists, err := p.ExistsByExternalEntryID(ctx, entryID)
	if err != nil {
		return err
	}

	if !exists {
		return repository.ErrNotFound
	}

	return repository.ErrConflict
}

func (p *Postgres) queryTransaction(ctx context.Context, query string,
	args ...any) (*types.Transaction, error) {

	rows, err := p.pg.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}

	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Transaction])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}

		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	return row.ToDomain()
}
