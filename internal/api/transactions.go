package api

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openbuilders/pix-bridge/internal/errors"
	"github.com/openbuilders/pix-bridge/internal/repository"
	"github.com/openbuilders/pix-bridge/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionCreated struct {
	ID              uuid.UUID    `json:"id"`
	ExternalEntryID string       `json:"externalEntryId"`
	Status          types.Status `json:"status"`
}

// TransactionHandler registers a transaction created by the bot and
// schedules its reminder and expiration.
func (s *Server) TransactionHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	if !s.services.IntakeAuth.Authenticate(r.Header.Get(s.config.AuthHeader)) {
		return nil, errors.New(errors.CodeUnauthorized, "invalid credential", nil)
	}

	body, err := s.readBody(w, r)
	if err != nil {
		return nil, err
	}

	var req types.TransactionRequest
	if err := s.decode(body, &req); err != nil {
		return nil, err
	}

	requested, err := decimal.NewFromString(req.RequestedAmount)
	if err != nil {
		return nil, errors.New(errors.CodeBadRequest, "invalid requestedAmount", err)
	}

	payout, err := decimal.NewFromString(req.ExpectedPayoutAmount)
	if err != nil {
		return nil, errors.New(errors.CodeBadRequest, "invalid expectedPayoutAmount", err)
	}

	if !requested.IsPositive() || payout.IsNegative() {
		return nil, errors.New(errors.CodeBadRequest, "amounts out of range", nil)
	}

	tx := &types.Transaction{
		ID:                   uuid.New(),
		OwnerID:              req.OwnerID,
		RequestedAmount:      requested,
		ExpectedPayoutAmount: payout,
		ExternalEntryID:      req.ExternalEntryID,
		Status:               types.StatusPending,
		QRMessageID:          req.QRMessageID,
	}

	log := s.log.With("entry_id", tx.ExternalEntryID, "owner", tx.OwnerID)

	// jobs first, a job whose transaction was never stored skips itself
	if err := s.ensureJobs(r, tx); err != nil {
		return nil, err
	}

	err = s.services.Store.Create(r.Context(), tx)
	if stderrors.Is(err, repository.ErrDuplicate) {
		return nil, errors.New(errors.CodeDuplicate, "transaction already exists", err)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Accepted a new transaction", "amount", tx.RequestedAmount)

	return TransactionCreated{
		ID:              tx.ID,
		ExternalEntryID: tx.ExternalEntryID,
		Status:          tx.Status,
	}, nil
}

// ensureJobs schedules the reminder and the expiration of the transaction.
// Jobs left by an earlier attempt with the same entry id are kept as they are.
func (s *Server) ensureJobs(r *http.Request, tx *types.Transaction) error {
	payload := types.JobPayload{
		OwnerID:         tx.OwnerID,
		ExternalEntryID: tx.ExternalEntryID,
		Amount:          tx.RequestedAmount,
	}

	jobs := []struct {
		kind  types.JobKind
		delay time.Duration
	}{
		{types.JobReminder, s.config.ReminderDelay},
		{types.JobExpiration, s.config.ExpirationDelay},
	}

	for _, job := range jobs {
		_, err := s.services.Scheduler.Ensure(r.Context(), job.kind,
			tx.ExternalEntryID, payload, job.delay)
		if err != nil {
			return fmt.Errorf("schedule %s for %s: %w", job.kind,
				tx.ExternalEntryID, err)
		}
	}

	return nil
}
