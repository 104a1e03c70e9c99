// Package jobs holds the handlers of the delayed jobs scheduled for every
// transaction. They are the second path into the transaction state machine,
// next to the payment webhook, and they may run after the webhook already
// finalized the transaction: each handler checks the stored state first.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openbuilders/pix-bridge/internal/metrics"
	"github.com/openbuilders/pix-bridge/internal/repository"
	"github.com/openbuilders/pix-bridge/internal/types"
)

type Repository interface {
	GetByExternalEntryID(ctx context.Context, entryID string) (*types.Transaction, error)
	CompareAndTransition(ctx context.Context, entryID string, from, to types.Status,
		fields repository.TransitionFields) (*types.Transaction, error)
	SetReminderMessage(ctx context.Context, entryID string, messageID int64) error
}

type Notifier interface {
	NotifyFinal(ctx context.Context, tx *types.Transaction) error
	SendReminder(ctx context.Context, tx *types.Transaction) (int64, error)
	SendFollowUp(ctx context.Context, payload types.JobPayload) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

type JobCanceller interface {
	Cancel(ctx context.Context, kind types.JobKind, entryID string) (bool, error)
}

type Handlers struct {
	repo     Repository
	notifier Notifier
	jobs     JobCanceller
	log      *slog.Logger
}

func New(repo Repository, notifier Notifier, jobs JobCanceller) *Handlers {
	return &Handlers{
		repo:     repo,
		notifier: notifier,
		jobs:     jobs,
		log:      slog.With("component", "jobs"),
	}
}

// Reminder nudges the owner of a transaction that is still pending. The
// reminder message is stored so that it is deleted on finalization.
func (h *Handlers) Reminder(ctx context.Context, job types.Job) error {
	log := h.log.With("job", job.ID)

	tx, err := h.repo.GetByExternalEntryID(ctx, job.Payload.ExternalEntryID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warn("Transaction of the reminder doesn't exist, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	if tx.Status != types.StatusPending {
		log.Debug("Transaction is already finalized, no reminder", "status", tx.Status)
		return nil
	}

	if tx.ReminderMessageID != nil {
		log.Debug("Reminder was already sent")
		return nil
	}

	messageID, err := h.notifier.SendReminder(ctx, tx)
	if err != nil {
		return fmt.Errorf("send reminder: %w", err)
	}

	err = h.repo.SetReminderMessage(ctx, tx.ExternalEntryID, messageID)
	switch {
	case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrNotFound):
		// finalized while the reminder was on its way, nobody else will
		// delete it
		log.Info("Transaction finalized during the reminder, removing it")
		if err := h.notifier.DeleteMessage(ctx, tx.OwnerID, messageID); err != nil {
			log.Warn("couldn't delete stale reminder", "error", err)
		}
		return nil
	case err != nil:
		// the message is out, retrying would send a second one
		log.Error("couldn't store reminder message", "error", err)
		return nil
	}

	log.Info("Reminder sent")

	return nil
}

// Expiration finalizes a transaction that received no payment in time.
func (h *Handlers) Expiration(ctx context.Context, job types.Job) error {
	log := h.log.With("job", job.ID)

	tx, err := h.repo.CompareAndTransition(ctx, job.Payload.ExternalEntryID,
		types.StatusPending, types.StatusExpired, repository.TransitionFields{})
	switch {
	case errors.Is(err, repository.ErrConflict):
		log.Debug("Transaction is already finalized, nothing to expire")
		return nil
	case errors.Is(err, repository.ErrNotFound):
		log.Warn("Transaction to expire doesn't exist, skipping")
		return nil
	case err != nil:
		return err
	}

	metrics.Transitions.WithLabelValues(string(types.StatusExpired),
		metrics.SourceJob).Inc()
	log.Info("Transaction expired")

	if _, err := h.jobs.Cancel(ctx, types.JobReminder, tx.ExternalEntryID); err != nil {
		log.Warn("couldn't cancel reminder", "error", err)
	}

	if err := h.notifier.NotifyFinal(ctx, tx); err != nil {
		log.Error("owner notification failed", "error", err)
	}

	return nil
}

// FollowUp sends the engagement message that follows a successful payment.
func (h *Handlers) FollowUp(ctx context.Context, job types.Job) error {
	if err := h.notifier.SendFollowUp(ctx, job.Payload); err != nil {
		return fmt.Errorf("send follow-up: %w", err)
	}

	return nil
}
