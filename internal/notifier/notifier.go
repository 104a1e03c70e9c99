package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openbuilders/pix-bridge/internal/metrics"
	"github.com/openbuilders/pix-bridge/internal/types"
)

type Config struct {
	FollowUpDelay time.Duration
	// ChatTimeout bounds every single call to the chat transport.
	ChatTimeout time.Duration
}

type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

type Scheduler interface {
	Schedule(ctx context.Context, kind types.JobKind, entryID string,
		payload types.JobPayload, delay time.Duration) error
}

// Notifier tells transaction owners what happened to their payment.
type Notifier struct {
	config    *Config
	chat      Transport
	scheduler Scheduler
	log       *slog.Logger
}

func New(config *Config, chat Transport, scheduler Scheduler) *Notifier {
	return &Notifier{
		config:    config,
		chat:      chat,
		scheduler: scheduler,
		log:       slog.With("component", "notifier"),
	}
}

// NotifyFinal removes the ephemeral messages of a finalized transaction and
// sends its terminal message. For a paid transaction a follow-up message is
// scheduled as well. Only a failure to deliver the terminal message is
// returned, the rest is logged.
func (n *Notifier) NotifyFinal(ctx context.Context, tx *types.Transaction) error {
	log := n.log.With("entry_id", tx.ExternalEntryID, "status", tx.Status)

	for _, messageID := range tx.EphemeralMessageIDs() {
		if err := n.DeleteMessage(ctx, tx.OwnerID, messageID); err != nil {
			log.Warn("couldn't delete ephemeral message",
				"message_id", messageID,
				"error", err,
			)
		}
	}

	if _, err := n.send(ctx, tx.OwnerID, terminalText(tx)); err != nil {
		log.Error("couldn't send terminal message, the owner won't be notified",
			"owner", tx.OwnerID,
			"error", err,
		)

		return fmt.Errorf("send terminal message: %w", err)
	}

	log.Info("Owner notified")

	if tx.Status != types.StatusPaid {
		return nil
	}

	payload := types.JobPayload{
		OwnerID:         tx.OwnerID,
		ExternalEntryID: tx.ExternalEntryID,
		Amount:          tx.ExpectedPayoutAmount,
		Status:          tx.Status,
	}

	err := n.scheduler.Schedule(ctx, types.JobFollowUp, tx.ExternalEntryID,
		payload, n.config.FollowUpDelay)
	if err != nil {
		log.Warn("couldn't schedule follow-up message", "error", err)
	}

	return nil
}

// SendReminder sends the reminder of a pending transaction and returns the
// id of the message.
func (n *Notifier) SendReminder(ctx context.Context, tx *types.Transaction) (
	int64, error) {

	return n.send(ctx, tx.OwnerID, reminderText(tx))
}

func (n *Notifier) SendFollowUp(ctx context.Context, payload types.JobPayload) error {
	_, err := n.send(ctx, payload.OwnerID, followUpText)
	return err
}

func (n *Notifier) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	ctx, cancel := context.WithTimeout(ctx, n.config.ChatTimeout)
	defer cancel()

	err := n.chat.DeleteMessage(ctx, chatID, messageID)
	if err != nil {
		metrics.ChatDeliveryFailures.WithLabelValues("delete").Inc()
	}

	return err
}

func (n *Notifier) send(ctx context.Context, chatID int64, text string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, n.config.ChatTimeout)
	defer cancel()

	id, err := n.chat.SendMessage(ctx, chatID, text)
	if err != nil {
		metrics.ChatDeliveryFailures.WithLabelValues("send").Inc()
		return 0, err
	}

	return id, nil
}
