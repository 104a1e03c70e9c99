// Package reconcile applies payment processor status events to transactions.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openbuilders/pix-bridge/internal/metrics"
	"github.com/openbuilders/pix-bridge/internal/repository"
	"github.com/openbuilders/pix-bridge/internal/types"
)

type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeAlreadyProcessed Outcome = "already processed"
	OutcomeIgnored          Outcome = "non-terminal signal, ignored"
)

const SignalDelivered = "depix_sent"

var failureSignals = map[string]struct{}{
	"canceled":  {},
	"cancelled": {},
	"error":     {},
	"refunded":  {},
	"expired":   {},
}

// MapSignal returns the terminal status for a processor signal, false if the
// signal does not finalize the payment.
func MapSignal(signal string) (types.Status, bool) {
	signal = strings.ToLower(strings.TrimSpace(signal))

	if signal == SignalDelivered {
		return types.StatusPaid, true
	}

	if _, ok := failureSignals[signal]; ok {
		return types.StatusFailed, true
	}

	return "", false
}

type Store interface {
	CompareAndTransition(ctx context.Context, entryID string, from, to types.Status,
		fields repository.TransitionFields) (*types.Transaction, error)
}

type JobCanceller interface {
	Cancel(ctx context.Context, kind types.JobKind, entryID string) (bool, error)
}

type Notifier interface {
	NotifyFinal(ctx context.Context, tx *types.Transaction) error
}

type Engine struct {
	store    Store
	jobs     JobCanceller
	notifier Notifier
	log      *slog.Logger
}

func New(store Store, jobs JobCanceller, notifier Notifier) *Engine {
	return &Engine{
		store:    store,
		jobs:     jobs,
		notifier: notifier,
		log:      slog.With("component", "reconcile"),
	}
}

// Reconcile applies a webhook event to the locally owned transaction. Events
// for transactions that were already finalized, by an earlier delivery or by
// the expiration job, are acknowledged without side effects.
func (e *Engine) Reconcile(ctx context.Context, event types.WebhookEvent) (
	Outcome, error) {

	log := e.log.With("entry_id", event.ExternalEntryID,
		"signal", event.TerminalSignal)

	status, terminal := MapSignal(event.TerminalSignal)
	if !terminal {
		log.Info("Non-terminal signal, nothing to do")
		return OutcomeIgnored, nil
	}

	e.cancelJobs(ctx, event.ExternalEntryID)

	fields := repository.TransitionFields{}
	if status == types.StatusPaid {
		fields.SettlementReference = event.SettlementReference
	}

	tx, err := e.store.CompareAndTransition(ctx, event.ExternalEntryID,
		types.StatusPending, status, fields)
	switch {
	case errors.Is(err, repository.ErrConflict):
		log.Info("Transaction is already finalized")
		return OutcomeAlreadyProcessed, nil
	case err != nil:
		return "", fmt.Errorf("transition %s to %s: %w",
			event.ExternalEntryID, status, err)
	}

	metrics.Transitions.WithLabelValues(string(status), metrics.SourceWebhook).Inc()
	log.Info("Transaction finalized", "status", status)

	// the transition is applied, a client that hangs up must not cut the
	// notification short
	if err := e.notifier.NotifyFinal(context.WithoutCancel(ctx), tx); err != nil {
		// the transition stands, delivery is best-effort
		log.Error("owner notification failed", "error", err)
	}

	return OutcomeProcessed, nil
}

// cancelJobs is best-effort: a job that still fires finds the transaction
// finalized and does nothing.
func (e *Engine) cancelJobs(ctx context.Context, entryID string) {
	for _, kind := range []types.JobKind{types.JobReminder, types.JobExpiration} {
		removed, err := e.jobs.Cancel(ctx, kind, entryID)
		if err != nil {
			e.log.Warn("couldn't cancel job",
				"entry_id", entryID,
				"kind", kind,
				"error", err,
			)
			continue
		}

		e.log.Debug("Cancel job", "entry_id", entryID, "kind", kind, "removed", removed)
	}
}
