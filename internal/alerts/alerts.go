// Package alerts carries operator alerts about dead lettered jobs over
// RabbitMQ and relays them to the admin chats.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openbuilders/pix-bridge/internal/queue"
	"github.com/openbuilders/pix-bridge/internal/types"

	amqp "github.com/rabbitmq/amqp091-go"
)

const PatternJobFailed = "job-failed"

type Alert struct {
	Pattern  string          `json:"pattern"`
	Instance string          `json:"instance"`
	Data     types.FailedJob `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, queueName queue.QueueName, message []byte) error
}

// Reporter publishes dead lettered jobs to the operator queue.
type Reporter struct {
	publisher Publisher
	instance  string
	log       *slog.Logger
}

func NewReporter(publisher Publisher, instance string) *Reporter {
	return &Reporter{
		publisher: publisher,
		instance:  instance,
		log:       slog.With("component", "alerts"),
	}
}

func (r *Reporter) Report(ctx context.Context, job types.FailedJob) error {
	payload, err := json.Marshal(Alert{
		Pattern:  PatternJobFailed,
		Instance: r.instance,
		Data:     job,
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	if err := r.publisher.Publish(ctx, queue.QueueOperatorAlerts, payload); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}

	r.log.Debug("Alert published", "job", job.ID)

	return nil
}

type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)
}

type RelayConfig struct {
	AdminChatIDs []int64
	Prefetch     int
	SendTimeout  time.Duration
	RetryDelay   time.Duration
}

// Relay consumes the operator queue and forwards every alert to the admin
// chats.
type Relay struct {
	config *RelayConfig
	chat   Sender
	log    *slog.Logger
}

func NewRelay(config *RelayConfig, chat Sender) *Relay {
	return &Relay{
		config: config,
		chat:   chat,
		log:    slog.With("component", "alerts-relay"),
	}
}

// Run is a queue.WorkerFunc.
func (r *Relay) Run(ctx context.Context, conn *amqp.Connection) error {
	ch, err := queue.EnsureQueueExists(conn, queue.QueueOperatorAlerts)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(r.config.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	messages, err := ch.Consume(
		string(queue.QueueOperatorAlerts), // queue
		"alerts-relay",                    // consumer
		false,                             // autoAck
		false,                             // exclusive
		false,                             // noLocal
		false,                             // no wait
		nil,                               // args
	)
	if err != nil {
		return fmt.Errorf("consume alerts: %w", err)
	}

	r.log.Info("Relaying operator alerts", "chats", len(r.config.AdminChatIDs))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("alerts channel is closed")
			}

			r.handle(ctx, msg)
		}
	}
}

func (r *Relay) handle(ctx context.Context, msg amqp.Delivery) {
	var alert Alert
	if err := json.Unmarshal(msg.Body, &alert); err != nil {
		r.log.Error("malformed alert, dropping", "body", string(msg.Body),
			"error", err)
		_ = msg.Nack(false, false)
		return
	}

	if err := r.Deliver(ctx, alert); err != nil {
		// an alert gets one more delivery, then it stays in the logs only
		if msg.Redelivered {
			r.log.Error("alert undeliverable, dropping", "job", alert.Data.ID,
				"job_error", alert.Data.Error, "error", err)
			_ = msg.Nack(false, false)
			return
		}

		select {
		case <-ctx.Done():
		case <-time.After(r.config.RetryDelay):
		}

		_ = msg.Nack(false, true)
		return
	}

	if err := msg.Ack(false); err != nil {
		r.log.Error("alert ack error", "error", err)
	}
}

// Deliver sends the alert to every admin chat. It fails only if no chat got
// it, so a partial delivery is not repeated.
func (r *Relay) Deliver(ctx context.Context, alert Alert) error {
	if len(r.config.AdminChatIDs) == 0 {
		r.log.Warn("No admin chats configured, alert is only logged",
			"job", alert.Data.ID, "error", alert.Data.Error)
		return nil
	}

	text := Format(alert)

	var delivered int
	var lastErr error
	for _, chatID := range r.config.AdminChatIDs {
		sendCtx, cancel := context.WithTimeout(ctx, r.config.SendTimeout)
		_, err := r.chat.SendMessage(sendCtx, chatID, text)
		cancel()

		if err != nil {
			r.log.Error("couldn't deliver alert", "chat", chatID, "error", err)
			lastErr = err
			continue
		}

		delivered++
	}

	if delivered == 0 {
		return lastErr
	}

	return nil
}

func Format(alert Alert) string {
	job := alert.Data

	return fmt.Sprintf("🚨 Job %s failed after %d attempts\nInstance: %s\nOwner: %d\nError: %s\nAt: %s",
		job.ID,
		job.Attempts,
		alert.Instance,
		job.Payload.OwnerID,
		job.Error,
		job.FailedAt.UTC().Format(time.RFC3339),
	)
}
