package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pix_bridge"

var (
	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_requests_total",
		Help:      "Inbound payment webhooks by outcome.",
	}, []string{"outcome"})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_processed_total",
		Help:      "Delayed jobs run by the scheduler by kind and result.",
	}, []string{"kind", "result"})

	ChatDeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_delivery_failures_total",
		Help:      "Chat messages that could not be sent or deleted.",
	}, []string{"operation"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_total",
		Help:      "Terminal status transitions by status and the path that applied them.",
	}, []string{"status", "source"})
)

const (
	ResultSuccess = "success"
	ResultRetry   = "retry"
	ResultDead    = "dead"

	SourceWebhook = "webhook"
	SourceJob     = "job"
)
