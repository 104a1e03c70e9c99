package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrForwarding = errors.New("forwarding to peer failed")

type ForwarderConfig struct {
	// Path is appended to the peer base url, it is the webhook path of this
	// service as well.
	Path string
	// Header carries the credential, it is forwarded unchanged.
	Header     string
	Timeout    time.Duration
	RetryCount int
	RetryWait  time.Duration
}

// ForwardResult is the peer response, relayed as is to the processor.
type ForwardResult struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type Forwarder struct {
	config *ForwarderConfig
	client *resty.Client
	log    *slog.Logger
}

func NewForwarder(config *ForwarderConfig) *Forwarder {
	client := resty.New().
		SetTimeout(config.Timeout).
		SetRetryCount(config.RetryCount).
		SetRetryWaitTime(config.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() >= http.StatusInternalServerError
		})

	return &Forwarder{
		config: config,
		client: client,
		log:    slog.With("component", "forwarder"),
	}
}

// Forward posts the original webhook body and credential to the peer. A
// network failure or a non-2xx answer is an ErrForwarding.
func (f *Forwarder) Forward(ctx context.Context, peer Peer, body []byte,
	credential string) (*ForwardResult, error) {

	url := strings.TrimRight(peer.BaseURL, "/") + f.config.Path

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader(f.config.Header, credential).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrForwarding, peer.Name, err)
	}

	if !resp.IsSuccess() {
		f.log.Warn("Peer rejected the webhook",
			"peer", peer.Name,
			"status", resp.StatusCode(),
			"body", string(resp.Body()),
		)

		return nil, fmt.Errorf("%w: %s answered %d", ErrForwarding, peer.Name,
			resp.StatusCode())
	}

	f.log.Info("Webhook forwarded", "peer", peer.Name, "status", resp.StatusCode())

	return &ForwardResult{
		StatusCode:  resp.StatusCode(),
		ContentType: resp.Header().Get("Content-Type"),
		Body:        resp.Body(),
	}, nil
}
