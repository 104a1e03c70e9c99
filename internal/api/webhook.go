package api

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/openbuilders/pix-bridge/internal/errors"
	"github.com/openbuilders/pix-bridge/internal/helpers"
	"github.com/openbuilders/pix-bridge/internal/metrics"
	"github.com/openbuilders/pix-bridge/internal/repository"
	"github.com/openbuilders/pix-bridge/internal/types"
	"github.com/openbuilders/pix-bridge/internal/webhook"
)

const (
	outcomeUnauthorized = "unauthorized"
	outcomeBadRequest   = "bad_request"
	outcomeNotFound     = "not_found"
	outcomeForwarded    = "forwarded"
	outcomeForwardError = "forward_failed"
	outcomeError        = "error"
)

// WebhookHandler accepts a status update from the payment processor and
// either reconciles it locally or relays it to the peer that owns the
// transaction.
func (s *Server) WebhookHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	credential := r.Header.Get(s.config.AuthHeader)
	if !s.services.WebhookAuth.Authenticate(credential) {
		s.log.Warn("Rejected webhook with a bad credential",
			"remote", r.RemoteAddr,
			"fingerprint", helpers.TinyHash(credential),
		)
		metrics.WebhookRequests.WithLabelValues(outcomeUnauthorized).Inc()

		return nil, errors.New(errors.CodeUnauthorized, "invalid credential", nil)
	}

	body, err := s.readBody(w, r)
	if err != nil {
		metrics.WebhookRequests.WithLabelValues(outcomeBadRequest).Inc()
		return nil, err
	}

	var event types.WebhookEvent
	if err := s.decode(body, &event); err != nil {
		metrics.WebhookRequests.WithLabelValues(outcomeBadRequest).Inc()
		return nil, err
	}

	log := s.log.With("entry_id", event.ExternalEntryID)

	route, err := s.services.Router.Route(r.Context(), event.ExternalEntryID)
	if err != nil {
		metrics.WebhookRequests.WithLabelValues(outcomeError).Inc()
		return nil, fmt.Errorf("route webhook: %w", err)
	}

	switch route := route.(type) {
	case webhook.LocalRoute:
		outcome, err := s.services.Reconciler.Reconcile(r.Context(), event)
		if stderrors.Is(err, repository.ErrNotFound) {
			metrics.WebhookRequests.WithLabelValues(outcomeNotFound).Inc()
			return nil, errors.New(errors.CodeNotFound, "transaction not found", err)
		}
		if err != nil {
			metrics.WebhookRequests.WithLabelValues(outcomeError).Inc()
			return nil, err
		}

		metrics.WebhookRequests.WithLabelValues(string(outcome)).Inc()

		return string(outcome), nil

	case webhook.RemoteRoute:
		result, err := s.services.Forwarder.Forward(r.Context(), route.Peer,
			body, credential)
		if err != nil {
			log.Error("couldn't forward webhook", "peer", route.Peer.Name,
				"error", err)
			metrics.WebhookRequests.WithLabelValues(outcomeForwardError).Inc()

			return nil, errors.New(errors.CodeForwardingFailed,
				"peer did not accept the webhook", err)
		}

		metrics.WebhookRequests.WithLabelValues(outcomeForwarded).Inc()

		return &RawResponse{
			StatusCode:  result.StatusCode,
			ContentType: result.ContentType,
			Body:        result.Body,
		}, nil

	default:
		log.Warn("Webhook for an unknown transaction")
		metrics.WebhookRequests.WithLabelValues(outcomeNotFound).Inc()

		return nil, errors.New(errors.CodeNotFound, "transaction not found", nil)
	}
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		return nil, errors.New(errors.CodeBadRequest, "unreadable body", err)
	}

	return body, nil
}

func (s *Server) decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New(errors.CodeBadRequest, "malformed JSON", err)
	}

	if err := s.validate.Struct(v); err != nil {
		return errors.New(errors.CodeBadRequest, err.Error(), err)
	}

	return nil
}
