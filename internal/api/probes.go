package api

import (
	"net/http"
	"strconv"

	"github.com/openbuilders/pix-bridge/internal/errors"
)

// HealthHandler reports the latest checks without failing the probe.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	return s.services.Health.GetHealthStatus(), nil
}

// ReadinessHandler fails while Redis or Postgres is unreachable.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	status := s.services.Health.GetHealthStatus()
	if !status.Healthy {
		return nil, errors.New(errors.CodeUnavailable, "dependencies are down", nil)
	}

	return "ready", nil
}

// DeadJobsHandler lists the most recent jobs that exhausted their attempts.
func (s *Server) DeadJobsHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	limit := int64(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, errors.New(errors.CodeBadRequest, "invalid limit", err)
		}
		limit = parsed
	}

	return s.services.DeadLetters.DeadJobs(r.Context(), limit)
}
