package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/openbuilders/pix-bridge/internal/health"
	"github.com/openbuilders/pix-bridge/internal/reconcile"
	"github.com/openbuilders/pix-bridge/internal/types"
	"github.com/openbuilders/pix-bridge/internal/webhook"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIHandler is a custom handler type that returns data or an error
type APIHandler func(w http.ResponseWriter, r *http.Request) (interface{}, error)

type Authenticator interface {
	Authenticate(credential string) bool
}

type Router interface {
	Route(ctx context.Context, entryID string) (webhook.Route, error)
}

type Forwarder interface {
	Forward(ctx context.Context, peer webhook.Peer, body []byte,
		credential string) (*webhook.ForwardResult, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, event types.WebhookEvent) (reconcile.Outcome, error)
}

type TransactionStore interface {
	Create(ctx context.Context, tx *types.Transaction) error
}

type JobScheduler interface {
	Ensure(ctx context.Context, kind types.JobKind, entryID string,
		payload types.JobPayload, delay time.Duration) (bool, error)
}

type HealthChecker interface {
	GetHealthStatus() health.HealthStatus
}

type DeadLetters interface {
	DeadJobs(ctx context.Context, limit int64) ([]types.FailedJob, error)
}

type Config struct {
	ListenAddr      string
	ListenPort      int
	MetricsPort     int
	ProbesPort      int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	WebhookPath     string
	AuthHeader      string
	ReminderDelay   time.Duration
	ExpirationDelay time.Duration
	ID              string
}

// Services are the collaborators the handlers delegate to.
type Services struct {
	WebhookAuth Authenticator
	IntakeAuth  Authenticator
	Router      Router
	Forwarder   Forwarder
	Reconciler  Reconciler
	Store       TransactionStore
	Scheduler   JobScheduler
	Health      HealthChecker
	DeadLetters DeadLetters
}

type Server struct {
	config     *Config
	services   *Services
	validate   *validator.Validate
	httpServer *http.Server
	log        *slog.Logger
}

func NewServer(config *Config, services *Services) *Server {
	return &Server{
		config:   config,
		services: services,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      slog.With("pod", config.ID, "component", "web-server"),
		httpServer: &http.Server{
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// Routes is the public mux: the payment webhook and the transaction intake.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(s.config.WebhookPath, WithMethod(
		WithJSONResponse(s.WebhookHandler),
		http.MethodPost,
	))

	mux.HandleFunc("/transactions", WithMethod(
		WithJSONResponse(s.TransactionHandler),
		http.MethodPost,
	))

	return http.TimeoutHandler(mux, s.config.WriteTimeout, "Timeout")
}

func (s *Server) ProbeRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", WithMethod(
		WithJSONResponse(s.HealthHandler),
		http.MethodGet,
	))

	mux.Handle("/ready", WithMethod(
		WithJSONResponse(s.ReadinessHandler),
		http.MethodGet,
	))

	mux.Handle("/jobs/dead", WithMethod(
		WithJSONResponse(s.DeadJobsHandler),
		http.MethodGet,
	))

	return mux
}

// Start serves the public, probes and metrics listeners until ctx is
// cancelled and shuts them down gracefully.
func (s *Server) Start(ctx context.Context) error {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	servers := []struct {
		name   string
		port   int
		server *http.Server
	}{
		{"public", s.config.ListenPort, s.httpServer},
		{"probes", s.config.ProbesPort, &http.Server{Handler: s.ProbeRoutes()}},
		{"metrics", s.config.MetricsPort, &http.Server{Handler: metricsMux}},
	}
	s.httpServer.Handler = s.Routes()

	errs := make(chan error, len(servers))

	for _, srv := range servers {
		srv := srv
		go func() {
			errs <- s.run(ctx, srv.name, srv.port, srv.server)
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errs:
	}

	s.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		s.config.ShutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.server.Shutdown(shutdownCtx); err != nil {
			s.log.Error("Server forced to shutdown", "server", srv.name,
				"error", err)
		}
	}

	s.log.Info("Server exiting")

	return err
}

func (s *Server) run(ctx context.Context, name string, port int,
	server *http.Server) error {

	s.log.Info("Starting server", "server", name, "port", port)

	// Use ListenConfig to create a listener with context support
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp",
		fmt.Sprintf("%s:%d", s.config.ListenAddr, port))
	if err != nil {
		return fmt.Errorf("%s listener: %w", name, err)
	}

	if err := server.Serve(listener); err != nil &&
		!errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}

	return nil
}
