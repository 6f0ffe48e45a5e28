package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"liftbook/internal/config"
	"liftbook/internal/export"
	"liftbook/internal/metrics"
	"liftbook/internal/models"
	"liftbook/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// OutboxReader exposes the dead outbox tasks to operators.
type OutboxReader interface {
	GetFailedOutboxTasks(ctx context.Context) ([]models.OutboxTask, error)
}

// Dependencies are the collaborators the HTTP API calls into.
type Dependencies struct {
	Bookings *service.BookingService
	Users    *service.UserService
	Tokens   *TokenService
	Exporter *export.AuditExporter
	Outbox   OutboxReader
}

// HTTPServer exposes the booking service over JSON/HTTP.
type HTTPServer struct {
	cfg      config.APIConfig
	bookings *service.BookingService
	users    *service.UserService
	tokens   *TokenService
	exporter *export.AuditExporter
	outbox   OutboxReader
	auth     *HTTPAuth
	server   *http.Server
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Dependencies, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http_api").Logger()

	srv := &HTTPServer{
		cfg:      cfg,
		bookings: deps.Bookings,
		users:    deps.Users,
		tokens:   deps.Tokens,
		exporter: deps.Exporter,
		outbox:   deps.Outbox,
		auth:     NewHTTPAuth(cfg),
		logger:   &l,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	srv.route(mux, "POST /api/v1/quotes", PermReadBookings, srv.handleQuote)
	srv.route(mux, "POST /api/v1/bookings", PermWriteBookings, srv.handleCreateBooking)
	srv.route(mux, "GET /api/v1/bookings/{id}", PermReadBookings, srv.handleGetBooking)
	srv.route(mux, "GET /api/v1/customers/{id}/bookings", PermReadBookings, srv.handleCustomerBookings)
	srv.route(mux, "POST /api/v1/bookings/{id}/transitions", PermWriteBookings, srv.handleTransition)
	srv.route(mux, "GET /api/v1/bookings/{id}/transitions", PermReadBookings, srv.handleAllowedTransitions)
	srv.route(mux, "POST /api/v1/bookings/{id}/assign", PermWriteBookings, srv.handleAssign)
	srv.route(mux, "POST /api/v1/bookings/{id}/complete", PermWriteBookings, srv.handleComplete)
	srv.route(mux, "GET /api/v1/bookings/{id}/history", PermReadBookings, srv.handleHistory)
	srv.route(mux, "GET /api/v1/bookings/{id}/payments", PermReadBookings, srv.handlePayments)
	srv.route(mux, "POST /api/v1/bookings/{id}/deposit", PermWritePayments, srv.handlePayDeposit)
	srv.route(mux, "POST /api/v1/payments/{id}/refund", PermWritePayments, srv.handleRefund)
	srv.route(mux, "GET /api/v1/vehicles", PermReadFleet, srv.handleVehicles)
	srv.route(mux, "GET /api/v1/drivers", PermReadFleet, srv.handleDrivers)
	srv.route(mux, "GET /api/v1/reports/audit", PermReadReports, srv.handleAuditReport)
	srv.route(mux, "GET /api/v1/admin/outbox/failed", PermAdminOutbox, srv.handleFailedOutbox)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.requestID(srv.loggingMiddleware(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// route registers an authenticated endpoint counted under its pattern.
func (s *HTTPServer) route(mux *http.ServeMux, pattern, permission string, h actorHandler) {
	counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		s.withActor(h)(w, r)
	})
	mux.Handle(pattern, s.auth.Require(permission, counted))
}

// Handler returns the fully wrapped router.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// requestID tags each request with an id and a logger carrying it.
func (s *HTTPServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		l := s.logger.With().Str("request_id", id).Logger()
		next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		evt := requestLogger(r).Info()
		if recorder.status >= http.StatusInternalServerError {
			evt = requestLogger(r).Error()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func requestLogger(r *http.Request) *zerolog.Logger {
	return zerolog.Ctx(r.Context())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
