// Package server exposes the kiosk daemon's loopback HTTP API. The kiosk
// UI is the only client; the listener must never bind a routable address.
package server

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Zrodkin/CharityPad123-sub001/payment"
	"github.com/Zrodkin/CharityPad123-sub001/session"
)

// SessionService is the slice of the session manager the API needs.
type SessionService interface {
	State() session.State
	IsAuthenticated() bool
	Tokens() *session.TokenSet
	LastError() error
	StartOAuthFlow(ctx context.Context) (string, error)
	HandleCallback(ctx context.Context, params url.Values) error
	CheckAuthentication(ctx context.Context) error
	Logout(ctx context.Context) error
}

// PaymentService runs one payment to a terminal outcome.
type PaymentService interface {
	ProcessPayment(ctx context.Context, req payment.Request) (*payment.Outcome, error)
}

// ReaderStatus reports SDK-side readiness for the status endpoint.
type ReaderStatus interface {
	Available() bool
	Authorized() bool
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func New(addr string, sessions SessionService, payments PaymentService, reader ReaderStatus, options ...Option) (*Server, error) {
	if sessions == nil {
		return nil, errors.New("[server.New] sessions is nil")
	}
	if payments == nil {
		return nil, errors.New("[server.New] payments is nil")
	}
	if reader == nil {
		return nil, errors.New("[server.New] reader is nil")
	}

	s := &Server{
		logger: zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}

	h := &handler{
		sessions: sessions,
		payments: payments,
		reader:   reader,
		logger:   s.logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Get("/status", h.status)
	r.Post("/oauth/start", h.oauthStart)
	r.Get("/oauth/callback", h.oauthCallback)
	r.Post("/payment", h.processPayment)
	r.Post("/logout", h.logout)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("kiosk api listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "[Server.ListenAndServe]")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
