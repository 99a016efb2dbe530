// Package api provides the HTTP surface and main server logic for medirelay.
//
// It exposes the schedule ingestion and patient lookup endpoints used by the
// web front end, the LINE webhook receiver that drives patient registration,
// and owns the lifecycle of the notification dispatcher.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/line/line-bot-sdk-go/v7/linebot"
	"github.com/rs/cors"

	"github.com/anontaiwan/medirelay/internal/dispatcher"
	"github.com/anontaiwan/medirelay/internal/messaging"
	"github.com/anontaiwan/medirelay/internal/scheduler"
	"github.com/anontaiwan/medirelay/internal/store"
)

// Default server configuration constants
const (
	// DefaultAddr is the default API listen address.
	DefaultAddr = ":5487"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// dispatchCron fires the reminder scan once per minute.
	dispatchCron = "* * * * *"
)

// MessagingBackend selects the outbound push transport.
type MessagingBackend string

const (
	// BackendLine delivers reminders through the LINE Messaging API.
	BackendLine MessagingBackend = "line"
	// BackendTwilio delivers reminders as SMS/MMS through Twilio.
	BackendTwilio MessagingBackend = "twilio"
)

// Opts holds API server configuration.
type Opts struct {
	Addr               string
	DSN                string
	CORSAllowedOrigins []string
	DefaultImageURL    string
	ChannelSecret      string
	ChannelToken       string
	Backend            MessagingBackend
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFromNumber   string
	DispatchOnStart    bool
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithDSN sets the database DSN; backend type is detected from its shape.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithCORSAllowedOrigins sets the front-end origins allowed to call /api/*.
func WithCORSAllowedOrigins(origins []string) Option {
	return func(o *Opts) { o.CORSAllowedOrigins = origins }
}

// WithDefaultImageURL sets the placeholder image URL that suppresses image pushes.
func WithDefaultImageURL(url string) Option {
	return func(o *Opts) { o.DefaultImageURL = url }
}

// WithLineCredentials sets the LINE channel secret and access token.
func WithLineCredentials(secret, token string) Option {
	return func(o *Opts) {
		o.ChannelSecret = secret
		o.ChannelToken = token
	}
}

// WithTwilioCredentials sets the Twilio credentials for the SMS backend.
func WithTwilioCredentials(accountSID, authToken, fromNumber string) Option {
	return func(o *Opts) {
		o.TwilioAccountSID = accountSID
		o.TwilioAuthToken = authToken
		o.TwilioFromNumber = fromNumber
	}
}

// WithMessagingBackend selects the push transport.
func WithMessagingBackend(backend MessagingBackend) Option {
	return func(o *Opts) { o.Backend = backend }
}

// WithDispatchOnStart controls whether a reminder scan runs immediately at
// startup in addition to the minute cadence.
func WithDispatchOnStart(enabled bool) Option {
	return func(o *Opts) { o.DispatchOnStart = enabled }
}

// Server wires the store, messaging transport, dispatcher, and HTTP handlers.
type Server struct {
	st         store.Store
	bot        *linebot.Client
	dispatcher *dispatcher.Dispatcher
	sched      *scheduler.Scheduler
	opts       Opts
}

// NewServer assembles a Server from its collaborators. The messaging service
// is owned by the dispatcher, not the server. Run builds everything from
// options; tests construct servers directly with in-memory fakes.
func NewServer(st store.Store, bot *linebot.Client, disp *dispatcher.Dispatcher, opts Opts) *Server {
	return &Server{
		st:         st,
		bot:        bot,
		dispatcher: disp,
		opts:       opts,
	}
}

// Run builds all modules from the provided options and serves until SIGINT or
// SIGTERM. Stores are initialized before the dispatcher starts; everything is
// torn down on shutdown.
func Run(opts ...Option) error {
	cfg := Opts{
		Addr:            DefaultAddr,
		DefaultImageURL: dispatcher.DefaultPlaceholderImageURL,
		Backend:         BackendLine,
		DispatchOnStart: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	var bot *linebot.Client
	if cfg.ChannelSecret != "" && cfg.ChannelToken != "" {
		bot, err = linebot.New(cfg.ChannelSecret, cfg.ChannelToken)
		if err != nil {
			return fmt.Errorf("failed to create LINE client: %w", err)
		}
	}

	msgService, err := newMessagingService(cfg, bot)
	if err != nil {
		return err
	}

	disp := dispatcher.New(st, msgService, dispatcher.WithDefaultImageURL(cfg.DefaultImageURL))
	server := NewServer(st, bot, disp, cfg)
	return server.Run()
}

// newStore selects a storage backend from the DSN. No DSN means the process
// runs on the in-memory store and loses state on restart.
func newStore(cfg Opts) (store.Store, error) {
	if cfg.DSN == "" {
		slog.Warn("No database DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(cfg.DSN))
	}
	slog.Info("Using SQLite store", "db_path", cfg.DSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(cfg.DSN))
}

// newMessagingService builds the configured push transport.
func newMessagingService(cfg Opts, bot *linebot.Client) (messaging.Service, error) {
	switch cfg.Backend {
	case BackendTwilio:
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
			return nil, errors.New("twilio backend requires account SID, auth token, and from number")
		}
		slog.Info("Using Twilio messaging backend")
		return messaging.NewTwilioService(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber), nil
	case BackendLine, "":
		if bot == nil {
			return nil, errors.New("LINE messaging backend requires channel secret and access token")
		}
		slog.Info("Using LINE messaging backend")
		return messaging.NewLineService(bot), nil
	default:
		return nil, fmt.Errorf("unknown messaging backend %q", cfg.Backend)
	}
}

// routes builds the HTTP mux with CORS applied to the whole surface.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/search-patient", s.searchPatientHandler)
	mux.HandleFunc("/api/web-to-bot", s.webToBotHandler)
	mux.HandleFunc("/callback", s.callbackHandler)
	mux.HandleFunc("/health", s.healthHandler)

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(mux)
}

// Run starts the dispatcher schedule and serves HTTP until a shutdown signal.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.sched = scheduler.NewScheduler()
	defer s.sched.Stop()

	if err := s.sched.AddJob(dispatchCron, func() {
		s.dispatcher.Tick(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule dispatcher: %w", err)
	}
	if s.opts.DispatchOnStart {
		slog.Info("Running initial reminder scan")
		s.dispatcher.Tick(ctx)
	}

	httpServer := &http.Server{
		Addr:    s.opts.Addr,
		Handler: s.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("medirelay API listening", "addr", s.opts.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
		return err
	}
	return nil
}
