// Package api provides HTTP handlers and the main API server logic for IntakeFlow.
//
// It exposes RESTful endpoints for the conversational lead intake flow: chat
// message processing, web phone submission, WhatsApp authorization, the
// inbound WhatsApp webhook, session introspection, and service status. The
// API integrates with the flow, messaging, store, genai, and notify modules.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexbr/intakeflow/internal/flow"
	"github.com/lexbr/intakeflow/internal/genai"
	"github.com/lexbr/intakeflow/internal/messaging"
	"github.com/lexbr/intakeflow/internal/notify"
	"github.com/lexbr/intakeflow/internal/scheduler"
	"github.com/lexbr/intakeflow/internal/store"
	"github.com/lexbr/intakeflow/internal/twiliowhatsapp"
	"github.com/lexbr/intakeflow/internal/whatsapp"
)

// Default configuration constants.
const (
	// DefaultAddr is the address the API server listens on when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful HTTP server shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultSessionRetention is how long idle sessions are kept before the
	// cleanup job purges them.
	DefaultSessionRetention = 30 * 24 * time.Hour
	// DefaultCleanupCron schedules the nightly stale-session purge.
	DefaultCleanupCron = "0 3 * * *"

	// AIBackendGemini selects the Gemini generative backend (default).
	AIBackendGemini = "gemini"
	// AIBackendOpenAI selects the OpenAI generative backend.
	AIBackendOpenAI = "openai"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr             string
	AIBackend        string
	TwilioTransport  bool
	SessionRetention time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAIBackend selects the generative backend ("gemini" or "openai").
func WithAIBackend(backend string) Option {
	return func(o *Opts) { o.AIBackend = backend }
}

// WithTwilioTransport switches the messaging transport from whatsmeow to
// Twilio's WhatsApp API.
func WithTwilioTransport() Option {
	return func(o *Opts) { o.TwilioTransport = true }
}

// WithSessionRetention sets how long idle sessions are kept before the
// cleanup job purges them. A negative value disables the job.
func WithSessionRetention(d time.Duration) Option {
	return func(o *Opts) { o.SessionRetention = d }
}

// Server bundles the HTTP handlers with the collaborators they depend on.
type Server struct {
	orchestrator *flow.Orchestrator
	msgService   messaging.Service
	addr         string
}

// NewServer creates an API server over the given conversation orchestrator
// and messaging service.
func NewServer(orchestrator *flow.Orchestrator, msgService messaging.Service, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		orchestrator: orchestrator,
		msgService:   msgService,
		addr:         cfg.Addr,
	}
}

// Handler returns the routed HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/message", s.chatMessageHandler)
	mux.HandleFunc("/chat/phone", s.phoneSubmissionHandler)
	mux.HandleFunc("/whatsapp/authorize", s.whatsappAuthorizeHandler)
	mux.HandleFunc("/whatsapp/webhook", s.whatsappWebhookHandler)
	mux.HandleFunc("/whatsapp/send", s.whatsappSendHandler)
	mux.HandleFunc("/sessions/", s.sessionHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/health", s.healthHandler)

	// Twilio posts inbound messages as form-encoded webhooks; mount its
	// handler alongside the JSON bridge webhook when that transport is active.
	if ts, ok := s.msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("/twilio/webhook", ts.WebhookHandler)
	}
	return mux
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown failed: %w", err)
		}
		slog.Info("API server shut down")
		return nil
	}
}

// Run wires up the full service from module options and blocks until the
// process receives an interrupt or termination signal.
func Run(waOpts []whatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, notifyOpts []notify.Option, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}()

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	retention := cfg.SessionRetention
	if retention == 0 {
		retention = DefaultSessionRetention
	}
	if retention > 0 {
		if err := sched.AddJob(DefaultCleanupCron, func() {
			removed, err := st.DeleteSessionsBefore(time.Now().Add(-retention))
			if err != nil {
				slog.Error("Stale session cleanup failed", "error", err)
				return
			}
			if removed > 0 {
				slog.Info("Purged stale sessions", "removed", removed, "retention", retention)
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule session cleanup: %w", err)
		}
	}

	msgService, err := buildMessagingService(cfg, waOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging service: %w", err)
	}
	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer func() {
		if err := msgService.Stop(); err != nil {
			slog.Error("Failed to stop messaging service", "error", err)
		}
	}()

	aiClient := buildAIClient(ctx, cfg, genaiOpts)
	if aiClient != nil {
		defer func() {
			if err := aiClient.Close(); err != nil {
				slog.Error("Failed to close AI client", "error", err)
			}
		}()
	}

	notifier := notify.NewService(msgService, notifyOpts...)

	flowOpts := []flow.Option{
		flow.WithMessenger(msgService),
		flow.WithLawyerNotifier(notifier),
	}
	if aiClient != nil {
		flowOpts = append(flowOpts, flow.WithAIClient(aiClient))
	}
	orchestrator := flow.NewOrchestrator(st, flowOpts...)

	responder := messaging.NewResponder(msgService, orchestrator)
	responder.Start(ctx)

	server := NewServer(orchestrator, msgService, apiOpts...)
	return server.Serve(ctx)
}

// buildStore selects a store backend from the configured DSN. No DSN means
// an in-memory store.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("No database DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(storeOpts...)
	}
	slog.Info("Using SQLite store", "path", cfg.DSN)
	return store.NewSQLiteStore(storeOpts...)
}

// buildMessagingService constructs the configured messaging transport.
func buildMessagingService(cfg Opts, waOpts []whatsapp.Option) (messaging.Service, error) {
	if cfg.TwilioTransport {
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		slog.Info("Using Twilio WhatsApp transport")
		return messaging.NewTwilioService(client), nil
	}
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, err
	}
	slog.Info("Using whatsmeow WhatsApp transport")
	return messaging.NewWhatsAppService(client), nil
}

// buildAIClient constructs the generative backend, or returns nil when none
// is configured. AI is optional: the flow degrades to canned fallbacks
// without it, so construction failures are logged rather than fatal.
func buildAIClient(ctx context.Context, cfg Opts, genaiOpts []genai.Option) genai.ClientInterface {
	if len(genaiOpts) == 0 {
		slog.Info("No AI backend configured, conversational AI disabled")
		return nil
	}
	if cfg.AIBackend == AIBackendOpenAI {
		client, err := genai.NewOpenAIClient(genaiOpts...)
		if err != nil {
			slog.Warn("Failed to initialize OpenAI client, continuing without AI", "error", err)
			return nil
		}
		slog.Info("Using OpenAI generative backend")
		return client
	}
	client, err := genai.NewGeminiClient(ctx, genaiOpts...)
	if err != nil {
		slog.Warn("Failed to initialize Gemini client, continuing without AI", "error", err)
		return nil
	}
	slog.Info("Using Gemini generative backend")
	return client
}
