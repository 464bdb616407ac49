// ABOUTME: Gateway orchestrator that wires the conversation pipeline to HTTP, Matrix and WebSocket
// ABOUTME: Manages the event bus, maintenance sweeps, archive store and server lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
	"tailscale.com/tsnet"

	"github.com/2389/reclama-gateway/internal/auth"
	"github.com/2389/reclama-gateway/internal/collab"
	"github.com/2389/reclama-gateway/internal/config"
	"github.com/2389/reclama-gateway/internal/conversation"
	"github.com/2389/reclama-gateway/internal/dedupe"
	"github.com/2389/reclama-gateway/internal/events"
	"github.com/2389/reclama-gateway/internal/maintenance"
	"github.com/2389/reclama-gateway/internal/observer"
	"github.com/2389/reclama-gateway/internal/processor"
	"github.com/2389/reclama-gateway/internal/retry"
	"github.com/2389/reclama-gateway/internal/store"
	"github.com/2389/reclama-gateway/internal/webhook"
)

// Gateway owns every long-lived component of reclama-gateway.
type Gateway struct {
	config      *config.Config
	archive     store.Archive
	broadcaster *events.Broadcaster
	bus         *events.Bus
	service     *conversation.Service
	processor   *processor.Processor
	dedupe      *dedupe.Cache
	ingestor    *webhook.Ingestor
	scheduler   *maintenance.Scheduler
	hub         *observer.Hub
	verifier    *auth.JWTVerifier
	matrix      *webhook.MatrixSource
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logins      *rate.Limiter
	logger      *slog.Logger
}

// Option overrides a collaborator built from configuration.
type Option func(*deps)

type deps struct {
	channel   collab.Channel
	speech    collab.Speech
	assistant collab.Assistant
	drafter   collab.Drafter
	mailer    collab.Mailer
	archive   store.Archive
	matrix    *mautrix.Client
}

// WithChannel replaces the configured messaging channel.
func WithChannel(c collab.Channel) Option { return func(d *deps) { d.channel = c } }

// WithSpeech replaces the speech client.
func WithSpeech(s collab.Speech) Option { return func(d *deps) { d.speech = s } }

// WithAssistant replaces the assistant client.
func WithAssistant(a collab.Assistant) Option { return func(d *deps) { d.assistant = a } }

// WithDrafter replaces the drafting client.
func WithDrafter(dr collab.Drafter) Option { return func(d *deps) { d.drafter = dr } }

// WithMailer replaces the mailer.
func WithMailer(m collab.Mailer) Option { return func(d *deps) { d.mailer = m } }

// WithArchive replaces the archive store.
func WithArchive(a store.Archive) Option { return func(d *deps) { d.archive = a } }

// New builds a Gateway from cfg. Nothing runs until Run is called.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var d deps
	for _, opt := range opts {
		opt(&d)
	}
	if err := buildCollaborators(cfg, &d, logger); err != nil {
		return nil, err
	}
	if d.archive == nil {
		archive, err := initStore(cfg)
		if err != nil {
			return nil, err
		}
		d.archive = archive
	}

	broadcaster := events.NewBroadcaster(logger)
	bus := events.NewBus(cfg.Events.QueueSize, broadcaster, logger)
	service := conversation.NewService(conversation.NewRegistry(nil), bus, d.archive, logger)

	proc := processor.New(processor.Deps{
		Service:   service,
		Channel:   d.channel,
		Speech:    d.speech,
		Assistant: d.assistant,
		Drafter:   d.drafter,
		Mailer:    d.mailer,
		Logger:    logger,
	}, processor.Config{
		VoiceTrigger:     cfg.Processor.VoiceTrigger,
		TTSCooldown:      cfg.Conversations.TTSCooldown,
		DocumentTriggers: cfg.Processor.DocumentTriggers,
		MaxAttempts:      cfg.Retry.MaxAttempts,
		Messages:         cfg.Processor.Messages,
	})

	seen := dedupe.New(cfg.Conversations.DedupeTTL, cfg.Conversations.DedupeMaxSize)
	coord := retry.New(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, logger)
	ingestor := webhook.NewIngestor(webhook.IngestorConfig{Objects: cfg.Webhook.Objects},
		service, proc, coord, seen, logger)

	scheduler := maintenance.New(maintenance.Config{
		InactivityTimeout:    cfg.Conversations.InactivityTimeout,
		SweepInterval:        cfg.Conversations.SweepInterval,
		HeartbeatInterval:    cfg.Conversations.HeartbeatInterval,
		MaxReconnectAttempts: cfg.Conversations.MaxReconnectAttempts,
	}, service, proc, logger, maintenance.WithForgetter(seen))

	gw := &Gateway{
		config:      cfg,
		archive:     d.archive,
		broadcaster: broadcaster,
		bus:         bus,
		service:     service,
		processor:   proc,
		dedupe:      seen,
		ingestor:    ingestor,
		scheduler:   scheduler,
		logins:      rate.NewLimiter(rate.Every(time.Second), 5),
		logger:      logger.With("component", "gateway"),
	}

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating token verifier: %w", err)
		}
		gw.verifier = verifier
	} else {
		gw.logger.Warn("auth.jwt_secret not set, observer API is unauthenticated")
	}

	gw.hub = observer.NewHub(broadcaster, service, observer.Config{
		PingInterval:   cfg.Observer.PingInterval,
		MaxMissedPongs: cfg.Observer.MaxMissedPongs,
		AllowedOrigins: cfg.Observer.AllowedOrigins,
	}, logger)

	if d.matrix != nil {
		gw.matrix = webhook.NewMatrixSource(d.matrix, ingestor,
			webhook.MatrixConfig{AllowedRooms: cfg.Channel.Matrix.AllowedRooms}, logger)
	}

	mux := http.NewServeMux()
	gw.registerRoutes(mux)
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// buildCollaborators fills every collaborator not supplied by an Option.
func buildCollaborators(cfg *config.Config, d *deps, logger *slog.Logger) error {
	if d.channel == nil {
		switch cfg.Channel.Provider {
		case config.ProviderMatrix:
			m := cfg.Channel.Matrix
			client, err := mautrix.NewClient(m.Homeserver, id.UserID(m.UserID), m.AccessToken)
			if err != nil {
				return fmt.Errorf("creating matrix client: %w", err)
			}
			d.matrix = client
			d.channel = collab.NewMatrix(client, m.Timeout, logger)
		default:
			wa := cfg.Channel.WhatsApp
			d.channel = collab.NewWhatsApp(collab.WhatsAppConfig{
				Endpoint:       collab.Endpoint{BaseURL: wa.BaseURL, APIKey: wa.AccessToken, Timeout: wa.Timeout},
				PhoneNumberID:  wa.PhoneNumberID,
				SendsPerSecond: wa.SendsPerSecond,
			}, nil)
		}
	}
	if d.speech == nil {
		d.speech = collab.NewSpeechClient(endpoint(cfg.Speech), nil)
	}
	if d.assistant == nil {
		d.assistant = collab.NewAssistantClient(endpoint(cfg.Assistant), nil)
	}
	if d.drafter == nil {
		d.drafter = collab.NewDraftingClient(endpoint(cfg.Drafting), nil)
	}
	if d.mailer == nil && cfg.SMTP.Host != "" {
		d.mailer = collab.NewSMTPMailer(collab.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Security: cfg.SMTP.Security,
		})
	}
	return nil
}

func endpoint(ep config.EndpointConfig) collab.Endpoint {
	return collab.Endpoint{BaseURL: ep.BaseURL, APIKey: ep.APIKey, Timeout: ep.Timeout}
}

// initStore opens the SQLite archive, or an in-memory one when no path is set.
func initStore(cfg *config.Config) (store.Archive, error) {
	if cfg.Database.Path == "" {
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	return s, nil
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler { return g.httpServer.Handler }

// Service returns the conversation service.
func (g *Gateway) Service() *conversation.Service { return g.service }

// Run starts the background components and the HTTP server, then blocks
// until ctx is canceled or a component fails. It always shuts down before
// returning; a clean cancellation returns nil.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	if err := g.scheduler.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("starting scheduler: %w", err)
	}

	busCtx, stopBus := context.WithCancel(context.WithoutCancel(ctx))
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		g.bus.Run(busCtx)
	}()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if g.matrix != nil {
		group.Go(func() error {
			if err := g.matrix.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("matrix sync: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	err := group.Wait()

	// The bus drains after producers have stopped so closure events reach observers.
	stopBus()
	<-busDone
	g.broadcaster.Close()

	return err
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, disconnects observers, stops the
// sweeps and closes the archive.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	g.hub.Close()
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "scheduler stop", g.scheduler.Stop(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "archive close", g.archive.Close())
	g.dedupe.Close()

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the event bus is draining.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.bus.Running() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("event bus not running"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d conversations)", g.service.Registry().Count())
}
