package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/validata/consultd/internal/adapter/discord"
	"github.com/validata/consultd/internal/adapter/email"
	cdhttp "github.com/validata/consultd/internal/adapter/http"
	cdnats "github.com/validata/consultd/internal/adapter/nats"
	"github.com/validata/consultd/internal/adapter/natskv"
	cdotel "github.com/validata/consultd/internal/adapter/otel"
	"github.com/validata/consultd/internal/adapter/postgres"
	"github.com/validata/consultd/internal/adapter/ristretto"
	"github.com/validata/consultd/internal/adapter/slack"
	"github.com/validata/consultd/internal/adapter/tiered"
	"github.com/validata/consultd/internal/adapter/ws"
	"github.com/validata/consultd/internal/config"
	"github.com/validata/consultd/internal/logger"
	"github.com/validata/consultd/internal/middleware"
	"github.com/validata/consultd/internal/port/notifier"
	"github.com/validata/consultd/internal/resilience"
	"github.com/validata/consultd/internal/roster"
	"github.com/validata/consultd/internal/service"
)

const decisionBucket = "CONSULT_DECISIONS"

func main() {
	fallback := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(fallback)

	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			slog.Error("admin command failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"default_timeout", cfg.Consultation.DefaultTimeout,
		"critical_timeout", cfg.Consultation.CriticalTimeout,
	)

	ctx := context.Background()

	// --- Telemetry ---

	shutdownOtel, err := cdotel.Init(ctx, cfg.Otel, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := cdotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	// Run migrations
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS
	natsCh, err := cdnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = natsCh.Close() }()

	// Decision cache: in-process ristretto in front of a shared NATS KV
	// bucket, so cached outcomes survive restarts and are visible to
	// every node.
	l1, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("ristretto: %w", err)
	}
	defer l1.Close()

	kv, err := natsCh.KeyValue(ctx, decisionBucket)
	if err != nil {
		return fmt.Errorf("decision bucket: %w", err)
	}
	decisionCache := tiered.New(l1, natskv.New(kv), cfg.Cache.DecisionTTL)

	// --- Services ---

	hub := ws.NewHub()
	auditStore := postgres.NewAuditStore(pool)
	archive := postgres.NewSessionArchive(pool)

	manager := service.NewManager(cfg.Consultation, natsCh, auditStore,
		service.WithArchiver(archive),
		service.WithDecisionCache(decisionCache),
		service.WithBroadcaster(hub),
		service.WithMetrics(metrics),
	)

	notifications := service.NewNotificationService(
		buildNotifiers(cfg.Notifiers),
		cfg.Notifiers.MaxConcurrent,
		func() *resilience.Breaker {
			return resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		},
	)

	// Escalation contacts: a roster file wins over the static config
	// map. SIGHUP re-reads it so on-call rotations apply live.
	contactLoader := roster.StaticLoader(cfg.Notifiers.Contacts)
	if path := os.Getenv("CONSULTD_CONTACTS_FILE"); path != "" {
		contactLoader = roster.FileLoader(path)
	}
	contacts, err := roster.New(contactLoader)
	if err != nil {
		return fmt.Errorf("contact roster: %w", err)
	}
	go reloadOnSIGHUP(contacts)

	// Responses posted to another node arrive over the response subject.
	stopSubscriber, err := natsCh.StartResponseSubscriber(ctx)
	if err != nil {
		return fmt.Errorf("response subscriber: %w", err)
	}
	defer stopSubscriber()

	// Background sweep for sessions that were never finalized.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go cleanupLoop(sweepCtx, manager, cfg.Consultation.CleanupInterval)

	// --- HTTP ---

	handlers := cdhttp.NewHandlers(
		manager,
		notifications,
		natsCh,
		natsCh,
		auditStore,
		archive,
		cfg.Consultation,
		func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if err := natsCh.Healthy(); err != nil {
				return err
			}
			return nil
		},
	)
	handlers.SetContactLookup(contacts.Contacts)

	limiter := middleware.NewRateLimiter(cfg.Server.RateRPS, cfg.Server.RateBurst)
	stopLimiterCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopLimiterCleanup()

	r := chi.NewRouter()

	// Middleware
	r.Use(cdhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cdhttp.SecurityHeaders)
	r.Use(cdhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(2 * time.Hour)) // requests block for the consultation window
	r.Use(limiter.Handler)
	r.Use(middleware.APIKeyAuth(cfg.Auth.Enabled, cfg.Auth.KeyHashes))
	if cfg.Otel.Enabled {
		r.Use(cdotel.HTTPMiddleware(cfg.Logging.Service))
	}

	// WebSocket endpoint for reviewer frontends
	r.Get("/ws", hub.HandleWS)

	// API routes
	cdhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// No ReadTimeout/WriteTimeout: consultation requests legitimately
		// block for up to the configured timeout window.
		IdleTimeout: 120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// buildNotifiers assembles the configured outbound notifiers. An empty
// configuration yields no notifiers; consultations then rely on
// reviewers watching the NATS subjects or the WebSocket feed.
func buildNotifiers(cfg config.Notifiers) []notifier.Notifier {
	var out []notifier.Notifier
	if cfg.SlackWebhookURL != "" {
		out = append(out, slack.NewNotifier(cfg.SlackWebhookURL))
	}
	if cfg.DiscordWebhookURL != "" {
		out = append(out, discord.NewNotifier(cfg.DiscordWebhookURL))
	}
	if cfg.Email.Host != "" && len(cfg.Email.To) > 0 {
		out = append(out, email.NewNotifier(email.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			From:     cfg.Email.From,
			Password: cfg.Email.Password,
			To:       cfg.Email.To,
		}))
	}
	return out
}

// reloadOnSIGHUP re-reads the contact roster whenever the process
// receives SIGHUP.
func reloadOnSIGHUP(contacts *roster.Roster) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for range hup {
		if err := contacts.Reload(); err != nil {
			slog.Error("contact roster reload failed", "error", err)
			continue
		}
		slog.Info("contact roster reloaded")
	}
}

func cleanupLoop(ctx context.Context, manager *service.Manager, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := manager.CleanupExpiredSessions(ctx); n > 0 {
				slog.Warn("expired consultation sessions cleaned", "count", n)
			}
		}
	}
}
