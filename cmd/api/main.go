// Package main is the entrypoint for the Inkwell API server.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/inkwell/inkwell/internal/auth"
	"github.com/inkwell/inkwell/internal/cache"
	"github.com/inkwell/inkwell/internal/config"
	"github.com/inkwell/inkwell/internal/handler"
	"github.com/inkwell/inkwell/internal/metrics"
	"github.com/inkwell/inkwell/internal/middleware"
	"github.com/inkwell/inkwell/internal/model"
	"github.com/inkwell/inkwell/internal/notify"
	"github.com/inkwell/inkwell/internal/repository"
	"github.com/inkwell/inkwell/internal/scheduler"
	"github.com/inkwell/inkwell/internal/schema"
	"github.com/inkwell/inkwell/internal/search"
	"github.com/inkwell/inkwell/internal/server"
	"github.com/inkwell/inkwell/internal/service"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	// PostgreSQL (pgx pool for the hot paths)
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	// A second database/sql handle for the notification outbox, which
	// leans on lib/pq array support.
	sqlDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open outbox database handle",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetMaxIdleConns(2)
	defer sqlDB.Close()

	// Redis: entry cache, auth cache, index job stream, task leases
	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	// Content type presets
	registry, err := schema.Load(cfg.ContentTypesPath)
	if err != nil {
		logger.Error("failed to load content types", "path", cfg.ContentTypesPath, "error", err)
		os.Exit(1)
	}
	logger.Info("content types loaded", "types", len(registry.List()))

	recorder := metrics.NewPrometheus()

	// Notifications: outbox publisher, dispatcher, webhook courier
	notifyRepo := notify.NewRepository(sqlDB)
	notifier := notify.NewPublisher(notifyRepo, logger, recorder)

	var amqpPub *notify.AMQPPublisher
	if cfg.AMQPEnabled() {
		amqpPub, err = notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			// Webhooks keep working without the broker leg.
			logger.Warn("AMQP publisher unavailable, continuing without it",
				slog.String("error", sanitizeError(err, cfg.AMQPURL)),
			)
			amqpPub = nil
		} else {
			logger.Info("connected to AMQP broker", "exchange", cfg.AMQPExchange)
		}
	}

	dispatcher := notify.NewDispatcher(notifyRepo, amqpPub, logger, recorder)
	courier := notify.NewCourier(notifyRepo, logger, recorder)

	// Search: stream publisher, consumer-group indexer, query service
	searchStore := search.NewStore(repo.Pool())
	indexPublisher := search.NewPublisher(cacheClient.Client(), logger, recorder)
	indexer := search.NewIndexer(cacheClient.Client(), repo, searchStore, logger, search.NewConsumerID(), recorder)
	searchService := search.NewService(searchStore, repo, indexPublisher, cacheClient.Client(), notifier, logger, recorder)

	// Core services
	entryService := service.NewEntryService(repo, cacheClient, registry, notifier, indexPublisher, logger, recorder)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	authService := service.NewAuthService(repo, tokens, logger)

	// Recurring task runner
	var locker scheduler.Locker
	if cfg.SchedulerLeases {
		locker = cacheClient
	}
	runner := scheduler.New(logger, recorder, locker, taskObserver(ctx, notifier, logger))

	registerTasks(runner, cfg, entryService, searchService, dispatcher, courier, logger)

	appCtx, cancelApp := context.WithCancel(ctx)
	defer cancelApp()

	if err := runner.Start(appCtx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := indexer.Run(appCtx); err != nil && appCtx.Err() == nil {
			logger.Error("indexer stopped", "error", err)
		}
	}()

	if cfg.ContentTypesWatch {
		watcher := schema.NewWatcher(registry, cfg.ContentTypesPath, logger, func(removed []string) {
			for _, key := range removed {
				if err := notifier.Publish(appCtx, model.EventContentTypeDeleted, "content_type", key, nil); err != nil {
					logger.Warn("failed to publish content type removal", "key", key, "error", err)
				}
			}
		})
		go func() {
			if err := watcher.Run(appCtx); err != nil && appCtx.Err() == nil {
				logger.Error("schema watcher stopped", "error", err)
			}
		}()
	}

	// Handlers
	h := handler.New()
	healthHandler := handler.NewHealthHandler(repo, cacheClient)
	entryHandler := handler.NewEntryHandler(entryService, logger)
	contentTypeHandler := handler.NewContentTypeHandler(registry)
	searchHandler := handler.NewSearchHandler(searchService, logger)
	taskHandler := handler.NewTaskHandler(runner, logger)
	subscriptionHandler := handler.NewSubscriptionHandler(notifyRepo, logger, cfg.IsDevelopment())
	notificationHandler := handler.NewNotificationHandler(notifyRepo, logger)
	apiKeyHandler := handler.NewAPIKeyHandler(logger, repo)
	authHandler := handler.NewAuthHandler(authService, logger)

	r := setupRouter(routerDeps{
		base:          h,
		health:        healthHandler,
		entries:       entryHandler,
		contentTypes:  contentTypeHandler,
		search:        searchHandler,
		tasks:         taskHandler,
		subscriptions: subscriptionHandler,
		notifications: notificationHandler,
		apiKeys:       apiKeyHandler,
		authn:         authHandler,
		repo:          repo,
		cache:         cacheClient,
		tokens:        tokens,
		recorder:      recorder,
		cfg:           cfg,
		logger:        logger,
	})

	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)

	// LIFO: the scheduler and indexer go down before their backends.
	srv.OnShutdown("background-context", func(context.Context) error {
		cancelApp()
		return nil
	})
	srv.OnShutdown("indexer", indexer.Shutdown)
	srv.OnShutdown("scheduler", runner.Shutdown)
	if amqpPub != nil {
		srv.OnShutdown("amqp", func(context.Context) error {
			amqpPub.Close()
			return nil
		})
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"amqp", cfg.AMQPEnabled(),
		"leases", cfg.SchedulerLeases,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// quietTasks pump the notification pipeline itself. Publishing routine
// lifecycle events for them would feed the queue they drain, so only
// their failures are published.
var quietTasks = map[string]bool{
	"outbox-dispatch":  true,
	"webhook-delivery": true,
}

// taskObserver turns scheduler lifecycle events into notifications.
func taskObserver(ctx context.Context, notifier *notify.Publisher, logger *slog.Logger) scheduler.Observer {
	eventFor := map[scheduler.EventKind]model.EventType{
		scheduler.EventStarted:   model.EventTaskStarted,
		scheduler.EventCompleted: model.EventTaskCompleted,
		scheduler.EventFailed:    model.EventTaskFailed,
		scheduler.EventStopped:   model.EventTaskStopped,
		scheduler.EventCancelled: model.EventTaskCancelled,
	}

	return func(ev scheduler.Event) {
		if quietTasks[ev.Task] && ev.Kind != scheduler.EventFailed {
			return
		}

		eventType, ok := eventFor[ev.Kind]
		if !ok {
			return
		}

		data := map[string]any{
			"run_count":   ev.RunCount,
			"duration_ms": ev.Duration.Milliseconds(),
		}
		if ev.Err != nil {
			data["error"] = ev.Err.Error()
		}

		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := notifier.Publish(pubCtx, eventType, "task", ev.Task, data); err != nil {
			logger.Warn("failed to publish task event", "task", ev.Task, "kind", ev.Kind, "error", err)
		}
	}
}

// registerTasks wires the built-in recurring tasks.
func registerTasks(
	runner *scheduler.Runner,
	cfg *config.Config,
	entries *service.EntryService,
	searchSvc *search.Service,
	dispatcher *notify.Dispatcher,
	courier *notify.Courier,
	logger *slog.Logger,
) {
	register := func(name string, delay, interval time.Duration, fn scheduler.TaskFunc, opts scheduler.Options) {
		if err := runner.Register(name, delay, interval, fn, opts); err != nil {
			logger.Error("failed to register task", "task", name, "error", err)
			os.Exit(1)
		}
	}

	register("trash-purge", cfg.TaskInitialDelay, cfg.TrashPurgeEvery,
		entries.PurgeTrashedOnce(cfg.TrashRetention), scheduler.Options{})

	register("index-sweep", cfg.TaskInitialDelay, cfg.IndexSweepEvery,
		searchSvc.SweepOnce, scheduler.Options{})

	register("outbox-dispatch", cfg.TaskInitialDelay, cfg.DispatchEvery,
		func(ctx context.Context) (bool, error) {
			_, err := dispatcher.DispatchOnce(ctx)
			return true, err
		}, scheduler.Options{})

	register("webhook-delivery", cfg.TaskInitialDelay, cfg.DeliveryEvery,
		func(ctx context.Context) (bool, error) {
			_, err := courier.DeliverOnce(ctx)
			return true, err
		}, scheduler.Options{Async: true})
}

// routerDeps bundles everything the router needs.
type routerDeps struct {
	base          *handler.Handler
	health        *handler.HealthHandler
	entries       *handler.EntryHandler
	contentTypes  *handler.ContentTypeHandler
	search        *handler.SearchHandler
	tasks         *handler.TaskHandler
	subscriptions *handler.SubscriptionHandler
	notifications *handler.NotificationHandler
	apiKeys       *handler.APIKeyHandler
	authn         *handler.AuthHandler
	repo          *repository.Repository
	cache         *cache.Cache
	tokens        *auth.TokenIssuer
	recorder      *metrics.Prometheus
	cfg           *config.Config
	logger        *slog.Logger
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps) *chi.Mux {
	r := chi.NewRouter()

	securityCfg := middleware.SecurityConfig{
		IsDevelopment:      d.cfg.IsDevelopment(),
		MaxRequestBodySize: d.cfg.MaxRequestBodySize,
	}

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = d.cfg.GetCORSAllowedOrigins()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.logger))
	r.Use(middleware.Recoverer(d.logger))
	r.Use(middleware.Security(securityCfg))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(d.cfg.MaxRequestBodySize))

	// Unauthenticated surface
	r.Get("/healthz", d.health.Healthz)
	r.Get("/readyz", d.health.Readyz)
	r.Get("/", d.base.Hello)
	r.Method("GET", "/metrics", d.recorder.Handler())

	authCfg := middleware.AuthConfig{
		Logger:     d.logger,
		Repository: d.repo,
		Cache:      d.cache,
		Tokens:     d.tokens,
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Login is the one unauthenticated API route.
		r.Post("/auth/login", d.authn.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(authCfg))

			r.Route("/content-types", func(r chi.Router) {
				r.With(middleware.RequireRead()).Get("/", d.contentTypes.List)
				r.With(middleware.RequireRead()).Get("/{key}", d.contentTypes.Get)
			})

			r.Route("/entries", func(r chi.Router) {
				r.With(middleware.RequireRead()).Get("/", d.entries.List)
				r.With(middleware.RequireRead()).Get("/{id}", d.entries.Get)
				r.With(middleware.RequireWrite()).Post("/", d.entries.Create)
				r.With(middleware.RequireWrite()).Put("/{id}", d.entries.Update)
				r.With(middleware.RequireWrite()).Patch("/{id}", d.entries.Update)
				r.With(middleware.RequireWrite()).Delete("/{id}", d.entries.Delete)
			})

			r.With(middleware.RequireRead()).Get("/search", d.search.Search)

			r.Route("/index", func(r chi.Router) {
				r.With(middleware.RequireRead()).Get("/", d.search.IndexStatus)
				r.With(middleware.RequireAdmin()).Post("/rebuild", d.search.RebuildIndex)
			})

			r.Route("/tasks", func(r chi.Router) {
				r.With(middleware.RequireRead()).Get("/", d.tasks.List)
				r.With(middleware.RequireRead()).Get("/{name}", d.tasks.Get)
				r.With(middleware.RequireAdmin()).Post("/{name}/run", d.tasks.Trigger)
				r.With(middleware.RequireAdmin()).Post("/{name}/cancel", d.tasks.Cancel)
			})

			r.Route("/webhooks", func(r chi.Router) {
				r.With(middleware.RequireAdmin()).Get("/", d.subscriptions.List)
				r.With(middleware.RequireAdmin()).Post("/", d.subscriptions.Create)
				r.With(middleware.RequireAdmin()).Get("/{id}", d.subscriptions.Get)
				r.With(middleware.RequireAdmin()).Patch("/{id}", d.subscriptions.Update)
				r.With(middleware.RequireAdmin()).Delete("/{id}", d.subscriptions.Delete)
				r.With(middleware.RequireAdmin()).Post("/{id}/rotate-secret", d.subscriptions.RotateSecret)
				r.With(middleware.RequireAdmin()).Get("/{id}/deliveries", d.subscriptions.ListDeliveries)
			})

			r.With(middleware.RequireAdmin()).Post("/deliveries/{id}/retry", d.subscriptions.RetryDelivery)
			r.With(middleware.RequireAdmin()).Get("/notifications", d.notifications.List)

			r.Route("/api-keys", func(r chi.Router) {
				r.With(middleware.RequireRead()).Get("/", d.apiKeys.List)
				r.With(middleware.RequireAdmin()).Post("/", d.apiKeys.Create)
				r.With(middleware.RequireAdmin()).Delete("/{id}", d.apiKeys.Revoke)
			})
		})
	})

	r.NotFound(d.base.NotFound)
	r.MethodNotAllowed(d.base.MethodNotAllowed)

	return r
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
