package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/di"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/handlers"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/payments"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/config"
	pfirestore "github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/firestore"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/idempotency"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/jobs"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/observability"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/platform/secrets"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/repositories"
	firestoreRepo "github.com/jaylingelbach/AbandonedHobby-sub004/internal/repositories/firestore"
	"github.com/jaylingelbach/AbandonedHobby-sub004/internal/services"
)

const idempotencyCleanupInterval = time.Hour

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT"))),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	var eventPublisher services.OrderEventPublisher
	var eventTopic *pubsub.Topic
	var pubsubClient *pubsub.Client
	if cfg.PubSub.TopicID != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		eventTopic = pubsubClient.Topic(cfg.PubSub.TopicID)
		publisher, err := jobs.NewPubSubOrderEventPublisher(eventTopic)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		eventPublisher = publisher
	} else {
		logger.Warn("PUBSUB_ORDER_EVENTS_TOPIC not set; order events will not be published")
	}
	defer func() {
		if eventTopic != nil {
			eventTopic.Stop()
		}
		if pubsubClient != nil {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}
	}()

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:    cfg.Stripe.APIKey,
		AccountID: cfg.Stripe.AccountID,
		Logger:    zapEventLogger(logger.Named("payments")),
		Clock:     time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}
	paymentManager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(firestoreClient, eventTopic)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, firestoreRepo.WithHealthRepository(healthRepo))
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Dependencies{
		Payments: paymentManager,
		Events:   eventPublisher,
		Build:    buildInfo,
		Logger:   zapEventLogger(logger.Named("services")),
	})
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient,
		idempotency.WithCollection(cfg.Idempotency.Collection),
	)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupTicker := time.NewTicker(idempotencyCleanupInterval)
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleanupLogger := logger.Named("idempotency")
		for {
			select {
			case <-cleanupTicker.C:
				runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
				removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), 500)
				cancel()
				if err != nil {
					cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		observability.ActorMiddleware(""),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)
	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders)
	refundHandlers := handlers.NewRefundHandlers(container.Services.Refunds,
		handlers.WithRefundRateLimit(30, time.Minute),
	)
	webhookHandlers := handlers.NewStripeWebhookHandlers(handlers.StripeWebhookConfig{
		Orders:        container.Services.Orders,
		Refunds:       container.Services.Refunds,
		SigningSecret: cfg.Stripe.WebhookSecret,
	})

	router := handlers.NewRouter(
		handlers.WithBasePath(cfg.Server.BasePath),
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(func(r chi.Router) {
			orderHandlers.Routes(r)
			refundHandlers.Routes(r)
		}),
		handlers.WithOrderMiddlewares(idempotencyMiddleware),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("abandoned hobby order api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupTicker.Stop()
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

// zapEventLogger adapts a zap logger to the event-style logging callback the
// services accept.
func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info(event, zFields...)
	}
}

func newHealthRepository(client *firestore.Client, topic *pubsub.Topic) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if topic != nil {
		t := topic
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				ok, err := t.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("order events topic does not exist")
				}
				return nil
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}
