package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/agoramall/orders-api/internal/events"
	"github.com/agoramall/orders-api/internal/handlers"
	"github.com/agoramall/orders-api/internal/payments"
	"github.com/agoramall/orders-api/internal/platform/config"
	pfirestore "github.com/agoramall/orders-api/internal/platform/firestore"
	"github.com/agoramall/orders-api/internal/platform/observability"
	"github.com/agoramall/orders-api/internal/platform/secrets"
	firestoreRepo "github.com/agoramall/orders-api/internal/repositories/firestore"
	"github.com/agoramall/orders-api/internal/services"

	"github.com/oklog/ulid/v2"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("orders-api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	stripeKey, err := resolveStripeKey(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to resolve stripe api key", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	unitOfWork, err := pfirestore.NewUnitOfWork(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise unit of work", zap.Error(err))
	}

	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	inventoryRepo, err := firestoreRepo.NewInventoryRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise inventory repository", zap.Error(err))
	}
	sessionRepo, err := firestoreRepo.NewPaymentSessionRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise payment session repository", zap.Error(err))
	}
	refundRepo, err := firestoreRepo.NewRefundRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise refund repository", zap.Error(err))
	}
	catalogRepo, err := firestoreRepo.NewCatalogRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise catalog repository", zap.Error(err))
	}
	agentRepo, err := firestoreRepo.NewAgentRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise agent repository", zap.Error(err))
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise counter repository", zap.Error(err))
	}

	serviceLogger := services.Logger(observability.ServiceLogger(logger))

	inventoryService, err := services.NewInventoryService(services.InventoryServiceDeps{
		Ledger: inventoryRepo,
		Clock:  func() time.Time { return time.Now().UTC() },
		Logger: serviceLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise inventory service", zap.Error(err))
	}

	tenantResolver, err := services.NewTenantResolver(services.TenantResolverDeps{Catalog: catalogRepo})
	if err != nil {
		logger.Fatal("failed to initialise tenant resolver", zap.Error(err))
	}
	agentResolver, err := services.NewAgentResolver(services.AgentResolverDeps{Catalog: catalogRepo, Agents: agentRepo})
	if err != nil {
		logger.Fatal("failed to initialise agent resolver", zap.Error(err))
	}
	resolver, err := services.NewChannelResolver(services.ChannelResolverDeps{Tenant: tenantResolver, Agent: agentResolver})
	if err != nil {
		logger.Fatal("failed to initialise authorization resolver", zap.Error(err))
	}

	usageRecorder, err := services.NewCounterUsageRecorder(counterRepo)
	if err != nil {
		logger.Fatal("failed to initialise usage recorder", zap.Error(err))
	}

	publisher, closePublisher, err := newEventPublisher(ctx, logger, cfg.Firestore.ProjectID, cfg.Events)
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}
	defer closePublisher()

	hooks := services.NewHookDispatcher(services.HookDispatcherDeps{
		OnCompleted: []services.HookFunc{fulfilmentHook(serviceLogger)},
		OnRefunded:  []services.HookFunc{reconciliationHook(serviceLogger)},
		Logger:      serviceLogger,
		Timeout:     30 * time.Second,
	})

	gateway, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: stripeKey,
		Logger: payments.StripeLogger(serviceLogger),
		Clock:  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		logger.Fatal("failed to initialise payment gateway", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      orderRepo,
		Refunds:     refundRepo,
		Sessions:    sessionRepo,
		Counters:    counterRepo,
		Agents:      agentRepo,
		Inventory:   inventoryService,
		Resolver:    resolver,
		UnitOfWork:  unitOfWork,
		Events:      publisher,
		Hooks:       hooks,
		Gateway:     gateway,
		Clock:       func() time.Time { return time.Now().UTC() },
		IDGenerator: func() string { return strings.ToLower(ulid.Make().String()) },
		Logger:      serviceLogger,
		HoldWindow:  cfg.Checkout.HoldWindow,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:     orderRepo,
		Sessions:   sessionRepo,
		Inventory:  inventoryService,
		Gateway:    gateway,
		Usage:      usageRecorder,
		UnitOfWork: unitOfWork,
		Clock:      func() time.Time { return time.Now().UTC() },
		Logger:     serviceLogger,
		SuccessURL: cfg.PSP.SuccessURL,
		CancelURL:  cfg.PSP.CancelURL,
		SessionTTL: cfg.Checkout.SessionTTL,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	orderHandlers := handlers.NewOrderHandlers(orderService, paymentService)
	webhookHandlers := handlers.NewWebhookHandlers(orderService, gateway)
	healthHandlers := handlers.NewHealthHandlers(func() error {
		_, err := firestoreProvider.Client(context.Background())
		return err
	})

	router := handlers.NewRouter(
		handlers.WithMiddleware(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealth(healthHandlers),
		handlers.WithOrders(orderHandlers.Routes),
		handlers.WithWebhooks(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr), zap.String("event_sink", cfg.Events.Sink))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}
	hooks.Wait()
	logger.Info("server stopped")
}

// resolveStripeKey prefers a Secret Manager reference over a raw key so
// deployments never need the key in plain environment variables.
func resolveStripeKey(ctx context.Context, logger *zap.Logger, cfg config.Config) (string, error) {
	if cfg.PSP.StripeAPIKeySecret == "" {
		return cfg.PSP.StripeAPIKey, nil
	}
	fetcher, err := secrets.NewFetcher(ctx, cfg.Firestore.ProjectID, secrets.WithLogger(logger))
	if err != nil {
		return "", err
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()
	return fetcher.Resolve(ctx, cfg.PSP.StripeAPIKeySecret)
}

func newEventPublisher(ctx context.Context, logger *zap.Logger, projectID string, cfg config.EventsConfig) (events.Publisher, func(), error) {
	switch cfg.Sink {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			return nil, nil, err
		}
		topic := client.Topic(cfg.PubSubTopic)
		publisher, err := events.NewPubSubPublisher(topic)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			topic.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}
		return publisher, closeFn, nil
	case "kafka":
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("kafka close error", zap.Error(err))
			}
		}
		return publisher, closeFn, nil
	default:
		return events.NewLogPublisher(logger), func() {}, nil
	}
}

// fulfilmentHook hands a paid order to downstream fulfilment. The event
// publisher already carries the payload, so this only records the handoff.
func fulfilmentHook(logger services.Logger) services.HookFunc {
	return func(ctx context.Context, orderID string) error {
		logger(ctx, "fulfilment.notified", map[string]any{"order_id": orderID})
		return nil
	}
}

func reconciliationHook(logger services.Logger) services.HookFunc {
	return func(ctx context.Context, orderID string) error {
		logger(ctx, "reconciliation.recorded", map[string]any{"order_id": orderID})
		return nil
	}
}
