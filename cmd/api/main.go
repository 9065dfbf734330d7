package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coachpay/engine/account"
	"github.com/coachpay/engine/auth"
	"github.com/coachpay/engine/broker"
	"github.com/coachpay/engine/checkout"
	"github.com/coachpay/engine/compliance"
	"github.com/coachpay/engine/config"
	"github.com/coachpay/engine/db"
	"github.com/coachpay/engine/delivery"
	"github.com/coachpay/engine/external"
	"github.com/coachpay/engine/notify"
	"github.com/coachpay/engine/payout"
	"github.com/coachpay/engine/revenue"
	"github.com/coachpay/engine/subscription"
	"github.com/coachpay/engine/webhook"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("API_ENV")
	if config.EnvProduction == env {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))

	cfg, err := config.Load(config.DotFile(env))
	if err != nil {
		logger.Fatal("Cannot load configurations",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: cfg.Environment,
		Release:     Version,
		Debug:       !cfg.Production(),
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	core, err := zapsentry.NewCore(zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot attach sentry to logger",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	defer logger.Sync()

	// Initialize backend connections
	database, err := db.New(db.Options{
		URI:    cfg.PostgresURI,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	var guard webhook.Guard
	if len(cfg.RedisURI) > 0 {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisURI},
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if _, err := rdb.Ping().Result(); err != nil {
			logger.Fatal("Cannot connect to Redis",
				zap.Error(err),
			)
		}
		defer rdb.Close()
		guard, err = webhook.NewRedisGuard(rdb, cfg.EventGuardTTL)
	} else {
		logger.Info("REDIS_URI is empty, claiming webhook events in Postgres")
		guard, err = webhook.NewDBGuard(database)
	}
	if err != nil {
		logger.Fatal("Cannot initialize event guard",
			zap.Error(err),
		)
	}

	var dispatcher notify.Dispatcher = notify.LogDispatcher{Logger: logger}
	if len(cfg.AMQPURI) > 0 {
		amqpBroker, err := broker.NewAMQPBroker(cfg.AMQPURI)
		if err != nil {
			logger.Fatal("Cannot connect to Broker",
				zap.Error(err),
			)
		}
		defer amqpBroker.Close()
		dispatcher = amqpBroker
	} else {
		logger.Info("AMQP_URI is empty, notifications are only logged")
	}

	gateway, err := external.NewGateway(logger, external.NewStripeClient(cfg.StripeKey))
	if err != nil {
		logger.Fatal("Cannot initialize Stripe gateway",
			zap.Error(err),
		)
	}

	authManager, err := auth.New(auth.Options{
		Logger:        logger,
		JWTSigningKey: cfg.JWTSigningKey,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Auth",
			zap.Error(err),
		)
	}

	accountManager, err := account.NewManager(logger, database)
	if err != nil {
		logger.Fatal("Cannot initialize AccountManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		DB:                   database,
		Logger:               logger,
		Gateway:              gateway,
		TrialDays:            cfg.TrialDays,
		MaxRetries:           cfg.MaxPaymentRetries,
		ReconcileConcurrency: cfg.ReconcileConcurrency,
	})
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	deliveryManager, err := delivery.NewManager(logger, database)
	if err != nil {
		logger.Fatal("Cannot initialize DeliveryManager",
			zap.Error(err),
		)
	}

	payoutManager, err := payout.NewManager(logger, database)
	if err != nil {
		logger.Fatal("Cannot initialize PayoutManager",
			zap.Error(err),
		)
	}

	calculator, err := revenue.NewCalculator(revenue.CalculatorOptions{
		FeeBasisPoints:    cfg.FeeBasisPoints,
		Prices:            gateway,
		LookupConcurrency: cfg.PriceLookupConcurrency,
	})
	if err != nil {
		logger.Fatal("Cannot initialize revenue Calculator",
			zap.Error(err),
		)
	}

	planner, err := checkout.NewPlanner(checkout.PlannerOptions{
		Logger:      logger,
		Calculator:  calculator,
		Destination: payoutManager,
	})
	if err != nil {
		logger.Fatal("Cannot initialize checkout Planner",
			zap.Error(err),
		)
	}

	notifier, err := notify.New(notify.Options{
		Logger:     logger,
		Dispatcher: dispatcher,
		Admins:     accountManager,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Notifier",
			zap.Error(err),
		)
	}

	processor, err := webhook.NewProcessor(webhook.ProcessorOptions{
		Logger:              logger,
		SubscriptionManager: subscriptionManager,
		DeliveryManager:     deliveryManager,
		Notifier:            notifier,
		Guard:               guard,
		Charges:             gateway,
		GraceDays:           cfg.GraceDays,
		MaxRetries:          cfg.MaxPaymentRetries,
		DashboardURL:        cfg.StripeDashboardURL,
	})
	if err != nil {
		logger.Fatal("Cannot initialize webhook Processor",
			zap.Error(err),
		)
	}

	complianceRouter, err := compliance.NewService(compliance.ServiceOptions{
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Compliance Service Router",
			zap.Error(err),
		)
	}

	subscriptionRouter, err := subscription.NewService(subscription.ServiceOptions{
		Logger:              logger,
		Auth:                authManager,
		AccountManager:      accountManager,
		SubscriptionManager: subscriptionManager,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Subscription Service Router",
			zap.Error(err),
		)
	}

	deliveryRouter, err := delivery.NewService(delivery.ServiceOptions{
		Logger:          logger,
		Auth:            authManager,
		DeliveryManager: deliveryManager,
		Trainers:        payoutManager,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Delivery Service Router",
			zap.Error(err),
		)
	}

	checkoutRouter, err := checkout.NewService(checkout.ServiceOptions{
		Logger:   logger,
		Auth:     authManager,
		Planner:  planner,
		Intents:  gateway,
		Packages: subscriptionManager,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Checkout Service Router",
			zap.Error(err),
		)
	}

	webhookRouter, err := webhook.NewService(webhook.ServiceOptions{
		Logger:        logger,
		Processor:     processor,
		WebhookSecret: cfg.StripeWebhookSecret,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Webhook Service Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(middleware.RequestID)
	rootRouter.Use(middleware.Recoverer)
	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	rootRouter.Mount("/compliance", complianceRouter.Router())
	rootRouter.Mount("/subscriptions", subscriptionRouter.Router())
	rootRouter.Mount("/deliveries", deliveryRouter.Router())
	rootRouter.Mount("/checkout", checkoutRouter.Router())
	rootRouter.Mount("/webhooks", webhookRouter.Router())

	srv := &http.Server{
		Handler:      rootRouter,
		Addr:         cfg.ListenAddr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Cannot start API server",
				zap.Error(err),
			)
		}
	}()

	logger.Info("API server started",
		zap.String("Addr", cfg.ListenAddr),
	)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Cannot shutdown API server gracefully",
			zap.Error(err),
		)
	}
}
