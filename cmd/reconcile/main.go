package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coachpay/engine/config"
	"github.com/coachpay/engine/db"
	"github.com/coachpay/engine/external"
	"github.com/coachpay/engine/subscription"

	"go.uber.org/zap"
)

func main() {
	var logger *zap.Logger
	var err error

	ids := flag.String("ids", "", "comma separated subscription ids to verify against Stripe")
	flag.Parse()

	env := os.Getenv("API_ENV")
	if config.EnvProduction == env {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	defer logger.Sync()

	subscriptionIDs := make([]string, 0)
	for _, id := range strings.Split(*ids, ",") {
		if id = strings.TrimSpace(id); len(id) > 0 {
			subscriptionIDs = append(subscriptionIDs, id)
		}
	}
	if len(subscriptionIDs) == 0 {
		logger.Fatal("No subscription ids given, use -ids a,b,c")
	}

	cfg, err := config.LoadBackend(config.DotFile(env))
	if err != nil {
		logger.Fatal("Cannot load configurations",
			zap.Error(err),
		)
	}

	database, err := db.New(db.Options{
		URI:          cfg.PostgresURI,
		Logger:       logger,
		MaxOpenConns: cfg.ReconcileConcurrency,
	})
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	gateway, err := external.NewGateway(logger, external.NewStripeClient(cfg.StripeKey))
	if err != nil {
		logger.Fatal("Cannot initialize Stripe gateway",
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()

	results := subscriptionManager.Reconcile(ctx, subscriptionIDs)

	mismatched := 0
	for _, result := range results {
		if !result.Verified {
			mismatched++
		}
	}
	logger.Info("Reconciliation finished",
		zap.Int("Subscriptions", len(results)),
		zap.Int("Unverified", mismatched),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		logger.Fatal("Cannot write results",
			zap.Error(err),
		)
	}
	if mismatched > 0 {
		os.Exit(1)
	}
}
