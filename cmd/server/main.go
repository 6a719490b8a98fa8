package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/siteguard/siteguard-core/internal/agent"
	"github.com/siteguard/siteguard-core/internal/alerting"
	"github.com/siteguard/siteguard-core/internal/api"
	"github.com/siteguard/siteguard-core/internal/config"
	"github.com/siteguard/siteguard-core/internal/engine"
	"github.com/siteguard/siteguard-core/internal/escalation"
	"github.com/siteguard/siteguard-core/internal/queue"
	"github.com/siteguard/siteguard-core/internal/storage/mysql"
	"github.com/siteguard/siteguard-core/internal/sweeper"
	"github.com/siteguard/siteguard-core/pkg/cache"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// main wires the component graph once at startup: store, cache, queue,
// execution engine, alert gate, escalation ladder, sweepers and the HTTP
// surface, with one explicit shutdown sequence.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg := logger.New(cfg.LogLevel)
	logg.Info("starting siteguard-core", "environment", cfg.Environment)

	// Durable store.
	dbClient, err := mysql.Connect(cfg.Database)
	if err != nil {
		logg.Fatal("failed to connect to database", "error", err)
	}
	defer dbClient.Close()
	store := mysql.NewStore(dbClient)

	// Cache and queue share one Redis connection pool.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Addr,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	defer redisClient.Close()
	suppressionCache := cache.NewRedisWithClient(redisClient, cfg.Cache.DefaultTTL())

	jobQueue := queue.NewRedis(redisClient,
		queue.RetryPolicy{MaxAttempts: cfg.Queue.MaxAttempts, Base: cfg.Queue.BackoffBase()},
		queue.RetentionPolicy{
			KeepCompleted: cfg.Queue.KeepCompleted,
			KeepFailed:    cfg.Queue.KeepFailed,
			MaxAge:        cfg.Queue.RetentionAge(),
		},
		logg)

	// Escalation ladder and alert gate.
	signer := escalation.NewTokenSigner(cfg.Escalation.SigningSecret)
	escalations := escalation.NewService(store, signer, nil,
		cfg.Escalation.LevelTimeout(), cfg.Escalation.PublicBaseURL, logg)

	fanout := alerting.NewFanout(store,
		alerting.SendersFromConfig(cfg.Channels, cfg.Alerting.DispatchTimeout()),
		cfg.Alerting.DispatchTimeout(), logg)
	alerts := alerting.NewService(store, suppressionCache, fanout, escalations,
		cfg.Alerting.CooldownTTL(), logg)

	// Execution engine.
	recorder := engine.NewRecorder(store, logg)
	dispatcher := engine.NewDefaultDispatcher(cfg.Worker.ProbeTimeout(), logg)
	pool := engine.NewPool(cfg.Worker, jobQueue, store, dispatcher, recorder, alerts, logg)

	// Recurring schedules, rebuilt from the durable check table.
	registry := queue.NewRecurringRegistry(jobQueue, store, logg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := registry.ReconcileAll(ctx); err != nil {
		logg.Error("initial schedule reconciliation failed", "error", err)
	}
	registry.Start()
	defer registry.Stop()

	producer := queue.NewProducer(jobQueue, suppressionCache, cfg.Queue.AdHocDedupTTL(), logg)
	agents := agent.NewService(store, recorder, alerts, logg)

	// Singleton sweepers.
	sweepers := sweeper.NewManager(logg)
	if err := sweepers.Register("escalation", cfg.Sweeper.EscalationSchedule,
		sweeper.EscalationSweep(escalations, logg)); err != nil {
		logg.Fatal("failed to register escalation sweeper", "error", err)
	}
	if err := sweepers.Register("plan-expiry", cfg.Sweeper.PlanExpirySchedule,
		sweeper.PlanExpirySweep(store, logg)); err != nil {
		logg.Fatal("failed to register plan expiry sweeper", "error", err)
	}
	sweepers.Start()
	defer sweepers.Stop()

	pool.Start(ctx)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logg.Info("shutdown signal received")
		cancel()
	}()

	server := api.NewServer(cfg, logg, api.Deps{
		Store:       store,
		Cache:       suppressionCache,
		Queue:       jobQueue,
		Registry:    registry,
		Producer:    producer,
		Escalations: escalations,
		Agents:      agents,
		Sweepers:    sweepers,
	})
	if err := server.Start(ctx); err != nil {
		logg.Fatal("server failed", "error", err)
	}

	// Let in-flight jobs drain before the deferred teardown runs.
	pool.Wait()
	logg.Info("siteguard-core shutdown complete")
}
