package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/handler"
	"creditledger/internal/infrastructure/cache"
	"creditledger/internal/infrastructure/database"
	"creditledger/internal/infrastructure/lock"
	"creditledger/internal/infrastructure/logger"
	"creditledger/internal/infrastructure/metrics"
	"creditledger/internal/infrastructure/mq"
	"creditledger/internal/job"
	"creditledger/internal/repository"
	"creditledger/internal/service"
	"creditledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := idgen.Init(cfg.Server.NodeID); err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		return err
	}

	redisClient, err := cache.InitRedis(&cfg.Redis, log)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	hostname, _ := os.Hostname()
	holder := fmt.Sprintf("%s-%d", hostname, cfg.Server.NodeID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Database.AutoMigrate {
		if err := migrate(ctx, db, redisClient, holder, log); err != nil {
			return err
		}
	}

	producer, err := mq.NewKafkaProducer(&cfg.Kafka, log)
	if err != nil {
		return err
	}
	defer producer.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ledger := service.NewLedgerService(db, cfg, log)
	balances := service.NewBalanceService(db, cfg, ledger, log, m)
	billing := service.NewBillingService(db, cfg, balances, ledger, log, m)
	payments := service.NewPaymentService(db, cfg, balances, ledger, log, m)

	outboxSender := job.NewOutboxSender(db, producer, cfg, log, m)
	go outboxSender.Start(ctx)

	reconcileLock := lock.NewJobLock(redisClient, "reconcile", holder, 2*cfg.Jobs.ReconcileInterval)
	reconcileJob := job.NewReconcileJob(billing, payments, reconcileLock, cfg, log)
	go reconcileJob.Start(ctx)

	router := handler.SetupRouter(handler.Services{
		Balances:  balances,
		Billing:   billing,
		Payments:  payments,
		Ledger:    ledger,
		Directory: repository.NewDirectoryRepository(db),
	}, cfg, registry, log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	// stop background jobs before the server so no sweep starts mid-shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// migrate runs the schema migration on one instance at a time.
func migrate(ctx context.Context, db *gorm.DB, client *redis.Client, holder string, log *zap.Logger) error {
	l := lock.NewJobLock(client, "migrate", holder, time.Minute)
	if err := l.Lock(ctx, 500*time.Millisecond, 120); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if err := l.Unlock(context.Background()); err != nil {
			log.Warn("release migration lock", zap.Error(err))
		}
	}()

	if err := database.Migrate(db); err != nil {
		return err
	}
	log.Info("database migrated")
	return nil
}
