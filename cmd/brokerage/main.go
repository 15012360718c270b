package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	assetinfra "github.com/Gsaudx/Advision-sub000/internal/asset/infrastructure"
	auditdomain "github.com/Gsaudx/Advision-sub000/internal/audit/domain"
	auditinfra "github.com/Gsaudx/Advision-sub000/internal/audit/infrastructure"
	assetdomain "github.com/Gsaudx/Advision-sub000/internal/asset/domain"
	optionapp "github.com/Gsaudx/Advision-sub000/internal/option/application"
	optiondomain "github.com/Gsaudx/Advision-sub000/internal/option/domain"
	optioninfra "github.com/Gsaudx/Advision-sub000/internal/option/infrastructure"
	optionhttp "github.com/Gsaudx/Advision-sub000/internal/option/interfaces/http"
	strategyapp "github.com/Gsaudx/Advision-sub000/internal/strategy/application"
	strategydomain "github.com/Gsaudx/Advision-sub000/internal/strategy/domain"
	strategyinfra "github.com/Gsaudx/Advision-sub000/internal/strategy/infrastructure"
	strategyhttp "github.com/Gsaudx/Advision-sub000/internal/strategy/interfaces/http"
	walletapp "github.com/Gsaudx/Advision-sub000/internal/wallet/application"
	walletdomain "github.com/Gsaudx/Advision-sub000/internal/wallet/domain"
	walletinfra "github.com/Gsaudx/Advision-sub000/internal/wallet/infrastructure"
	wallethttp "github.com/Gsaudx/Advision-sub000/internal/wallet/interfaces/http"
	"github.com/Gsaudx/Advision-sub000/pkg/cache"
	"github.com/Gsaudx/Advision-sub000/pkg/config"
	"github.com/Gsaudx/Advision-sub000/pkg/db"
	"github.com/Gsaudx/Advision-sub000/pkg/logger"
	"github.com/Gsaudx/Advision-sub000/pkg/metrics"
	"github.com/Gsaudx/Advision-sub000/pkg/middleware"
	"github.com/Gsaudx/Advision-sub000/pkg/mq"
)

var configPath = flag.String("config", "configs/brokerage/config.toml", "config file path")

func main() {
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Logger
	if err := logger.Init(cfg.Logger); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}

	// 3. Metrics
	m := metrics.New(cfg.ServiceName)

	// 4. Infrastructure
	gdb, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		slog.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close(gdb)

	if cfg.Environment == "dev" {
		if err := gdb.AutoMigrate(
			&walletdomain.Wallet{},
			&walletdomain.Transaction{},
			&assetdomain.Asset{},
			&assetdomain.OptionDetail{},
			&optiondomain.Position{},
			&optiondomain.OptionLifecycle{},
			&strategydomain.StructuredOperation{},
			&strategydomain.OperationLeg{},
			&auditdomain.AuditLog{},
			&auditdomain.OutboxEvent{},
		); err != nil {
			slog.Error("failed to migrate database", "error", err)
		}
	}

	redisClient, err := cache.New(cache.Config{
		Host:        cfg.Redis.Host,
		Port:        cfg.Redis.Port,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		MaxPoolSize: cfg.Redis.MaxPoolSize,
	})
	if err != nil {
		slog.Error("failed to connect redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	producer, err := mq.NewProducer(mq.KafkaConfig{
		Brokers:      cfg.Kafka.Brokers,
		MaxRetries:   cfg.Kafka.MaxRetries,
		RetryBackoff: cfg.Kafka.RetryBackoff,
	})
	if err != nil {
		slog.Error("failed to create kafka producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	// 5. Collaborators
	quotes := assetinfra.NewQuoteClient(cfg.Market.QuoteBaseURL, time.Duration(cfg.Market.RequestTimeout)*time.Second)
	marketData := assetinfra.NewCachedMarketData(quotes, redisClient, time.Duration(cfg.Market.PriceTTL)*time.Second)
	resolver := assetinfra.NewResolver(gdb, quotes)

	// 6. Application
	txManager := db.NewTxManager(gdb)
	walletRepo := walletinfra.NewWalletRepository(gdb)
	txnRepo := walletinfra.NewTransactionRepository(gdb)
	access := walletinfra.NewOwnerAccessControl(walletRepo)
	positionRepo := optioninfra.NewPositionRepository(gdb)
	lifecycleRepo := optioninfra.NewLifecycleRepository(gdb)
	operationRepo := strategyinfra.NewOperationRepository(gdb)
	recorder := auditinfra.NewRecorder(gdb)
	appLogger := logger.Get()

	walletService := walletapp.NewWalletService(access, walletRepo, txnRepo, appLogger)
	tradeService := optionapp.NewTradeService(txManager, access, walletRepo, txnRepo, positionRepo, resolver, recorder, m, appLogger)
	lifecycleService := optionapp.NewLifecycleService(txManager, access, walletRepo, txnRepo, positionRepo, lifecycleRepo, resolver, marketData, recorder, m, appLogger)
	builder := strategydomain.NewBuilder(resolver)
	executor := strategyapp.NewExecutor(txManager, access, walletRepo, txnRepo, positionRepo, operationRepo, resolver, builder, recorder, m, appLogger)

	relay := auditinfra.NewRelay(gdb, producer, cfg.Kafka.EventTopic,
		time.Duration(cfg.Outbox.PollInterval)*time.Millisecond, cfg.Outbox.BatchSize, m)

	// 7. Interfaces
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(middleware.GinRecoveryMiddleware(), middleware.GinLoggingMiddleware(), middleware.GinMetricsMiddleware(m))

	api := r.Group("/api/v1")
	wallethttp.NewHandler(walletService).RegisterRoutes(api)
	optionhttp.NewHandler(tradeService, lifecycleService).RegisterRoutes(api)
	strategyhttp.NewHandler(executor, builder).RegisterRoutes(api)

	// 8. Start
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(rootCtx)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	g.Go(func() error {
		slog.Info("HTTP server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = m.Serve(cfg.Metrics.Port, cfg.Metrics.Path)
		g.Go(func() error {
			slog.Info("metrics server starting", "port", cfg.Metrics.Port)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		relay.Run(ctx)
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			slog.Info("shutting down servers...")
		case <-ctx.Done():
			slog.Info("context cancelled, shutting down...")
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown failed", "error", err)
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
	}
}
