package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"unicity-proxy.backend/internal/cache"
	"unicity-proxy.backend/internal/config"
	domainerrors "unicity-proxy.backend/internal/domain/errors"
	"unicity-proxy.backend/internal/infrastructure/blockchain"
	"unicity-proxy.backend/internal/infrastructure/jobs"
	"unicity-proxy.backend/internal/infrastructure/repositories"
	"unicity-proxy.backend/internal/interfaces/http/handlers"
	"unicity-proxy.backend/internal/interfaces/http/middleware"
	"unicity-proxy.backend/internal/proxy"
	"unicity-proxy.backend/internal/ratelimit"
	"unicity-proxy.backend/internal/routing"
	"unicity-proxy.backend/internal/usecases"
	"unicity-proxy.backend/pkg/clock"
	"unicity-proxy.backend/pkg/logger"
	"unicity-proxy.backend/pkg/redis"
)

var (
	loadDotenv = godotenv.Load
	loadCfg    = config.Load
	openDB     = func(dsn string) (*gorm.DB, error) {
		return gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		}), &gorm.Config{
			PrepareStmt: false,
		})
	}
)

// flagEnv maps command-line flags onto the environment keys config.Load
// reads, so flags win over both .env and the process environment.
var flagEnv = map[string]string{
	"port":              "PORT",
	"target-url":        "TARGET_URL",
	"admin-password":    "ADMIN_PASSWORD",
	"protected-methods": "PROTECTED_METHODS",
	"trust-base":        "TRUST_BASE_PATH",
	"accepted-coin-id":  "ACCEPTED_COIN_ID",
	"minimum-payment":   "MINIMUM_PAYMENT_AMOUNT",
	"token-type-name":   "TOKEN_TYPE_NAME",
}

func main() {
	root := &cobra.Command{
		Use:   "unicity-proxy",
		Short: "Sharded authenticated reverse proxy for aggregator nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			var flagErr error
			cmd.Flags().Visit(func(f *pflag.Flag) {
				if env, ok := flagEnv[f.Name]; ok {
					if err := os.Setenv(env, f.Value.String()); err != nil {
						flagErr = err
					}
				}
			})
			if flagErr != nil {
				return flagErr
			}
			return runMainProcess()
		},
		SilenceUsage: true,
	}
	flags := root.Flags()
	flags.String("port", "8080", "HTTP listen port")
	flags.String("target-url", "", "single aggregator URL to seed an empty shard store with")
	flags.String("admin-password", "", "admin password or bcrypt hash; empty disables /admin")
	flags.String("protected-methods", "submit_commitment", "comma-separated JSON-RPC methods requiring an API key")
	flags.String("trust-base", "", "path to the trust base document")
	flags.String("accepted-coin-id", "", "coin id payments must consist of")
	flags.String("minimum-payment", "1000", "minimum payment amount")
	flags.String("token-type-name", "unicity", "token type name for predicate derivation")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runMainProcess() error {
	if err := loadDotenv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := loadCfg()
	if err != nil {
		return err
	}

	logger.Init(cfg.Server.Env)
	logger.Info(context.Background(), "Logger initialized", zap.String("env", cfg.Server.Env))

	if cfg.Redis.URL != "" {
		if err := redis.Init(cfg.Redis.URL, cfg.Redis.Password); err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		logger.Info(context.Background(), "Redis initialized")
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := openDB(cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get generic database object: %w", err)
	}
	defer sqlDB.Close()
	sqlDB.SetMaxOpenConns(20)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database not available: %w", err)
	}
	if err := repositories.EnsureSchema(db); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	log.Println("✅ Connected to PostgreSQL via GORM")

	// Repositories
	keyRepo := repositories.NewApiKeyRepository(db)
	planRepo := repositories.NewPricingPlanRepository(db)
	sessionRepo := repositories.NewPaymentSessionRepository(db)
	shardRepo := repositories.NewShardConfigRepository(db)
	uow := repositories.NewUnitOfWork(db)

	clk := clock.System()
	holder := routing.NewHolder()

	// Optional single-backend bootstrap: with an empty shard store and a
	// configured target URL, seed a catch-all config so the proxy routes
	// out of the box.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Proxy.TargetURL != "" {
		if err := seedShardConfig(ctx, shardRepo, cfg.Proxy.TargetURL); err != nil {
			return err
		}
	}

	reloader := jobs.NewConfigReloader(shardRepo, holder, cfg.Proxy.ReloadInterval)
	if err := reloader.LoadOnce(ctx); err != nil {
		logger.Warn(ctx, "initial shard config load failed, starting in failsafe state", zap.Error(err))
	}
	go reloader.Start(ctx)

	expiryJob := jobs.NewSessionExpiryJob(sessionRepo, clk)
	go expiryJob.Start(ctx)

	// Ingress stack
	keyCache := cache.NewKeyCache(keyRepo, clk, cache.DefaultTTL)
	limiter := ratelimit.NewLimiter(clk)
	backend := proxy.NewBackendClient(cfg.Proxy.ConnectTimeout, cfg.Proxy.ReadTimeout, cfg.Proxy.IdleTimeout)
	pipeline := proxy.NewPipeline(holder, keyCache, limiter, backend, cfg.Proxy.ProtectedMethods)

	onKeyChanged := func(key string) {
		keyCache.Invalidate(key)
		limiter.Forget(key)
		if redis.Enabled() {
			if err := redis.PublishKeyInvalidation(context.Background(), key); err != nil {
				logger.Warn(context.Background(), "failed to publish key invalidation", zap.Error(err))
			}
		}
	}
	if redis.Enabled() {
		redis.SubscribeKeyInvalidations(ctx, func(key string) {
			keyCache.Invalidate(key)
			limiter.Forget(key)
		})
	}

	// Payment stack
	trustBase, err := loadTrustBase(cfg.Payment.TrustBasePath)
	if err != nil {
		return err
	}
	sdk := blockchain.NewAggregatorSDK(holder, backend.HTTPClient())
	paymentUsecase := usecases.NewPaymentUsecase(
		keyRepo, planRepo, sessionRepo, uow, sdk, trustBase,
		usecases.PaymentConfig{
			ServerSecret:   cfg.Payment.ServerSecret,
			AcceptedCoinID: blockchain.CoinID(cfg.Payment.AcceptedCoinID),
			MinimumPayment: cfg.Payment.MinimumPayment,
			TokenTypeName:  cfg.Payment.TokenTypeName,
		},
		clk, onKeyChanged,
	)
	adminUsecase := usecases.NewAdminUsecase(keyRepo, planRepo, shardRepo, uow, clk, onKeyChanged)
	shardConfigUsecase := usecases.NewShardConfigUsecase(shardRepo)
	healthUsecase := usecases.NewHealthUsecase(db, holder, backend.HTTPClient())

	// HTTP surface
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())

	registerRoutes(r, routeDeps{
		paymentHandler:     handlers.NewPaymentHandler(paymentUsecase),
		shardConfigHandler: handlers.NewShardConfigHandler(shardConfigUsecase),
		healthHandler:      handlers.NewHealthHandler(healthUsecase),
		adminHandler:       handlers.NewAdminHandler(adminUsecase),
		adminPassword:      cfg.Admin.Password,
		proxyHandler:       pipeline.Handler(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("🛑 Shutting down server...")
		expiryJob.Stop()
		reloader.Stop()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(context.Background(), "server shutdown failed", zap.Error(err))
		}
	}()

	log.Printf("🚀 Unicity proxy starting on port %s", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// seedShardConfig stores a single catch-all shard when no config exists yet.
func seedShardConfig(ctx context.Context, shardRepo *repositories.ShardConfigRepository, targetURL string) error {
	_, err := shardRepo.Latest(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domainerrors.ErrNotFound) {
		return err
	}
	document, err := json.Marshal(map[string]interface{}{
		"version": 1,
		"shards":  []map[string]interface{}{{"id": 1, "url": targetURL}},
	})
	if err != nil {
		return err
	}
	_, err = shardRepo.Append(ctx, string(document), "startup")
	return err
}

// loadTrustBase reads the trust base document; payments that need chain
// verification fail cleanly when none is configured.
func loadTrustBase(path string) (*blockchain.TrustBase, error) {
	if path == "" {
		return &blockchain.TrustBase{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust base: %w", err)
	}
	tb, err := blockchain.ParseTrustBase(raw)
	if err != nil {
		return nil, err
	}
	return tb, nil
}
