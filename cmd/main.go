package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"pos-sync-service/internal/cache"
	"pos-sync-service/internal/clients/poster"
	"pos-sync-service/internal/config"
	"pos-sync-service/internal/database"
	"pos-sync-service/internal/handlers"
	"pos-sync-service/internal/middleware"
	"pos-sync-service/internal/repository"
	"pos-sync-service/internal/secrets"
	"pos-sync-service/internal/services"
)

const maxRequestBody = 1 << 20

func main() {
	// A missing .env is fine; the environment is authoritative
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	db, err := database.Connect(cfg.DatabaseURL, cfg.Environment)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.WithError(err).Fatal("Failed to migrate database")
	}
	logger.Info("Database models migrated")

	// POS token from Secret Manager overrides the environment when configured
	if cfg.GCPProjectID != "" && cfg.POSSecretName != "" {
		applyPOSSecret(cfg, logger)
	}
	if cfg.POSAPIToken == "" {
		logger.Warn("POS API token is not configured, POS calls will be rejected")
	}

	redisClient := connectRedis(cfg.RedisURL, logger)

	var guard services.RunGuard
	var codeStore cache.CodeStore
	if redisClient != nil {
		guard = services.NewRedisRunGuard(redislock.New(redisClient), cfg.SyncLockTTL, logger)
		codeStore = cache.NewRedisCodeStore(redisClient)
	} else {
		guard = services.NewLocalRunGuard()
		codeStore = cache.NewMemoryCodeStore()
		logger.Info("Redis not configured, using in-process sync guard and code store")
	}

	pos := poster.NewClient(poster.Config{
		BaseURL:    cfg.POSBaseURL,
		Token:      cfg.POSAPIToken,
		Timeout:    cfg.POSTimeout,
		RateLimit:  cfg.POSRateLimit,
		MaxRetries: cfg.POSMaxRetries,
	}, logger)

	// Repositories
	branchRepo := repository.NewBranchRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	inventoryRepo := repository.NewInventoryRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	syncRepo := repository.NewSyncRepository(db)

	// Engines and services
	catalogEngine := services.NewCatalogMergeEngine(pos, branchRepo, catalogRepo, cfg.POSImageBaseURL, logger)
	inventoryEngine := services.NewInventoryReconciliationEngine(pos, branchRepo, catalogRepo, inventoryRepo, cfg.SyncWorkers, logger)
	syncService := services.NewSyncService(
		services.NewSyncRunTracker(syncRepo, logger),
		guard,
		catalogEngine,
		inventoryEngine,
		syncRepo,
		services.SyncServiceConfig{Timeout: cfg.SyncTimeout, StuckAfter: cfg.SyncStuckAfter},
		logger,
	)
	dispatchEngine := services.NewOrderDispatchEngine(pos, orderRepo, catalogRepo, branchRepo, cfg.DispatchTimeout, logger)
	orderService := services.NewOrderService(orderRepo, catalogRepo, branchRepo, dispatchEngine, cfg.DeliveryFee, logger)
	verificationService := services.NewVerificationService(codeStore, cfg.VerificationCodeTTL, cfg.VerificationMaxAttempts, logger)

	router := setupRouter(cfg, logger,
		handlers.NewHealthHandler(db),
		handlers.NewSyncHandler(syncService),
		handlers.NewOrderHandler(orderService, dispatchEngine),
		handlers.NewAuthHandler(verificationService, !cfg.IsProduction()),
		handlers.NewCatalogHandler(branchRepo, catalogRepo, inventoryRepo),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.Environment}).Info("POS sync service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	closeResources(db, redisClient, logger)
}

func applyPOSSecret(cfg *config.Config, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sm, err := secrets.NewGCPSecretManager(ctx, cfg.GCPProjectID)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize GCP Secret Manager")
		return
	}
	defer sm.Close()

	secret, err := sm.GetPOSSecret(ctx, cfg.POSSecretName)
	if err != nil {
		logger.WithError(err).WithField("secret", cfg.POSSecretName).Warn("Failed to read POS secret, keeping environment token")
		return
	}
	cfg.POSAPIToken = secret.Token
	if secret.BaseURL != "" {
		cfg.POSBaseURL = secret.BaseURL
	}
	if secret.ImageBaseURL != "" {
		cfg.POSImageBaseURL = secret.ImageBaseURL
	}
	logger.Info("POS credentials loaded from Secret Manager")
}

func connectRedis(url string, logger *logrus.Logger) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.WithError(err).Warn("Invalid REDIS_URL, falling back to in-process state")
		return nil
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("Redis unreachable, falling back to in-process state")
		_ = client.Close()
		return nil
	}
	logger.Info("Connected to Redis")
	return client
}

func closeResources(db *gorm.DB, redisClient *redis.Client, logger *logrus.Logger) {
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close Redis client")
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}
}

func setupRouter(
	cfg *config.Config,
	logger *logrus.Logger,
	healthHandler *handlers.HealthHandler,
	syncHandler *handlers.SyncHandler,
	orderHandler *handlers.OrderHandler,
	authHandler *handlers.AuthHandler,
	catalogHandler *handlers.CatalogHandler,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	router.Use(middleware.BodyLimit(maxRequestBody))

	// Health check endpoints
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		// Storefront
		v1.GET("/branches", catalogHandler.ListBranches)
		v1.GET("/branches/:id/inventory", catalogHandler.GetBranchInventory)
		v1.GET("/categories", catalogHandler.ListCategories)
		v1.GET("/products", catalogHandler.ListProducts)
		v1.GET("/products/:id", catalogHandler.GetProduct)

		v1.POST("/orders", orderHandler.PlaceOrder)
		v1.GET("/orders/:id", orderHandler.GetOrder)

		v1.POST("/auth/codes", authHandler.IssueCode)
		v1.POST("/auth/codes/verify", authHandler.VerifyCode)

		// Operator
		operator := v1.Group("")
		operator.Use(middleware.RequireOperatorToken(cfg.OperatorToken))
		{
			syncGroup := operator.Group("/sync")
			{
				syncGroup.POST("/full", syncHandler.RunFullSync)
				syncGroup.POST("/products", syncHandler.RunProductsSync)
				syncGroup.POST("/prices", syncHandler.RunPricesSync)
				syncGroup.POST("/images", syncHandler.RunImagesSync)
				syncGroup.POST("/inventory", syncHandler.RunInventorySync)
				syncGroup.POST("/inventory/branches/:id", syncHandler.RunBranchInventorySync)
				syncGroup.GET("/runs", syncHandler.ListRuns)
				syncGroup.GET("/runs/stuck", syncHandler.ListStuckRuns)
				syncGroup.GET("/runs/:id", syncHandler.GetRun)
				syncGroup.GET("/stats", syncHandler.GetStats)
			}

			operator.GET("/orders/undispatched", orderHandler.ListUndispatched)
			operator.POST("/orders/:id/dispatch", orderHandler.DispatchOrder)
		}
	}

	return router
}
