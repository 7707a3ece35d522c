package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shopora/server/internal/infra/httpclient"
	"github.com/shopora/server/internal/module/cart"
	"github.com/shopora/server/internal/module/order"
	"github.com/shopora/server/internal/module/payment"
	"github.com/shopora/server/internal/shared/cache"
	"github.com/shopora/server/internal/shared/config"
	"github.com/shopora/server/internal/shared/database"
	"github.com/shopora/server/internal/shared/middleware"
)

// App wires the application's components together.
type App struct {
	cfg    *config.Config
	log    *zap.Logger
	db     *gorm.DB
	redis  redis.UniversalClient
	server *http.Server
}

// New builds the application from configuration.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	if err := db.AutoMigrate(
		&order.Order{},
		&order.Item{},
		&payment.Payment{},
		&payment.GatewayConfig{},
		&payment.WebhookEvent{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// Shared infrastructure
	providerClient := httpclient.NewBreaker(httpclient.New(cfg.Payment.ProviderTimeout))
	carts := cart.NewStore(redisClient)

	// Order module
	orderRepo := order.NewRepository(db)
	orderSvc := order.NewService(orderRepo, log)

	// Payment module
	paymentRepo := payment.NewRepository(db)
	factory := payment.NewFactory(paymentRepo, providerClient, cfg.Payment.GatewayCacheTTL, log)
	reconciler := payment.NewReconciler(paymentRepo, orderRepo, orderSvc, carts, log)
	paymentSvc := payment.NewService(factory, paymentRepo, reconciler, orderRepo, cfg.Payment, log)
	paymentHandler := payment.NewHandler(paymentSvc, log)

	router := setupRouter(cfg, log, paymentHandler)

	return &App{
		cfg:   cfg,
		log:   log,
		db:    db,
		redis: redisClient,
		server: &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}, nil
}

func setupRouter(cfg *config.Config, log *zap.Logger, paymentHandler *payment.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logging(log))
	router.Use(middleware.Metrics())
	router.Use(middleware.CORS([]string{cfg.Payment.FrontendURL}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth(cfg.Auth.JWTSecret)
	admin := middleware.RequireAdmin()

	api := router.Group("/api/v1")
	paymentHandler.RegisterRoutes(api, auth, admin)

	return router
}

// Run starts the HTTP server and blocks until it stops.
func (a *App) Run() error {
	a.log.Info("server starting", zap.String("address", a.cfg.Server.Address))
	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes connections.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.server.Shutdown(ctx); err != nil {
		return err
	}
	if err := database.Close(a.db); err != nil {
		a.log.Warn("database close", zap.Error(err))
	}
	if err := a.redis.Close(); err != nil {
		a.log.Warn("redis close", zap.Error(err))
	}
	return nil
}
