// Package main runs the booking and payments HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/homeserve/marketplace/config"
	"github.com/homeserve/marketplace/internal/auth"
	"github.com/homeserve/marketplace/internal/booking"
	"github.com/homeserve/marketplace/internal/coupons"
	"github.com/homeserve/marketplace/internal/gateway"
	"github.com/homeserve/marketplace/internal/invoices"
	"github.com/homeserve/marketplace/internal/middleware"
	"github.com/homeserve/marketplace/internal/notify"
	"github.com/homeserve/marketplace/internal/payments"
	"github.com/homeserve/marketplace/internal/pricing"
	"github.com/homeserve/marketplace/internal/recurrence"
	"github.com/homeserve/marketplace/internal/store"
	"github.com/homeserve/marketplace/internal/store/memory"
	"github.com/homeserve/marketplace/internal/store/postgres"
	"github.com/homeserve/marketplace/pkg/database"
	"github.com/homeserve/marketplace/pkg/queue"
	"github.com/homeserve/marketplace/pkg/redis"
	"github.com/homeserve/marketplace/pkg/response"
	"github.com/homeserve/marketplace/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	var (
		st   store.Store
		pool *pgxpool.Pool
	)
	switch cfg.Engine.StoreDriver {
	case config.StoreDriverMemory:
		st = memory.New()
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		pool, err = database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolConfig{MaxConns: cfg.Database.MaxConns}, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		st = postgres.New(pool)
	}

	// Notifications and invoice archiving go through Redis. The memory driver runs without it.
	var (
		rdb      *redis.Client
		notifier notify.Sink = notify.Nop{}
		archiver invoices.Archiver
	)
	rdb, err = redis.NewClient(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	switch {
	case err == nil:
		defer rdb.Close()
		jobQueue := queue.NewQueue(rdb.Client, logger)
		notifier = notify.NewQueueSink(jobQueue, logger)
		archiver = jobQueue
	case cfg.Engine.StoreDriver == config.StoreDriverMemory:
		logger.Warn("redis unavailable; notifications are dropped", zap.Error(err))
	default:
		logger.Fatal("redis", zap.Error(err))
	}

	var linker invoices.DocumentLinker
	if cfg.AWS.InvoiceBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			InvoiceBucket:        cfg.AWS.InvoiceBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			linker = s3Client
		}
	}

	resolver := pricing.NewResolver(cfg.Pricing.DefaultCountry)
	couponValidator := coupons.NewValidator(st, logger)

	invoiceGen := invoices.NewGenerator(invoices.Options{
		Store:    st,
		Pricing:  resolver,
		Notifier: notifier,
		Archiver: archiver,
		Logger:   logger,
		NetDays:  cfg.Invoice.NetDays,
	})

	orchestrator := booking.NewOrchestrator(booking.Options{
		Store:       st,
		Pricing:     resolver,
		Coupons:     couponValidator,
		Expander:    recurrence.NewExpander(cfg.Booking.HorizonMonths, cfg.Booking.MaxOccurrences),
		Invoices:    invoiceGen,
		Notifier:    notifier,
		Logger:      logger,
		PlatformFee: cfg.Pricing.PlatformFee,
		Timeout:     cfg.Engine.Timeout(),
	})

	reconciler := payments.NewReconciler(payments.Options{
		Store:    st,
		Invoices: invoiceGen,
		Gateway:  newGateway(cfg.Payments, logger),
		Notifier: notifier,
		Logger:   logger,
		Timeout:  cfg.Engine.Timeout(),
	})

	validator := auth.NewValidator(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpireHours)*time.Hour)

	bookingHandler := booking.NewHandler(orchestrator)
	paymentsHandler := payments.NewHandler(reconciler, invoiceGen)
	invoiceHandler := invoices.NewHandler(invoiceGen, linker)
	couponHandler := coupons.NewHandler(couponValidator)
	pricingHandler := pricing.NewHandler(resolver, st, couponValidator, cfg.Pricing.PlatformFee)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		deps := gin.H{"store": cfg.Engine.StoreDriver}
		if pool != nil {
			if err := pool.Ping(c.Request.Context()); err != nil {
				response.ServiceUnavailable(c, "database unavailable")
				return
			}
		}
		if rdb != nil {
			if err := rdb.Healthy(c.Request.Context()); err != nil {
				response.ServiceUnavailable(c, "redis unavailable")
				return
			}
			deps["queue"] = "redis"
		}
		response.OK(c, gin.H{"status": "ok", "deps": deps})
	})

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(validator))
	{
		customerOrAdmin := middleware.RequireRole(middleware.RoleCustomer, middleware.RoleAdmin)
		providerOrAdmin := middleware.RequireRole(middleware.RoleProvider, middleware.RoleAdmin)
		adminOnly := middleware.RequireRole(middleware.RoleAdmin)

		// Bookings
		api.POST("/bookings", customerOrAdmin, bookingHandler.Create)
		api.GET("/bookings", bookingHandler.List)
		api.GET("/bookings/series/:seriesId", bookingHandler.ListSeries)
		api.GET("/bookings/:id", bookingHandler.Get)
		api.POST("/bookings/:id/accept", providerOrAdmin, bookingHandler.Accept)
		api.POST("/bookings/:id/start", providerOrAdmin, bookingHandler.Start)
		api.POST("/bookings/:id/complete", providerOrAdmin, bookingHandler.Complete)
		api.POST("/bookings/:id/cancel", bookingHandler.Cancel)
		api.POST("/bookings/:id/reschedule", customerOrAdmin, bookingHandler.Reschedule)

		// Payments
		api.POST("/orders/:id/payments", adminOnly, paymentsHandler.RecordPayment)
		api.POST("/orders/:id/refunds", adminOnly, paymentsHandler.RecordRefund)
		api.POST("/orders/:id/charge", customerOrAdmin, paymentsHandler.Charge)
		api.GET("/orders/:id/transactions", paymentsHandler.ListTransactions)

		// Invoices
		api.POST("/orders/:id/invoice", adminOnly, invoiceHandler.CreateForOrder)
		api.GET("/invoices/:id", invoiceHandler.Get)
		api.GET("/invoices/:id/document", invoiceHandler.Document)
		api.POST("/invoices/:id/send", adminOnly, invoiceHandler.Send)
		api.POST("/invoices/:id/cancel", adminOnly, invoiceHandler.Cancel)
		api.POST("/invoices/:id/payments", adminOnly, paymentsHandler.PayInvoice)

		// Coupons
		api.POST("/admin/coupons", adminOnly, couponHandler.Create)
		api.GET("/coupons/:code", couponHandler.Preview)

		// Pricing
		api.GET("/pricing/regions", pricingHandler.Regions)
		api.GET("/pricing/regions/:country", pricingHandler.Region)
		api.GET("/pricing/quote", pricingHandler.Quote)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Engine.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// newGateway registers cash plus every configured external provider.
func newGateway(pc config.PaymentsConfig, logger *zap.Logger) *gateway.Gateway {
	hc := &http.Client{Timeout: time.Duration(pc.HTTPTimeoutSec) * time.Second}
	providers := []gateway.Provider{gateway.NewCashProvider()}
	for typ, p := range map[gateway.ProviderType]config.ProviderConfig{
		gateway.ProviderCard:   pc.Card,
		gateway.ProviderStcPay: pc.StcPay,
		gateway.ProviderUrpay:  pc.URPay,
	} {
		if p.Enabled() {
			providers = append(providers, gateway.NewHTTPProvider(typ, p.BaseURL, p.APIKey, hc, logger))
		}
	}
	return gateway.New(logger, providers...)
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
