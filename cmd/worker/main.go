// Package main runs the background worker: notification delivery, invoice archival,
// booking reminders and the overdue-invoice sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/homeserve/marketplace/config"
	"github.com/homeserve/marketplace/internal/booking"
	"github.com/homeserve/marketplace/internal/coupons"
	"github.com/homeserve/marketplace/internal/invoices"
	"github.com/homeserve/marketplace/internal/notify"
	"github.com/homeserve/marketplace/internal/pricing"
	"github.com/homeserve/marketplace/internal/recurrence"
	"github.com/homeserve/marketplace/internal/store/postgres"
	"github.com/homeserve/marketplace/internal/worker"
	"github.com/homeserve/marketplace/pkg/database"
	"github.com/homeserve/marketplace/pkg/queue"
	"github.com/homeserve/marketplace/pkg/redis"
	"github.com/homeserve/marketplace/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Engine.StoreDriver != config.StoreDriverPostgres {
		logger.Fatal("worker requires the postgres store", zap.String("store", cfg.Engine.StoreDriver))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolConfig{MaxConns: cfg.Database.MaxConns}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	st := postgres.New(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	notifier := notify.NewQueueSink(jobQueue, logger)
	resolver := pricing.NewResolver(cfg.Pricing.DefaultCountry)

	invoiceGen := invoices.NewGenerator(invoices.Options{
		Store:    st,
		Pricing:  resolver,
		Notifier: notifier,
		Archiver: jobQueue,
		Logger:   logger,
		NetDays:  cfg.Invoice.NetDays,
	})
	orchestrator := booking.NewOrchestrator(booking.Options{
		Store:       st,
		Pricing:     resolver,
		Coupons:     coupons.NewValidator(st, logger),
		Expander:    recurrence.NewExpander(cfg.Booking.HorizonMonths, cfg.Booking.MaxOccurrences),
		Invoices:    invoiceGen,
		Notifier:    notifier,
		Logger:      logger,
		PlatformFee: cfg.Pricing.PlatformFee,
		Timeout:     cfg.Engine.Timeout(),
	})

	processors := map[queue.JobType]worker.Processor{
		queue.JobTypeNotification: worker.NewNotificationProcessor(
			worker.LogDeliverer{Logger: logger}, postgres.NewNotificationLogs(pool), logger),
	}
	if cfg.AWS.InvoiceBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			InvoiceBucket:        cfg.AWS.InvoiceBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		processors[queue.JobTypeInvoiceArchive] = worker.NewInvoiceArchiver(invoiceGen, resolver, s3Client, logger)
	} else {
		logger.Warn("AWS_S3_INVOICE_BUCKET not set; invoice archive jobs will be dead-lettered")
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	run := func(fn func(ctx context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(workerCtx)
		}()
	}

	run(worker.NewRunner(jobQueue, processors, logger).Run)
	run(func(ctx context.Context) {
		worker.RunSweep(ctx, worker.ReminderSweep(orchestrator,
			time.Duration(cfg.Worker.ReminderIntervalSec)*time.Second, cfg.Booking.ReminderLead()), nil, logger)
	})
	run(func(ctx context.Context) {
		worker.RunSweep(ctx, worker.OverdueSweep(invoiceGen,
			time.Duration(cfg.Worker.OverdueIntervalSec)*time.Second), nil, logger)
	})
	logger.Info("worker started", zap.Int("processors", len(processors)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
