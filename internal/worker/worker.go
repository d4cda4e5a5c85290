// Package worker runs the background side of the marketplace: queued notification delivery,
// invoice archival, and the periodic reminder and overdue sweeps.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/homeserve/marketplace/internal/invoices"
	"github.com/homeserve/marketplace/internal/models"
	"github.com/homeserve/marketplace/internal/pricing"
	"github.com/homeserve/marketplace/pkg/queue"
)

// JobQueue is the consuming side of pkg/queue.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor handles one job type.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
}

// Deliverer hands a notification to the outside world (email, SMS, push).
type Deliverer interface {
	Deliver(ctx context.Context, intent models.NotificationIntent) error
}

// LogRecorder persists delivery records.
type LogRecorder interface {
	Record(ctx context.Context, l *models.NotificationLog) error
}

// LogDeliverer writes notifications to the log. Used until a real channel is configured.
type LogDeliverer struct {
	Logger *zap.Logger
}

// Deliver logs the intent.
func (d LogDeliverer) Deliver(_ context.Context, intent models.NotificationIntent) error {
	d.Logger.Info("notification delivered",
		zap.String("kind", string(intent.Kind)),
		zap.String("recipient_id", intent.RecipientID.String()),
		zap.String("recipient_role", string(intent.RecipientRole)),
		zap.String("subject", intent.Subject),
	)
	return nil
}

// NotificationProcessor delivers queued notification intents and records each attempt.
type NotificationProcessor struct {
	deliverer Deliverer
	logs      LogRecorder
	logger    *zap.Logger
}

// NewNotificationProcessor creates a notification processor. logs may be nil.
func NewNotificationProcessor(d Deliverer, logs LogRecorder, logger *zap.Logger) *NotificationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{deliverer: d, logs: logs, logger: logger}
}

// Process executes one notification job.
func (p *NotificationProcessor) Process(ctx context.Context, job *queue.Job) error {
	var intent models.NotificationIntent
	if err := json.Unmarshal(job.Payload, &intent); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	entry := &models.NotificationLog{
		Kind:          intent.Kind,
		RecipientID:   intent.RecipientID,
		RecipientRole: intent.RecipientRole,
		OrderID:       intent.OrderID,
		Subject:       intent.Subject,
		Status:        models.NotificationLogStatusSent,
	}
	deliverErr := p.deliverer.Deliver(ctx, intent)
	if deliverErr != nil {
		entry.Status = models.NotificationLogStatusFailed
		entry.ErrorMessage = deliverErr.Error()
	}
	if p.logs != nil {
		if err := p.logs.Record(ctx, entry); err != nil {
			p.logger.Error("record notification log failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if deliverErr != nil {
		return fmt.Errorf("deliver %s: %w", intent.Kind, deliverErr)
	}
	return nil
}

// InvoiceSource loads invoices for archival.
type InvoiceSource interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
}

// Uploader stores rendered invoice documents.
type Uploader interface {
	UploadInvoice(ctx context.Context, key string, body []byte, contentType string) error
}

// InvoiceArchiver renders sent invoices and uploads them to object storage.
type InvoiceArchiver struct {
	invoices InvoiceSource
	pricing  *pricing.Resolver
	uploader Uploader
	logger   *zap.Logger
}

// NewInvoiceArchiver creates an invoice archive processor.
func NewInvoiceArchiver(src InvoiceSource, r *pricing.Resolver, up Uploader, logger *zap.Logger) *InvoiceArchiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceArchiver{invoices: src, pricing: r, uploader: up, logger: logger}
}

// Process executes one invoice archive job.
func (a *InvoiceArchiver) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.InvoiceArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	inv, err := a.invoices.Get(ctx, payload.InvoiceID)
	if err != nil {
		return fmt.Errorf("load invoice %s: %w", payload.InvoiceNumber, err)
	}
	body, err := invoices.Render(a.pricing, inv)
	if err != nil {
		return fmt.Errorf("render invoice %s: %w", inv.InvoiceNumber, err)
	}
	key := invoices.ArchiveKey(inv)
	if err := a.uploader.UploadInvoice(ctx, key, body, invoices.DocumentContentType); err != nil {
		return err
	}
	a.logger.Info("invoice archived", zap.String("invoice_number", inv.InvoiceNumber), zap.String("s3_key", key))
	return nil
}

// Runner pulls jobs off the queue and routes them by type.
type Runner struct {
	queue      JobQueue
	processors map[queue.JobType]Processor
	logger     *zap.Logger
	poll       time.Duration
	backoff    time.Duration
}

// NewRunner creates a queue runner.
func NewRunner(q JobQueue, processors map[queue.JobType]Processor, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{queue: q, processors: processors, logger: logger, poll: 5 * time.Second, backoff: queue.RetryBackoff}
}

// handle processes one job. Failures and unroutable jobs go back through Retry, which dead-letters them eventually.
func (r *Runner) handle(ctx context.Context, job *queue.Job) error {
	p, ok := r.processors[job.Type]
	if !ok {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	return p.Process(ctx, job)
}

// Run starts the worker loop: dequeue, process, retry on error.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("queue worker stopping")
			return
		default:
		}

		job, _, err := r.queue.Dequeue(ctx, r.poll)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			r.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, r.backoff)
			continue
		}
		if job == nil {
			continue
		}

		r.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := r.handle(ctx, job); err != nil {
			r.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := r.queue.Retry(ctx, job); reErr != nil {
				r.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			sleep(ctx, r.backoff)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
