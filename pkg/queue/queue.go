package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/homeserve/marketplace/internal/models"
)

const (
	// QueueNotifications is the Redis list key for notification delivery jobs.
	QueueNotifications = "worker:notifications"
	// QueueInvoiceArchive is the Redis list key for invoice archive jobs.
	QueueInvoiceArchive = "worker:invoice_archive"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeNotification   JobType = "notification"
	JobTypeInvoiceArchive JobType = "invoice_archive"
)

// InvoiceArchivePayload asks the worker to render and upload an invoice document.
type InvoiceArchivePayload struct {
	InvoiceID     uuid.UUID `json:"invoice_id"`
	InvoiceNumber string    `json:"invoice_number"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// NewJob wraps payload in an envelope.
func NewJob(typ JobType, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// KeyFor returns the list a job type lives on.
func KeyFor(typ JobType) string {
	if typ == JobTypeInvoiceArchive {
		return QueueInvoiceArchive
	}
	return QueueNotifications
}

// EnqueueNotification enqueues a notification intent for delivery.
func (q *Queue) EnqueueNotification(ctx context.Context, intent models.NotificationIntent) error {
	job, err := NewJob(JobTypeNotification, intent)
	if err != nil {
		return err
	}
	if err := q.push(ctx, QueueNotifications, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued notification job", zap.String("job_id", job.ID), zap.String("kind", string(intent.Kind)))
	return nil
}

// EnqueueInvoiceArchive enqueues an invoice archive job.
func (q *Queue) EnqueueInvoiceArchive(ctx context.Context, payload InvoiceArchivePayload) error {
	job, err := NewJob(JobTypeInvoiceArchive, payload)
	if err != nil {
		return err
	}
	if err := q.push(ctx, QueueInvoiceArchive, job); err != nil {
		return err
	}
	q.logger.Debug("enqueued invoice archive job", zap.String("job_id", job.ID), zap.String("invoice_number", payload.InvoiceNumber))
	return nil
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for a job on any worker list. A nil job with nil error means nothing arrived.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, string, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueNotifications, QueueInvoiceArchive).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", nil
		}
		return nil, "", err
	}
	if len(result) < 2 {
		return nil, "", nil
	}
	job, err := DecodeJob([]byte(result[1]))
	if err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, "", nil
	}
	return job, result[0], nil
}

// DecodeJob parses a raw list entry.
func DecodeJob(raw []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, err
	}
	if job.Type == "" {
		return nil, errors.New("job type missing")
	}
	return &job, nil
}

// Retry re-enqueues a job on its own list with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		if err := q.push(ctx, QueueDLQ, job); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.push(ctx, KeyFor(job.Type), job); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
