// Package notify carries notification intents out of the engine.
// The engine decides what to send and to whom; delivery happens elsewhere.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/homeserve/marketplace/internal/models"
)

// Sink receives notification intents after the owning transaction has committed.
type Sink interface {
	Emit(ctx context.Context, intent models.NotificationIntent) error
}

// Enqueuer is the slice of pkg/queue used by QueueSink.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, intent models.NotificationIntent) error
}

// QueueSink hands intents to the Redis job queue.
type QueueSink struct {
	q      Enqueuer
	logger *zap.Logger
}

// NewQueueSink creates a sink backed by q.
func NewQueueSink(q Enqueuer, logger *zap.Logger) *QueueSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueSink{q: q, logger: logger}
}

// Emit implements Sink.
func (s *QueueSink) Emit(ctx context.Context, intent models.NotificationIntent) error {
	if err := s.q.EnqueueNotification(ctx, intent); err != nil {
		s.logger.Error("enqueue notification", zap.String("kind", string(intent.Kind)), zap.Error(err))
		return err
	}
	return nil
}

// MemorySink records intents in order. Safe for concurrent use.
type MemorySink struct {
	mu      sync.Mutex
	intents []models.NotificationIntent
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Emit implements Sink.
func (s *MemorySink) Emit(_ context.Context, intent models.NotificationIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, intent)
	return nil
}

// Intents returns a copy of everything emitted so far.
func (s *MemorySink) Intents() []models.NotificationIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.NotificationIntent(nil), s.intents...)
}

// Kinds returns the kinds emitted so far, in order.
func (s *MemorySink) Kinds() []models.NotificationKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.NotificationKind, len(s.intents))
	for i, in := range s.intents {
		out[i] = in.Kind
	}
	return out
}

// Nop discards every intent.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(context.Context, models.NotificationIntent) error { return nil }

// EmitAll sends intents to sink. Delivery failures are logged, never returned:
// the business operation has already committed.
func EmitAll(ctx context.Context, sink Sink, logger *zap.Logger, intents ...models.NotificationIntent) {
	for _, in := range intents {
		if err := sink.Emit(ctx, in); err != nil {
			logger.Warn("notification not emitted",
				zap.String("kind", string(in.Kind)),
				zap.String("recipient_id", in.RecipientID.String()),
				zap.Error(err),
			)
		}
	}
}
