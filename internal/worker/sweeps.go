package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ReminderDispatcher is satisfied by booking.Orchestrator.
type ReminderDispatcher interface {
	DispatchReminders(ctx context.Context, now time.Time, lead time.Duration) (int, error)
}

// OverdueMarker is satisfied by invoices.Generator.
type OverdueMarker interface {
	MarkOverdue(ctx context.Context, now time.Time) (int, error)
}

// Sweep is one periodic task.
type Sweep struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) (int, error)
}

// ReminderSweep sends booking reminders for orders scheduled within lead.
func ReminderSweep(d ReminderDispatcher, interval, lead time.Duration) Sweep {
	return Sweep{
		Name:     "reminders",
		Interval: interval,
		Run: func(ctx context.Context, now time.Time) (int, error) {
			return d.DispatchReminders(ctx, now, lead)
		},
	}
}

// OverdueSweep marks unpaid sent invoices past their due date as overdue.
func OverdueSweep(m OverdueMarker, interval time.Duration) Sweep {
	return Sweep{Name: "overdue_invoices", Interval: interval, Run: m.MarkOverdue}
}

// RunSweep runs s once immediately and then on every tick until ctx is done.
func RunSweep(ctx context.Context, s Sweep, now func() time.Time, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	if s.Interval <= 0 {
		logger.Error("sweep not started: interval must be positive", zap.String("sweep", s.Name), zap.Duration("interval", s.Interval))
		return
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		n, err := s.Run(ctx, now().UTC())
		switch {
		case err != nil:
			logger.Error("sweep failed", zap.String("sweep", s.Name), zap.Error(err))
		case n > 0:
			logger.Info("sweep done", zap.String("sweep", s.Name), zap.Int("affected", n))
		}

		select {
		case <-ctx.Done():
			logger.Info("sweep stopping", zap.String("sweep", s.Name))
			return
		case <-ticker.C:
		}
	}
}
