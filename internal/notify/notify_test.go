package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/homeserve/marketplace/internal/models"
)

type fakeQueue struct {
	got []models.NotificationIntent
	err error
}

func (f *fakeQueue) EnqueueNotification(_ context.Context, in models.NotificationIntent) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, in)
	return nil
}

func TestQueueSinkForwards(t *testing.T) {
	q := &fakeQueue{}
	sink := NewQueueSink(q, nil)
	in := models.NotificationIntent{Kind: models.NotificationRefundIssued, RecipientID: uuid.New()}

	assert.NoError(t, sink.Emit(context.Background(), in))
	assert.Equal(t, []models.NotificationIntent{in}, q.got)
}

func TestEmitAllSwallowsFailures(t *testing.T) {
	q := &fakeQueue{err: errors.New("redis down")}
	EmitAll(context.Background(), NewQueueSink(q, nil), zap.NewNop(),
		models.NotificationIntent{Kind: models.NotificationBookingConfirmed},
		models.NotificationIntent{Kind: models.NotificationBookingAccepted},
	)
	assert.Empty(t, q.got)
}

func TestMemorySinkKeepsOrder(t *testing.T) {
	s := NewMemorySink()
	EmitAll(context.Background(), s, zap.NewNop(),
		models.NotificationIntent{Kind: models.NotificationBookingConfirmed},
		models.NotificationIntent{Kind: models.NotificationPaymentReceived},
	)
	assert.Equal(t, []models.NotificationKind{models.NotificationBookingConfirmed, models.NotificationPaymentReceived}, s.Kinds())
}
