package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffeepay/internal/model"
	"coffeepay/internal/reconcile"
)

type fakeSource struct {
	mu       sync.Mutex
	due      []model.Order
	attempts map[string]int
	stamped  []string
}

func (f *fakeSource) GetDueForCheck(context.Context, time.Time, int) ([]model.Order, error) {
	return f.due, nil
}

func (f *fakeSource) MarkChecked(_ context.Context, id string, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[id]++
	f.stamped = append(f.stamped, id)
	return f.attempts[id], nil
}

type fakeReconciler struct {
	mu    sync.Mutex
	seen  []model.Order
	calls int
}

func (f *fakeReconciler) Reconcile(_ context.Context, order *model.Order, trigger reconcile.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.seen = append(f.seen, *order)
	return nil
}

func TestProcessBatchStampsBeforeReconcile(t *testing.T) {
	source := &fakeSource{
		due: []model.Order{
			{ID: "order-1", Status: model.StatusPending, CheckAttempts: 0},
			{ID: "order-2", Status: model.StatusPending, CheckAttempts: 4},
		},
		attempts: map[string]int{"order-2": 4},
	}
	rec := &fakeReconciler{}
	w := NewPaymentChecker(source, rec, time.Second, 20, 2)

	require.NoError(t, w.processBatch(context.Background()))

	assert.ElementsMatch(t, []string{"order-1", "order-2"}, source.stamped)
	assert.Equal(t, 2, rec.calls)

	// The reconciler sees the preemptively incremented attempt count.
	byID := map[string]model.Order{}
	for _, o := range rec.seen {
		byID[o.ID] = o
	}
	assert.Equal(t, 1, byID["order-1"].CheckAttempts)
	assert.Equal(t, 5, byID["order-2"].CheckAttempts)
	assert.NotNil(t, byID["order-1"].LastCheckAt)
}

func TestProcessBatchEmpty(t *testing.T) {
	source := &fakeSource{}
	rec := &fakeReconciler{}
	w := NewPaymentChecker(source, rec, time.Second, 20, 2)

	require.NoError(t, w.processBatch(context.Background()))
	assert.Zero(t, rec.calls)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	source := &fakeSource{}
	rec := &fakeReconciler{}
	w := NewPaymentChecker(source, rec, 5*time.Millisecond, 20, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
