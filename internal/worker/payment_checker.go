package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"coffeepay/internal/model"
	"coffeepay/internal/reconcile"
)

type OrderSource interface {
	GetDueForCheck(ctx context.Context, now time.Time, limit int) ([]model.Order, error)
	MarkChecked(ctx context.Context, id string, now time.Time) (int, error)
}

type OrderReconciler interface {
	Reconcile(ctx context.Context, order *model.Order, trigger reconcile.Trigger) error
}

// PaymentChecker periodically picks up pending polling orders whose next
// check has come due and runs each through the shared reconciler.
type PaymentChecker struct {
	orders      OrderSource
	reconciler  OrderReconciler
	interval    time.Duration
	batchSize   int
	concurrency int
}

func NewPaymentChecker(orders OrderSource, reconciler OrderReconciler, interval time.Duration, batchSize, concurrency int) *PaymentChecker {
	return &PaymentChecker{
		orders:      orders,
		reconciler:  reconciler,
		interval:    interval,
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

func (w *PaymentChecker) Start(ctx context.Context) {
	slog.Info("starting payment checker", "interval", w.interval, "batch_size", w.batchSize)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("payment checker stopped")
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				slog.Error("batch processing failed", "error", err)
			}
		}
	}
}

func (w *PaymentChecker) processBatch(ctx context.Context) error {
	now := time.Now()
	orders, err := w.orders.GetDueForCheck(ctx, now, w.batchSize)
	if err != nil {
		return fmt.Errorf("get due orders: %w", err)
	}
	if len(orders) == 0 {
		return nil
	}
	slog.Info("checking pending orders", "count", len(orders))

	// In-flight checks run to completion even if the worker is being shut
	// down; only new batches stop. Orders stay independently resumable via
	// next_check_at, so a drained run leaves nothing dangling.
	opCtx := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	g.SetLimit(w.concurrency)
	for _, order := range orders {
		order := order
		g.Go(func() error {
			w.checkOrder(opCtx, order)
			return nil
		})
	}
	return g.Wait()
}

func (w *PaymentChecker) checkOrder(ctx context.Context, order model.Order) {
	now := time.Now()

	// Stamp bookkeeping before the provider query so a crash mid-check still
	// counts as an attempt, biasing toward eventual termination.
	attempts, err := w.orders.MarkChecked(ctx, order.ID, now)
	if err != nil {
		slog.Error("failed to stamp check attempt", "order_id", order.ID, "error", err)
		return
	}
	order.CheckAttempts = attempts
	order.LastCheckAt = &now

	if err := w.reconciler.Reconcile(ctx, &order, reconcile.TriggerPoll); err != nil {
		slog.Error("reconcile failed", "order_id", order.ID, "error", err)
	}
}
