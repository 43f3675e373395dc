package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"coffeepay/internal/model"
	"coffeepay/internal/service"
	"coffeepay/internal/usermsg"
)

// Trigger identifies which entry point drove a reconciliation pass. Both paths
// run the exact same logic; the trigger matters only for the
// waiting_for_capture policy and for the transition event.
type Trigger string

const (
	TriggerPoll    Trigger = "poll"
	TriggerWebhook Trigger = "webhook"
)

// Policy holds the time-based configuration for reconciliation.
type Policy struct {
	FastTrackLimit    time.Duration
	FastTrackInterval time.Duration
	SlowTrackInterval time.Duration
	AttemptsLimit     int
	ProviderTimeout   time.Duration
}

// OrderUpdater is the slice of the order store the reconciler writes through.
type OrderUpdater interface {
	Update(ctx context.Context, id string, patch model.OrderPatch, expected ...model.OrderStatus) error
}

// StatusSource answers payment status queries for one merchant's credentials.
type StatusSource interface {
	GetStatus(ctx context.Context, referenceID string) (service.ProviderStatus, error)
}

// ProviderResolver picks the payment integration for an order's merchant and
// scenario. A missing credential record must surface as
// model.ErrMissingCredentials.
type ProviderResolver interface {
	ProviderFor(ctx context.Context, order *model.Order) (StatusSource, error)
}

// Dispenser sends make commands to the drink machine.
type Dispenser interface {
	SendMakeCommand(ctx context.Context, cmd service.MakeCommand) error
}

// Reconciler drives an order toward a terminal outcome from the payment
// provider's view of its payment. It is shared verbatim by the background
// scheduler and the webhook handler so the two trigger sources can never
// diverge in how they interpret the same provider status.
type Reconciler struct {
	orders    OrderUpdater
	providers ProviderResolver
	dispenser Dispenser
	policy    Policy
	now       func() time.Time
}

func NewReconciler(orders OrderUpdater, providers ProviderResolver, dispenser Dispenser, policy Policy) *Reconciler {
	return &Reconciler{
		orders:    orders,
		providers: providers,
		dispenser: dispenser,
		policy:    policy,
		now:       time.Now,
	}
}

// Reconcile queries the provider for the order's payment status and applies
// the resulting transition. Transient provider failures are absorbed into the
// retry bookkeeping and never returned. model.ErrOrderExpired is returned for
// orders past their deadline, without mutation, so the webhook handler can
// reject the delivery as a client error.
func (r *Reconciler) Reconcile(ctx context.Context, order *model.Order, trigger Trigger) error {
	if order.Status.IsTerminal() {
		slog.Info("reconcile skipped: order already terminal",
			"order_id", order.ID, "status", order.Status, "trigger", trigger)
		return nil
	}

	if order.StatusCheckType == model.CheckNone || order.PaymentReferenceID == "" {
		slog.Info("reconcile skipped: automated status checking not supported",
			"order_id", order.ID, "status_check_type", order.StatusCheckType, "trigger", trigger)
		return nil
	}

	now := r.now()
	if order.IsExpired(now) {
		return fmt.Errorf("order %s: %w", order.ID, model.ErrOrderExpired)
	}

	provider, err := r.providers.ProviderFor(ctx, order)
	if err != nil {
		if errors.Is(err, model.ErrMissingCredentials) {
			// Configuration error is not retriable; give the order up now.
			return r.apply(ctx, order, trigger, decision{
				newStatus:      model.StatusFailed,
				clearNextCheck: true,
				failedDesc:     usermsg.MissingCredentials,
				reason:         "missing provider credentials",
			})
		}
		return fmt.Errorf("resolve provider for order %s: %w", order.ID, err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, r.policy.ProviderTimeout)
	status, err := provider.GetStatus(queryCtx, order.PaymentReferenceID)
	cancel()
	if err != nil {
		return r.handleCheckError(ctx, order, trigger, err)
	}

	d := decide(order, status, trigger, now, r.policy)
	return r.apply(ctx, order, trigger, d)
}

// handleCheckError is the bounded-retry path for provider query failures. The
// order status is left untouched until the attempt budget runs out; only the
// bookkeeping advances. The policy is the same no matter which trigger source
// hit the failure.
func (r *Reconciler) handleCheckError(ctx context.Context, order *model.Order, trigger Trigger, cause error) error {
	slog.Warn("payment status check failed",
		"order_id", order.ID, "trigger", trigger, "check_attempts", order.CheckAttempts, "error", cause)

	if order.CheckAttempts <= r.policy.AttemptsLimit {
		d := decision{reason: "provider query failed, retry scheduled"}
		if order.StatusCheckType == model.CheckPolling {
			next := r.now().Add(r.policy.FastTrackInterval)
			d.nextCheckAt = &next
		}
		return r.apply(ctx, order, trigger, d)
	}

	return r.apply(ctx, order, trigger, decision{
		newStatus:      model.StatusFailed,
		clearNextCheck: true,
		failedDesc:     usermsg.CheckExhausted,
		reason:         "retry attempts exhausted",
	})
}

// apply performs the state write for a decision, conditioned on the order
// still being pending, and the dispense side effect when one is called for.
// A status conflict means another actor already applied a transition; the
// write is abandoned rather than repeated.
func (r *Reconciler) apply(ctx context.Context, order *model.Order, trigger Trigger, d decision) error {
	patch := model.OrderPatch{ClearNextCheck: d.clearNextCheck}
	if d.newStatus != "" {
		patch.Status = &d.newStatus
	}
	if d.nextCheckAt != nil {
		patch.NextCheckAt = d.nextCheckAt
	}
	if d.failedDesc != "" {
		patch.FailedPresentationDesc = &d.failedDesc
	}

	if patch.Status == nil && patch.NextCheckAt == nil && !patch.ClearNextCheck && patch.FailedPresentationDesc == nil {
		slog.Info("order unchanged", "order_id", order.ID, "trigger", trigger, "reason", d.reason)
		return nil
	}

	if err := r.orders.Update(ctx, order.ID, patch, model.StatusPending); err != nil {
		if errors.Is(err, model.ErrStatusConflict) {
			slog.Info("order transition abandoned: concurrent update",
				"order_id", order.ID, "trigger", trigger, "reason", d.reason)
			return nil
		}
		return fmt.Errorf("update order %s: %w", order.ID, err)
	}

	newStatus := order.Status
	if d.newStatus != "" {
		newStatus = d.newStatus
	}
	r.emitTransition(order, newStatus, trigger, d.reason)

	if !d.dispense {
		order.Status = newStatus
		return nil
	}
	order.Status = newStatus
	return r.dispense(ctx, order, trigger)
}

// dispense sends the make command for a freshly paid fast-track order. A
// failure is terminal: the order moves to make_failed with a user-facing
// description and is never rolled back to paid or retried.
func (r *Reconciler) dispense(ctx context.Context, order *model.Order, trigger Trigger) error {
	cmd := service.MakeCommand{
		DeviceID:   order.DeviceUUID,
		OrderID:    order.ID,
		DrinkID:    order.DrinkID,
		Size:       model.SizeLabel(order.Size),
		PriceMinor: order.Price.Mul(minorUnits).IntPart(),
	}

	if err := r.dispenser.SendMakeCommand(ctx, cmd); err != nil {
		slog.Error("make command failed", "order_id", order.ID, "error", err)
		failed := model.StatusMakeFailed
		desc := usermsg.MakeCommandFailed
		if uerr := r.orders.Update(ctx, order.ID, model.OrderPatch{
			Status:                 &failed,
			FailedPresentationDesc: &desc,
			ClearNextCheck:         true,
		}, model.StatusPaid); uerr != nil && !errors.Is(uerr, model.ErrStatusConflict) {
			return fmt.Errorf("mark order %s make_failed: %w", order.ID, uerr)
		}
		r.emitTransition(order, failed, trigger, "dispense command failed")
		order.Status = failed
		return nil
	}

	making := model.StatusMakePending
	if err := r.orders.Update(ctx, order.ID, model.OrderPatch{Status: &making, ClearNextCheck: true}, model.StatusPaid); err != nil {
		if errors.Is(err, model.ErrStatusConflict) {
			return nil
		}
		return fmt.Errorf("mark order %s make_pending: %w", order.ID, err)
	}
	r.emitTransition(order, making, trigger, "make command sent")
	order.Status = making
	return nil
}

// emitTransition is the single structured-event emission point for state
// changes: old status, new status, trigger source, reason.
func (r *Reconciler) emitTransition(order *model.Order, to model.OrderStatus, trigger Trigger, reason string) {
	slog.Info("order transition",
		"order_id", order.ID,
		"from", order.Status,
		"to", to,
		"trigger", trigger,
		"reason", reason,
	)
}
