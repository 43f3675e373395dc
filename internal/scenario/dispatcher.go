package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"coffeepay/internal/model"
	"coffeepay/internal/reconcile"
	"coffeepay/internal/service"
	"coffeepay/internal/usermsg"
)

type CredentialsSource interface {
	GetCredentials(ctx context.Context, merchantID string, scenario model.PaymentScenario) (*model.MerchantCredentials, error)
}

type DeviceSource interface {
	GetByDeviceUUID(ctx context.Context, deviceUUID string) (*model.Device, error)
}

type OrderUpdater interface {
	Update(ctx context.Context, id string, patch model.OrderPatch, expected ...model.OrderStatus) error
}

// ProviderFactory builds a payment integration from one credential record.
type ProviderFactory func(creds *model.MerchantCredentials, timeout time.Duration) service.PaymentProvider

// DefaultFactories wires the known payment scenarios.
func DefaultFactories(timeout time.Duration) map[model.PaymentScenario]ProviderFactory {
	return map[model.PaymentScenario]ProviderFactory{
		model.ScenarioKassa: func(creds *model.MerchantCredentials, timeout time.Duration) service.PaymentProvider {
			return service.NewKassaClient(creds, timeout)
		},
		model.ScenarioTBank: func(creds *model.MerchantCredentials, timeout time.Duration) service.PaymentProvider {
			return service.NewTBankClient(creds, timeout)
		},
	}
}

// Dispatcher selects the payment integration for a device's configured
// scenario, creates the payment, and moves the order from created to pending
// with its status_check_type frozen from the credential record.
type Dispatcher struct {
	creds     CredentialsSource
	devices   DeviceSource
	orders    OrderUpdater
	factories map[model.PaymentScenario]ProviderFactory

	baseURL           string
	providerTimeout   time.Duration
	fastTrackInterval time.Duration
	now               func() time.Time
}

func NewDispatcher(creds CredentialsSource, devices DeviceSource, orders OrderUpdater,
	factories map[model.PaymentScenario]ProviderFactory,
	baseURL string, providerTimeout, fastTrackInterval time.Duration) *Dispatcher {
	return &Dispatcher{
		creds:             creds,
		devices:           devices,
		orders:            orders,
		factories:         factories,
		baseURL:           baseURL,
		providerTimeout:   providerTimeout,
		fastTrackInterval: fastTrackInterval,
		now:               time.Now,
	}
}

// Dispatch returns the redirect target for the client. On any error after the
// order exists it is marked failed rather than left created, so callers never
// end up polling an order that was not actually submitted to a provider.
func (d *Dispatcher) Dispatch(ctx context.Context, device *model.Device, order *model.Order) (string, error) {
	if device.PaymentScenario == model.ScenarioCustom {
		return d.dispatchCustom(ctx, device, order)
	}

	factory, ok := d.factories[device.PaymentScenario]
	if !ok {
		err := fmt.Errorf("unknown payment scenario %q: %w", device.PaymentScenario, model.ErrMissingCredentials)
		d.markFailed(ctx, order, usermsg.MissingCredentials)
		return "", err
	}

	creds, err := d.creds.GetCredentials(ctx, order.MerchantID, device.PaymentScenario)
	if err != nil {
		// Configuration error, not transient: never retried.
		d.markFailed(ctx, order, usermsg.MissingCredentials)
		return "", fmt.Errorf("credentials for merchant %s scenario %s: %w", order.MerchantID, device.PaymentScenario, err)
	}

	provider := factory(creds, d.providerTimeout)
	payment, err := provider.CreatePayment(ctx, service.PaymentRequest{
		Amount:      order.Price,
		Description: "Оплата напитка: " + order.DrinkName,
		ReturnURL:   fmt.Sprintf("https://%s/v1/order-status-page?order_id=%s", d.baseURL, url.QueryEscape(order.ID)),
		Metadata: map[string]string{
			"order_id":     order.ID,
			"drink_number": order.DrinkID,
			"size":         strconv.Itoa(order.Size),
		},
	})
	if err != nil {
		d.markFailed(ctx, order, usermsg.PaymentCreationFailed)
		return "", fmt.Errorf("create payment for order %s: %w", order.ID, err)
	}

	now := d.now()
	pending := model.StatusPending
	patch := model.OrderPatch{
		Status:             &pending,
		StatusCheckType:    &creds.StatusCheckType,
		PaymentReferenceID: &payment.ReferenceID,
		PaymentStartedAt:   &now,
	}
	if creds.StatusCheckType == model.CheckPolling {
		next := now.Add(d.fastTrackInterval)
		patch.NextCheckAt = &next
	}
	if err := d.orders.Update(ctx, order.ID, patch, model.StatusCreated); err != nil {
		return "", fmt.Errorf("mark order %s pending: %w", order.ID, err)
	}

	slog.Info("order transition",
		"order_id", order.ID,
		"from", model.StatusCreated,
		"to", model.StatusPending,
		"trigger", "dispatch",
		"reason", "payment created with "+string(device.PaymentScenario),
	)
	return payment.RedirectURL, nil
}

// dispatchCustom redirects to an external payment page without involving a
// provider; the order stays created and is never reconciled automatically.
func (d *Dispatcher) dispatchCustom(ctx context.Context, device *model.Device, order *model.Order) (string, error) {
	if device.RedirectURL == "" {
		err := fmt.Errorf("redirect URL not configured for device %s: %w", device.DeviceUUID, model.ErrMissingCredentials)
		d.markFailed(ctx, order, usermsg.MissingCredentials)
		return "", err
	}

	target, err := url.Parse(device.RedirectURL)
	if err != nil {
		d.markFailed(ctx, order, usermsg.MissingCredentials)
		return "", fmt.Errorf("bad redirect URL for device %s: %w", device.DeviceUUID, err)
	}
	q := target.Query()
	q.Set("order_id", order.ID)
	q.Set("drink_name", order.DrinkName)
	q.Set("price", order.Price.StringFixed(2))
	q.Set("size", strconv.Itoa(order.Size))
	q.Set("device_uuid", device.DeviceUUID)
	q.Set("merchant_id", order.MerchantID)
	target.RawQuery = q.Encode()

	return target.String(), nil
}

func (d *Dispatcher) markFailed(ctx context.Context, order *model.Order, desc string) {
	failed := model.StatusFailed
	if err := d.orders.Update(ctx, order.ID, model.OrderPatch{
		Status:                 &failed,
		FailedPresentationDesc: &desc,
		ClearNextCheck:         true,
	}, model.StatusCreated); err != nil && !errors.Is(err, model.ErrStatusConflict) {
		slog.Error("failed to mark order failed", "order_id", order.ID, "error", err)
	}
}

// ProviderFor resolves the status-query integration for an in-flight order,
// satisfying the reconciler's resolver interface.
func (d *Dispatcher) ProviderFor(ctx context.Context, order *model.Order) (reconcile.StatusSource, error) {
	device, err := d.devices.GetByDeviceUUID(ctx, order.DeviceUUID)
	if err != nil {
		return nil, fmt.Errorf("device for order %s: %w", order.ID, err)
	}
	factory, ok := d.factories[device.PaymentScenario]
	if !ok {
		return nil, fmt.Errorf("scenario %q has no status integration: %w", device.PaymentScenario, model.ErrMissingCredentials)
	}
	creds, err := d.creds.GetCredentials(ctx, order.MerchantID, device.PaymentScenario)
	if err != nil {
		return nil, err
	}
	return factory(creds, d.providerTimeout), nil
}
