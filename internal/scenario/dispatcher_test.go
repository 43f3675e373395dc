package scenario

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coffeepay/internal/model"
	"coffeepay/internal/service"
	"coffeepay/internal/usermsg"
)

type fakeCreds struct {
	creds *model.MerchantCredentials
	err   error
}

func (f *fakeCreds) GetCredentials(context.Context, string, model.PaymentScenario) (*model.MerchantCredentials, error) {
	return f.creds, f.err
}

type fakeDevices struct {
	device *model.Device
}

func (f *fakeDevices) GetByDeviceUUID(context.Context, string) (*model.Device, error) {
	return f.device, nil
}

type fakeOrders struct {
	order   *model.Order
	patches []model.OrderPatch
}

func (f *fakeOrders) Update(_ context.Context, _ string, patch model.OrderPatch, expected ...model.OrderStatus) error {
	for _, st := range expected {
		if f.order.Status != st {
			return model.ErrStatusConflict
		}
	}
	f.patches = append(f.patches, patch)
	if patch.Status != nil {
		f.order.Status = *patch.Status
	}
	if patch.StatusCheckType != nil {
		f.order.StatusCheckType = *patch.StatusCheckType
	}
	if patch.FailedPresentationDesc != nil {
		f.order.FailedPresentationDesc = *patch.FailedPresentationDesc
	}
	return nil
}

type fakeProvider struct {
	payment   *service.CreatedPayment
	createErr error
	requests  []service.PaymentRequest
}

func (p *fakeProvider) CreatePayment(_ context.Context, req service.PaymentRequest) (*service.CreatedPayment, error) {
	p.requests = append(p.requests, req)
	if p.createErr != nil {
		return nil, p.createErr
	}
	return p.payment, nil
}

func (p *fakeProvider) GetStatus(context.Context, string) (service.ProviderStatus, error) {
	return service.ProviderPending, nil
}

func newTestDispatcher(creds *fakeCreds, orders *fakeOrders, provider *fakeProvider, now time.Time) *Dispatcher {
	factories := map[model.PaymentScenario]ProviderFactory{
		model.ScenarioKassa: func(*model.MerchantCredentials, time.Duration) service.PaymentProvider {
			return provider
		},
	}
	d := NewDispatcher(creds, &fakeDevices{}, orders, factories, "pay.example.com", time.Second, 10*time.Second)
	d.now = func() time.Time { return now }
	return d
}

func createdOrder() *model.Order {
	return &model.Order{
		ID:         "order-1",
		DeviceUUID: "device-1",
		MerchantID: "m-1",
		DrinkID:    "drink-1",
		DrinkName:  "Капучино",
		Size:       2,
		Price:      decimal.NewFromInt(150),
		Status:     model.StatusCreated,
	}
}

var kassaDevice = &model.Device{DeviceUUID: "device-1", MerchantID: "m-1", PaymentScenario: model.ScenarioKassa}

func TestDispatchCreatesPaymentAndFreezesOrder(t *testing.T) {
	now := time.Now()
	order := createdOrder()
	orders := &fakeOrders{order: order}
	creds := &fakeCreds{creds: &model.MerchantCredentials{
		MerchantID: "m-1", Scenario: model.ScenarioKassa, StatusCheckType: model.CheckPolling,
	}}
	provider := &fakeProvider{payment: &service.CreatedPayment{ReferenceID: "ref-1", RedirectURL: "https://pay.example/p/1"}}
	d := newTestDispatcher(creds, orders, provider, now)

	redirect, err := d.Dispatch(context.Background(), kassaDevice, order)

	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/p/1", redirect)

	require.Len(t, orders.patches, 1)
	patch := orders.patches[0]
	require.NotNil(t, patch.Status)
	assert.Equal(t, model.StatusPending, *patch.Status)
	require.NotNil(t, patch.StatusCheckType)
	assert.Equal(t, model.CheckPolling, *patch.StatusCheckType)
	require.NotNil(t, patch.PaymentReferenceID)
	assert.Equal(t, "ref-1", *patch.PaymentReferenceID)
	require.NotNil(t, patch.PaymentStartedAt)
	assert.Equal(t, now, *patch.PaymentStartedAt)
	require.NotNil(t, patch.NextCheckAt)
	assert.Equal(t, now.Add(10*time.Second), *patch.NextCheckAt)

	require.Len(t, provider.requests, 1)
	req := provider.requests[0]
	assert.True(t, req.Amount.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, "order-1", req.Metadata["order_id"])
	assert.Contains(t, req.ReturnURL, "pay.example.com/v1/order-status-page?order_id=order-1")
}

func TestDispatchWebhookTypeGetsNoNextCheck(t *testing.T) {
	now := time.Now()
	order := createdOrder()
	orders := &fakeOrders{order: order}
	creds := &fakeCreds{creds: &model.MerchantCredentials{StatusCheckType: model.CheckWebhook}}
	provider := &fakeProvider{payment: &service.CreatedPayment{ReferenceID: "ref-1", RedirectURL: "u"}}
	d := newTestDispatcher(creds, orders, provider, now)

	_, err := d.Dispatch(context.Background(), kassaDevice, order)

	require.NoError(t, err)
	require.Len(t, orders.patches, 1)
	assert.Nil(t, orders.patches[0].NextCheckAt)
}

func TestDispatchMissingCredentials(t *testing.T) {
	order := createdOrder()
	orders := &fakeOrders{order: order}
	d := newTestDispatcher(&fakeCreds{err: model.ErrMissingCredentials}, orders, &fakeProvider{}, time.Now())

	_, err := d.Dispatch(context.Background(), kassaDevice, order)

	require.ErrorIs(t, err, model.ErrMissingCredentials)
	assert.Equal(t, model.StatusFailed, order.Status, "configuration errors are not retried")
	assert.Equal(t, usermsg.MissingCredentials, order.FailedPresentationDesc)
}

func TestDispatchUnknownScenario(t *testing.T) {
	order := createdOrder()
	orders := &fakeOrders{order: order}
	d := newTestDispatcher(&fakeCreds{}, orders, &fakeProvider{}, time.Now())

	device := &model.Device{DeviceUUID: "device-1", PaymentScenario: "Bogus"}
	_, err := d.Dispatch(context.Background(), device, order)

	require.ErrorIs(t, err, model.ErrMissingCredentials)
	assert.Equal(t, model.StatusFailed, order.Status)
}

func TestDispatchProviderErrorMarksFailed(t *testing.T) {
	order := createdOrder()
	orders := &fakeOrders{order: order}
	creds := &fakeCreds{creds: &model.MerchantCredentials{StatusCheckType: model.CheckPolling}}
	provider := &fakeProvider{createErr: errors.New("gateway down")}
	d := newTestDispatcher(creds, orders, provider, time.Now())

	_, err := d.Dispatch(context.Background(), kassaDevice, order)

	require.Error(t, err)
	assert.Equal(t, model.StatusFailed, order.Status, "order must not be left created")
	assert.Equal(t, usermsg.PaymentCreationFailed, order.FailedPresentationDesc)
}

func TestDispatchCustomRedirect(t *testing.T) {
	order := createdOrder()
	orders := &fakeOrders{order: order}
	d := newTestDispatcher(&fakeCreds{}, orders, &fakeProvider{}, time.Now())

	device := &model.Device{
		DeviceUUID:      "device-1",
		MerchantID:      "m-1",
		PaymentScenario: model.ScenarioCustom,
		RedirectURL:     "https://pay.partner.example/start?src=qr",
	}
	redirect, err := d.Dispatch(context.Background(), device, order)

	require.NoError(t, err)
	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "qr", q.Get("src"), "existing query params survive")
	assert.Equal(t, "order-1", q.Get("order_id"))
	assert.Equal(t, "device-1", q.Get("device_uuid"))
	assert.Equal(t, "150.00", q.Get("price"))

	assert.Equal(t, model.StatusCreated, order.Status, "custom scenario involves no provider")
	assert.Empty(t, orders.patches)
}

func TestDispatchCustomWithoutRedirectURL(t *testing.T) {
	order := createdOrder()
	orders := &fakeOrders{order: order}
	d := newTestDispatcher(&fakeCreds{}, orders, &fakeProvider{}, time.Now())

	device := &model.Device{DeviceUUID: "device-1", PaymentScenario: model.ScenarioCustom}
	_, err := d.Dispatch(context.Background(), device, order)

	require.ErrorIs(t, err, model.ErrMissingCredentials)
	assert.Equal(t, model.StatusFailed, order.Status)
}

func TestFrozenCheckTypeSurvivesCredentialChange(t *testing.T) {
	now := time.Now()
	order := createdOrder()
	orders := &fakeOrders{order: order}
	creds := &fakeCreds{creds: &model.MerchantCredentials{StatusCheckType: model.CheckPolling}}
	provider := &fakeProvider{payment: &service.CreatedPayment{ReferenceID: "ref-1", RedirectURL: "u"}}
	d := newTestDispatcher(creds, orders, provider, now)

	_, err := d.Dispatch(context.Background(), kassaDevice, order)
	require.NoError(t, err)
	require.Equal(t, model.CheckPolling, order.StatusCheckType)

	// Merchant reconfigures the scenario afterwards; the in-flight order's
	// frozen value must not move.
	creds.creds.StatusCheckType = model.CheckWebhook
	assert.Equal(t, model.CheckPolling, order.StatusCheckType)
}
