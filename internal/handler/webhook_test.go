package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"coffeepay/internal/model"
	"coffeepay/internal/reconcile"
)

type fakeOrders struct {
	byID  map[string]*model.Order
	byRef map[string]*model.Order
}

func (f *fakeOrders) Get(_ context.Context, id string) (*model.Order, error) {
	if o, ok := f.byID[id]; ok {
		return o, nil
	}
	return nil, model.ErrOrderNotFound
}

func (f *fakeOrders) GetByReference(_ context.Context, ref string) (*model.Order, error) {
	if o, ok := f.byRef[ref]; ok {
		return o, nil
	}
	return nil, model.ErrOrderNotFound
}

type fakeMerchants struct {
	merchant *model.Merchant
}

func (f *fakeMerchants) GetMerchant(context.Context, string) (*model.Merchant, error) {
	return f.merchant, nil
}

type fakeReconciler struct {
	err     error
	calls   int
	trigger reconcile.Trigger
}

func (f *fakeReconciler) Reconcile(_ context.Context, _ *model.Order, trigger reconcile.Trigger) error {
	f.calls++
	f.trigger = trigger
	return f.err
}

func notification(orderID, refID, status string) string {
	return fmt.Sprintf(`{"event":"payment.%s","object":{"id":%q,"status":%q,"metadata":{"order_id":%q}}}`,
		status, refID, status, orderID)
}

func postWebhook(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/pay-webhook", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func pendingOrder() *model.Order {
	return &model.Order{
		ID:                 "order-1",
		MerchantID:         "m-1",
		Status:             model.StatusPending,
		StatusCheckType:    model.CheckWebhook,
		PaymentReferenceID: "ref-1",
		ExpiresAt:          time.Now().Add(time.Hour),
	}
}

func TestWebhookReconcilesPendingOrder(t *testing.T) {
	order := pendingOrder()
	orders := &fakeOrders{byID: map[string]*model.Order{"order-1": order}}
	rec := &fakeReconciler{}
	h := WebhookHandler(orders, &fakeMerchants{merchant: &model.Merchant{}}, rec)

	rr := postWebhook(h, notification("order-1", "ref-1", "succeeded"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, reconcile.TriggerWebhook, rec.trigger)
}

func TestWebhookFallsBackToReferenceLookup(t *testing.T) {
	order := pendingOrder()
	orders := &fakeOrders{byRef: map[string]*model.Order{"ref-1": order}}
	rec := &fakeReconciler{}
	h := WebhookHandler(orders, &fakeMerchants{merchant: &model.Merchant{}}, rec)

	rr := postWebhook(h, notification("", "ref-1", "succeeded"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, rec.calls)
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	rec := &fakeReconciler{}
	h := WebhookHandler(&fakeOrders{}, &fakeMerchants{merchant: &model.Merchant{}}, rec)

	assert.Equal(t, http.StatusBadRequest, postWebhook(h, "{not json").Code)
	assert.Equal(t, http.StatusBadRequest, postWebhook(h, `{"event":"payment.succeeded","object":{}}`).Code)
	assert.Zero(t, rec.calls)
}

func TestWebhookUnknownOrder(t *testing.T) {
	rec := &fakeReconciler{}
	h := WebhookHandler(&fakeOrders{}, &fakeMerchants{merchant: &model.Merchant{}}, rec)

	rr := postWebhook(h, notification("ghost", "ref-x", "succeeded"))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Zero(t, rec.calls)
}

func TestWebhookExpiredOrderRejected(t *testing.T) {
	order := pendingOrder()
	orders := &fakeOrders{byID: map[string]*model.Order{"order-1": order}}
	rec := &fakeReconciler{err: model.ErrOrderExpired}
	h := WebhookHandler(orders, &fakeMerchants{merchant: &model.Merchant{}}, rec)

	rr := postWebhook(h, notification("order-1", "ref-1", "succeeded"))

	assert.Equal(t, http.StatusGone, rr.Code, "expired deliveries are a client error, not silently dropped")
}

func TestWebhookDuplicateTerminalDeliveryIsNoop(t *testing.T) {
	// The reconciler itself skips terminal orders; the handler just has to
	// acknowledge the duplicate instead of erroring.
	order := pendingOrder()
	order.Status = model.StatusSuccessful
	orders := &fakeOrders{byID: map[string]*model.Order{"order-1": order}}
	rec := &fakeReconciler{}
	h := WebhookHandler(orders, &fakeMerchants{merchant: &model.Merchant{}}, rec)

	assert.Equal(t, http.StatusOK, postWebhook(h, notification("order-1", "ref-1", "succeeded")).Code)
	assert.Equal(t, http.StatusOK, postWebhook(h, notification("order-1", "ref-1", "succeeded")).Code)
}

func TestWebhookSecretCheck(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	order := pendingOrder()
	orders := &fakeOrders{byID: map[string]*model.Order{"order-1": order}}
	rec := &fakeReconciler{}
	h := WebhookHandler(orders, &fakeMerchants{merchant: &model.Merchant{WebhookSecretHash: hash}}, rec)

	req := httptest.NewRequest(http.MethodPost, "/v1/pay-webhook", strings.NewReader(notification("order-1", "ref-1", "succeeded")))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Zero(t, rec.calls)

	req = httptest.NewRequest(http.MethodPost, "/v1/pay-webhook", strings.NewReader(notification("order-1", "ref-1", "succeeded")))
	req.SetBasicAuth("kassa", "hunter2")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, rec.calls)
}
