package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"coffeepay/internal/model"
	"coffeepay/internal/reconcile"
	"coffeepay/internal/validation"
)

// Reconciler is the webhook's entry into the shared reconciliation logic.
type Reconciler interface {
	Reconcile(ctx context.Context, order *model.Order, trigger reconcile.Trigger) error
}

type OrderSource interface {
	Get(ctx context.Context, id string) (*model.Order, error)
	GetByReference(ctx context.Context, referenceID string) (*model.Order, error)
}

type MerchantSource interface {
	GetMerchant(ctx context.Context, merchantID string) (*model.Merchant, error)
}

type webhookNotification struct {
	Event  string `json:"event"`
	Object struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Metadata struct {
			OrderID string `json:"order_id"`
		} `json:"metadata"`
	} `json:"object"`
}

// WebhookHandler accepts payment provider notifications. The embedded status
// is treated as a hint only; the order runs through the same reconciler as
// the polling path, which re-queries the provider. Duplicate deliveries of an
// already-applied terminal transition are acknowledged as harmless no-ops.
// Transient provider failures are acknowledged too, so the sender does not
// endlessly resend; only expired orders come back as a client error.
func WebhookHandler(orders OrderSource, merchants MerchantSource, rec Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var n webhookNotification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			http.Error(w, "invalid notification body", http.StatusBadRequest)
			return
		}
		if n.Object.ID == "" && n.Object.Metadata.OrderID == "" {
			http.Error(w, "notification carries no order reference", http.StatusBadRequest)
			return
		}

		order, err := lookupOrder(r.Context(), orders, &n)
		if err != nil {
			if errors.Is(err, model.ErrOrderNotFound) {
				http.Error(w, "order not found", http.StatusNotFound)
				return
			}
			slog.Error("webhook order lookup failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		merchant, err := merchants.GetMerchant(r.Context(), order.MerchantID)
		if err != nil {
			slog.Error("webhook merchant lookup failed", "order_id", order.ID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		_, secret, _ := r.BasicAuth()
		if !validation.VerifyWebhookSecret(merchant, secret) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		slog.Info("webhook notification received",
			"order_id", order.ID, "event", n.Event, "reported_status", n.Object.Status)

		if err := rec.Reconcile(r.Context(), order, reconcile.TriggerWebhook); err != nil {
			if errors.Is(err, model.ErrOrderExpired) {
				http.Error(w, "order expired", http.StatusGone)
				return
			}
			slog.Error("webhook reconcile failed", "order_id", order.ID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	}
}

func lookupOrder(ctx context.Context, orders OrderSource, n *webhookNotification) (*model.Order, error) {
	if n.Object.Metadata.OrderID != "" {
		return orders.Get(ctx, n.Object.Metadata.OrderID)
	}
	return orders.GetByReference(ctx, n.Object.ID)
}
