package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"coffeepay/internal/model"
)

type OrderGetter interface {
	Get(ctx context.Context, id string) (*model.Order, error)
}

type orderStatusResponse struct {
	OrderID     string            `json:"order_id"`
	Status      model.OrderStatus `json:"status"`
	Description string            `json:"description,omitempty"`
}

// OrderStatusHandler serves the status the order page polls while the client
// waits for the payment to settle.
func OrderStatusHandler(orders OrderGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := chi.URLParam(r, "orderID")
		if orderID == "" {
			orderID = r.URL.Query().Get("order_id")
		}
		if orderID == "" {
			http.Error(w, "missing order id", http.StatusBadRequest)
			return
		}

		order, err := orders.Get(r.Context(), orderID)
		if err != nil {
			if errors.Is(err, model.ErrOrderNotFound) {
				http.Error(w, "order not found", http.StatusNotFound)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(orderStatusResponse{
			OrderID:     order.ID,
			Status:      order.Status,
			Description: order.FailedPresentationDesc,
		}); err != nil {
			http.Error(w, "encode error", http.StatusInternalServerError)
		}
	}
}
