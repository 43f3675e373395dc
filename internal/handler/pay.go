package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coffeepay/internal/model"
	"coffeepay/internal/scenario"
	"coffeepay/internal/service"
	"coffeepay/internal/usermsg"
	"coffeepay/internal/validation"
)

// PayHandler is the QR entry point: validates the request, creates or reuses
// the order, and redirects the client to the payment page for the device's
// configured scenario.
func PayHandler(devices *service.DeviceStore, orders *service.OrderStore, chain *validation.Chain,
	dispatcher *scenario.Dispatcher, tmetr *service.TmetrClient, orderTTL time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		deviceUUID := query.Get("deviceUUID")
		if deviceUUID == "" {
			http.Error(w, "missing deviceUUID parameter", http.StatusBadRequest)
			return
		}

		device, err := devices.GetByDeviceUUID(r.Context(), deviceUUID)
		if err != nil {
			if errors.Is(err, service.ErrDeviceNotFound) {
				http.Error(w, "device not found", http.StatusNotFound)
				return
			}
			slog.Error("device lookup failed", "device_uuid", deviceUUID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		merchant, err := devices.GetMerchant(r.Context(), device.MerchantID)
		if err != nil {
			slog.Error("merchant lookup failed", "merchant_id", device.MerchantID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !merchant.IsActive(time.Now()) {
			http.Error(w, "merchant service period expired", http.StatusForbidden)
			return
		}

		orderID := query.Get("orderId")
		res := chain.Evaluate(r.Context(), query, device, merchant, orderID)
		if !res.Valid {
			writeValidationError(w, res.Err)
			return
		}

		order := res.ExistingOrder
		if res.ShouldCreateNew {
			order, err = createOrder(r, device, orders, tmetr, orderTTL)
			if err != nil {
				writeValidationError(w, err)
				return
			}
		}

		redirect, err := dispatcher.Dispatch(r.Context(), device, order)
		if err != nil {
			slog.Error("payment dispatch failed", "order_id", order.ID, "error", err)
			if errors.Is(err, model.ErrMissingCredentials) {
				http.Error(w, usermsg.MissingCredentials, http.StatusInternalServerError)
				return
			}
			http.Error(w, usermsg.PaymentCreationFailed, http.StatusBadGateway)
			return
		}

		http.Redirect(w, r, redirect, http.StatusFound)
	}
}

func createOrder(r *http.Request, device *model.Device, orders *service.OrderStore,
	tmetr *service.TmetrClient, orderTTL time.Duration) (*model.Order, error) {
	query := r.URL.Query()

	drinkID := query.Get("drinkId")
	if drinkID == "" {
		return nil, model.ErrValidationRejected
	}
	// Machines send a 0-indexed size; stored sizes are 1-indexed.
	size := 1
	if raw := query.Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 2 {
			return nil, model.ErrValidationRejected
		}
		size = n + 1
	}

	drink, err := tmetr.GetDrinkInfo(r.Context(), device.DeviceUUID, drinkID, strings.ToUpper(model.SizeLabel(size)))
	if err != nil {
		slog.Error("drink info lookup failed", "device_uuid", device.DeviceUUID, "drink_id", drinkID, "error", err)
		return nil, model.ErrHeartbeatCheckFailed
	}
	if !drink.Available {
		return nil, errDrinkUnavailable
	}

	drinkName := drink.Name
	if name := query.Get("drinkName"); name != "" {
		drinkName = name
	}

	order := &model.Order{
		ID:              query.Get("orderId"),
		DeviceUUID:      device.DeviceUUID,
		MerchantID:      device.MerchantID,
		DrinkID:         drinkID,
		DrinkName:       drinkName,
		Size:            size,
		Price:           drink.Price,
		Status:          model.StatusCreated,
		StatusCheckType: model.CheckNone,
		ExpiresAt:       time.Now().Add(orderTTL),
	}
	if err := orders.Create(r.Context(), order); err != nil {
		slog.Error("order create failed", "order_id", order.ID, "error", err)
		return nil, err
	}
	return order, nil
}

var errDrinkUnavailable = errors.New("drink unavailable")

func writeValidationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrOrderExpired):
		http.Error(w, usermsg.OrderExpired, http.StatusGone)
	case errors.Is(err, model.ErrDeviceOffline):
		http.Error(w, usermsg.DeviceOffline, http.StatusServiceUnavailable)
	case errors.Is(err, model.ErrHeartbeatCheckFailed):
		http.Error(w, usermsg.HeartbeatCheckFailed, http.StatusServiceUnavailable)
	case errors.Is(err, errDrinkUnavailable):
		http.Error(w, usermsg.DrinkUnavailable, http.StatusConflict)
	case errors.Is(err, model.ErrValidationRejected):
		http.Error(w, usermsg.InvalidRequest, http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
