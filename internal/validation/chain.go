package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"coffeepay/internal/model"
	"coffeepay/internal/service"
)

// Result is the outcome of the pre-flight validation chain.
type Result struct {
	Valid           bool
	Err             error
	ExistingOrder   *model.Order
	ShouldCreateNew bool
}

type OrderGetter interface {
	Get(ctx context.Context, id string) (*model.Order, error)
}

type HeartbeatSource interface {
	GetHeartbeat(ctx context.Context, deviceID string) (*service.Heartbeat, error)
}

// Chain runs the ordered pre-flight checks for an inbound payment request:
// request authenticity, order existence, device liveness. It short-circuits at
// the first failure and performs no writes; it is a pure decision function
// over collaborator reads.
type Chain struct {
	orders          OrderGetter
	dispenser       HeartbeatSource
	onlineThreshold time.Duration
	now             func() time.Time
}

func NewChain(orders OrderGetter, dispenser HeartbeatSource, onlineThreshold time.Duration) *Chain {
	return &Chain{
		orders:          orders,
		dispenser:       dispenser,
		onlineThreshold: onlineThreshold,
		now:             time.Now,
	}
}

func (c *Chain) Evaluate(ctx context.Context, params url.Values, device *model.Device, merchant *model.Merchant, orderID string) Result {
	if err := c.checkAuthenticity(params, device, merchant); err != nil {
		return Result{Err: err}
	}

	res := c.checkOrderExistence(ctx, orderID)
	if res.Err != nil {
		return res
	}

	// Test/sandbox devices bypass the liveness check.
	if !device.TestDevice {
		if err := c.checkDeviceOnline(ctx, device.DeviceUUID); err != nil {
			return Result{Err: err}
		}
	}

	res.Valid = true
	return res
}

// checkAuthenticity is the hook point for request authentication. Merchants
// without a signing key get a pass-through; with one configured the request
// must carry a token signed with that key and bound to the device.
func (c *Chain) checkAuthenticity(params url.Values, device *model.Device, merchant *model.Merchant) error {
	if merchant.SigningKey == "" {
		return nil
	}

	tokenString := params.Get("token")
	if tokenString == "" {
		return fmt.Errorf("%w: missing request token", model.ErrValidationRejected)
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(merchant.SigningKey), nil
	})
	if err != nil || !token.Valid {
		return fmt.Errorf("%w: invalid request token", model.ErrValidationRejected)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("%w: invalid token claims", model.ErrValidationRejected)
	}
	if deviceUUID, _ := claims["device_uuid"].(string); deviceUUID != device.DeviceUUID {
		return fmt.Errorf("%w: token not issued for this device", model.ErrValidationRejected)
	}
	return nil
}

func (c *Chain) checkOrderExistence(ctx context.Context, orderID string) Result {
	if orderID == "" || len(orderID) > model.MaxOrderIDLength {
		return Result{Err: fmt.Errorf("%w: bad order id", model.ErrValidationRejected)}
	}

	order, err := c.orders.Get(ctx, orderID)
	if errors.Is(err, model.ErrOrderNotFound) {
		return Result{ShouldCreateNew: true}
	}
	if err != nil {
		return Result{Err: fmt.Errorf("order lookup: %w", err)}
	}

	if order.IsExpired(c.now()) {
		return Result{Err: fmt.Errorf("order %s: %w", orderID, model.ErrOrderExpired)}
	}

	if order.Status == model.StatusCreated {
		return Result{ExistingOrder: order}
	}

	// A prior order under this external id is superseded by a fresh one.
	slog.Info("existing order superseded", "order_id", orderID, "status", order.Status)
	return Result{ShouldCreateNew: true}
}

// checkDeviceOnline distinguishes a confirmed-offline device (stale or absent
// heartbeat) from an inability to determine liveness at all.
func (c *Chain) checkDeviceOnline(ctx context.Context, deviceUUID string) error {
	hb, err := c.dispenser.GetHeartbeat(ctx, deviceUUID)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrHeartbeatCheckFailed, err)
	}
	if hb == nil {
		return fmt.Errorf("device %s has no heartbeat record: %w", deviceUUID, model.ErrDeviceOffline)
	}
	if hb.CreatedAt == nil {
		return fmt.Errorf("device %s heartbeat has no timestamp: %w", deviceUUID, model.ErrHeartbeatCheckFailed)
	}

	age := c.now().Sub(*hb.CreatedAt)
	if age > c.onlineThreshold {
		return fmt.Errorf("device %s last heartbeat %s ago: %w", deviceUUID, age.Truncate(time.Second), model.ErrDeviceOffline)
	}
	return nil
}

// VerifyWebhookSecret compares a webhook caller's shared secret against the
// merchant's stored bcrypt hash. Merchants without a hash accept any caller.
func VerifyWebhookSecret(merchant *model.Merchant, secret string) bool {
	if len(merchant.WebhookSecretHash) == 0 {
		return true
	}
	return bcrypt.CompareHashAndPassword(merchant.WebhookSecretHash, []byte(secret)) == nil
}
