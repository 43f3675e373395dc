package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"coffeepay/internal/model"
)

const heartbeatCacheTTL = 30 * time.Second

// Heartbeat is the most recent liveness report for a device. A nil result
// from GetHeartbeat means no report exists at all.
type Heartbeat struct {
	DeviceID  string
	CreatedAt *time.Time
}

type MakeCommand struct {
	DeviceID   string
	OrderID    string
	DrinkID    string
	Size       string
	PriceMinor int64
}

// TmetrClient talks to the drink-machine telemetry and commander APIs. The
// optional redis client caches heartbeat lookups so a burst of order attempts
// from one device does not hammer the telemetry API.
type TmetrClient struct {
	host   string
	token  string
	client *http.Client
	cache  *redis.Client
}

func NewTmetrClient(host, token string, timeout time.Duration, cache *redis.Client) *TmetrClient {
	return &TmetrClient{
		host:   host,
		token:  token,
		client: &http.Client{Timeout: timeout},
		cache:  cache,
	}
}

func (c *TmetrClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, "https://"+c.host+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type heartbeatResponse struct {
	Content []struct {
		DeviceID           string `json:"deviceId"`
		HeartbeatCreatedAt *int64 `json:"heartbeatCreatedAt"` // unix seconds; may be absent
	} `json:"content"`
	TotalElements int `json:"totalElements"`
}

// GetHeartbeat returns the last heartbeat for a device, or nil when the device
// has never reported one.
func (c *TmetrClient) GetHeartbeat(ctx context.Context, deviceID string) (*Heartbeat, error) {
	if hb, ok := c.cachedHeartbeat(ctx, deviceID); ok {
		return hb, nil
	}

	var hr heartbeatResponse
	err := c.do(ctx, http.MethodPost, "/api/ui/v1/stat/heartbeat/recent", map[string]any{
		"deviceIds": []string{deviceID},
		"offset":    0,
		"limit":     1,
	}, &hr)
	if err != nil {
		return nil, fmt.Errorf("get heartbeat: %w", err)
	}

	if len(hr.Content) == 0 {
		return nil, nil
	}

	hb := &Heartbeat{DeviceID: deviceID}
	if ts := hr.Content[0].HeartbeatCreatedAt; ts != nil {
		t := time.Unix(*ts, 0)
		hb.CreatedAt = &t
	}
	c.storeHeartbeat(ctx, deviceID, hb)
	return hb, nil
}

func (c *TmetrClient) cachedHeartbeat(ctx context.Context, deviceID string) (*Heartbeat, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, err := c.cache.Get(ctx, "heartbeat:"+deviceID).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		slog.Warn("heartbeat cache read failed", "device_id", deviceID, "error", err)
		return nil, false
	}
	var hb Heartbeat
	if err := json.Unmarshal([]byte(raw), &hb); err != nil {
		return nil, false
	}
	return &hb, true
}

func (c *TmetrClient) storeHeartbeat(ctx context.Context, deviceID string, hb *Heartbeat) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(hb)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, "heartbeat:"+deviceID, raw, heartbeatCacheTTL).Err(); err != nil {
		slog.Warn("heartbeat cache write failed", "device_id", deviceID, "error", err)
	}
}

// SendMakeCommand instructs the machine to prepare the drink for a paid order.
func (c *TmetrClient) SendMakeCommand(ctx context.Context, cmd MakeCommand) error {
	err := c.do(ctx, http.MethodPost, "/api/commander/v1/command/make", []map[string]any{{
		"deviceId":  cmd.DeviceID,
		"orderUuid": cmd.OrderID,
		"drinkUuid": cmd.DrinkID,
		"size":      cmd.Size,
		"price":     cmd.PriceMinor,
	}}, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrDispenseFailed, err)
	}
	return nil
}

type drinkInfoResponse struct {
	DrinkID   string `json:"drinkIdAtDevice"`
	Name      string `json:"drinkName"`
	Price     int64  `json:"price"` // minor units
	Available bool   `json:"available"`
}

type DrinkInfo struct {
	DrinkID   string
	Name      string
	Price     decimal.Decimal
	Available bool
}

// GetDrinkInfo fetches current price and availability for a drink at a device.
func (c *TmetrClient) GetDrinkInfo(ctx context.Context, deviceID, drinkID, size string) (*DrinkInfo, error) {
	var dr drinkInfoResponse
	err := c.do(ctx, http.MethodPost, "/api/ui/v1/static/drink", map[string]any{
		"deviceId":        deviceID,
		"drinkIdAtDevice": drinkID,
		"drinkSize":       size,
	}, &dr)
	if err != nil {
		return nil, fmt.Errorf("get drink info: %w", err)
	}
	return &DrinkInfo{
		DrinkID:   dr.DrinkID,
		Name:      dr.Name,
		Price:     decimal.NewFromInt(dr.Price).Div(hundred),
		Available: dr.Available,
	}, nil
}
