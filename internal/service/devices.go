package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"coffeepay/internal/model"
)

var ErrDeviceNotFound = errors.New("device not found")

type DeviceStore struct {
	db *sql.DB
}

func NewDeviceStore(db *sql.DB) *DeviceStore {
	return &DeviceStore{db: db}
}

// GetByDeviceUUID looks up a device by the machine-assigned identifier from
// the QR code, not the internal row id.
func (s *DeviceStore) GetByDeviceUUID(ctx context.Context, deviceUUID string) (*model.Device, error) {
	var (
		d           model.Device
		redirectURL sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT uuid, device_uuid, merchant_id, payment_scenario, redirect_url, location, test_device
		FROM devices WHERE device_uuid = $1
	`, deviceUUID).Scan(&d.UUID, &d.DeviceUUID, &d.MerchantID, &d.PaymentScenario, &redirectURL, &d.Location, &d.TestDevice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	if redirectURL.Valid {
		d.RedirectURL = redirectURL.String
	}
	return &d, nil
}

func (s *DeviceStore) GetMerchant(ctx context.Context, merchantID string) (*model.Merchant, error) {
	var (
		m          model.Merchant
		signingKey sql.NullString
		secretHash []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, contact_email, signing_key, webhook_secret_hash, valid_until
		FROM merchants WHERE id = $1
	`, merchantID).Scan(&m.ID, &m.Name, &m.ContactEmail, &signingKey, &secretHash, &m.ValidUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("merchant %s: %w", merchantID, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get merchant: %w", err)
	}
	if signingKey.Valid {
		m.SigningKey = signingKey.String
	}
	m.WebhookSecretHash = secretHash
	return &m, nil
}

// GetCredentials fetches the merchant's provider credentials for one scenario.
// Absence is a configuration error, not a transient one.
func (s *DeviceStore) GetCredentials(ctx context.Context, merchantID string, scenario model.PaymentScenario) (*model.MerchantCredentials, error) {
	var c model.MerchantCredentials
	err := s.db.QueryRowContext(ctx, `
		SELECT merchant_id, scenario, account_id, secret_key, status_check_type
		FROM merchant_credentials WHERE merchant_id = $1 AND scenario = $2
	`, merchantID, scenario).Scan(&c.MerchantID, &c.Scenario, &c.AccountID, &c.SecretKey, &c.StatusCheckType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrMissingCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	return &c, nil
}
