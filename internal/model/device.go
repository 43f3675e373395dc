package model

import "time"

// PaymentScenario selects which integration a device's payments run through.
type PaymentScenario string

const (
	ScenarioKassa  PaymentScenario = "Kassa"
	ScenarioTBank  PaymentScenario = "TBank"
	ScenarioCustom PaymentScenario = "Custom"
)

type Device struct {
	UUID            string          `json:"uuid"`
	DeviceUUID      string          `json:"device_uuid"` // assigned by the coffee machine itself
	MerchantID      string          `json:"merchant_id"`
	PaymentScenario PaymentScenario `json:"payment_scenario"`
	RedirectURL     string          `json:"redirect_url,omitempty"`
	Location        string          `json:"location"`
	TestDevice      bool            `json:"test_device"`
}

type Merchant struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	ContactEmail      string    `json:"contact_email"`
	SigningKey        string    `json:"-"`
	WebhookSecretHash []byte    `json:"-"`
	ValidUntil        time.Time `json:"valid_until"`
}

// IsActive reports whether the merchant may still take payments.
func (m *Merchant) IsActive(now time.Time) bool {
	return !m.ValidUntil.Before(now)
}

// MerchantCredentials holds per-scenario provider credentials. Its
// StatusCheckType is the template copied onto orders at payment creation.
type MerchantCredentials struct {
	MerchantID      string          `json:"merchant_id"`
	Scenario        PaymentScenario `json:"scenario"`
	AccountID       string          `json:"account_id"`
	SecretKey       string          `json:"-"`
	StatusCheckType CheckType       `json:"status_check_type"`
}
