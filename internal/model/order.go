package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusCreated     OrderStatus = "created"
	StatusPending     OrderStatus = "pending"
	StatusPaid        OrderStatus = "paid"
	StatusMakePending OrderStatus = "make_pending"
	StatusSuccessful  OrderStatus = "successful"
	StatusManualMake  OrderStatus = "manual_make"
	StatusNotPaid     OrderStatus = "not_paid"
	StatusFailed      OrderStatus = "failed"
	StatusMakeFailed  OrderStatus = "make_failed"
)

// IsTerminal reports whether no further automated transition may occur.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusSuccessful, StatusManualMake, StatusNotPaid, StatusFailed, StatusMakeFailed:
		return true
	}
	return false
}

// CheckType is how an order's payment status gets confirmed. It is copied
// from the merchant credentials when the payment is initiated and never
// changes afterwards, even if the credentials are reconfigured.
type CheckType string

const (
	CheckPolling CheckType = "polling"
	CheckWebhook CheckType = "webhook"
	CheckNone    CheckType = "none"
)

// MaxOrderIDLength bounds the machine-assigned order id.
const MaxOrderIDLength = 255

type Order struct {
	ID         string          `json:"id"`
	DeviceUUID string          `json:"device_uuid"`
	MerchantID string          `json:"merchant_id"`
	DrinkID    string          `json:"drink_id"`
	DrinkName  string          `json:"drink_name"`
	Size       int             `json:"size"`
	Price      decimal.Decimal `json:"price"`

	Status          OrderStatus `json:"status"`
	StatusCheckType CheckType   `json:"status_check_type"`

	PaymentReferenceID     string     `json:"payment_reference_id,omitempty"`
	PaymentStartedAt       *time.Time `json:"payment_started_at,omitempty"`
	ExpiresAt              time.Time  `json:"expires_at"`
	NextCheckAt            *time.Time `json:"next_check_at,omitempty"`
	LastCheckAt            *time.Time `json:"last_check_at,omitempty"`
	CheckAttempts          int        `json:"check_attempts"`
	FailedPresentationDesc string     `json:"failed_presentation_desc,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (o *Order) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// OrderPatch is a partial update applied by OrderStore.Update. Nil fields are
// left untouched; ClearNextCheck nulls next_check_at regardless of NextCheckAt.
type OrderPatch struct {
	Status                 *OrderStatus
	StatusCheckType        *CheckType
	PaymentReferenceID     *string
	PaymentStartedAt       *time.Time
	NextCheckAt            *time.Time
	ClearNextCheck         bool
	FailedPresentationDesc *string
}

var sizeLabels = map[int]string{
	1: "small",
	2: "medium",
	3: "large",
}

// SizeLabel is the wire form the dispenser expects for a drink size.
func SizeLabel(size int) string {
	if label, ok := sizeLabels[size]; ok {
		return label
	}
	return "small"
}
