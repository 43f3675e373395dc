package service

import (
	"context"

	"github.com/shopspring/decimal"
)

// ProviderStatus is the payment status vocabulary shared by all integrations.
// Providers with richer state machines map onto these four values.
type ProviderStatus string

const (
	ProviderPending           ProviderStatus = "pending"
	ProviderWaitingForCapture ProviderStatus = "waiting_for_capture"
	ProviderSucceeded         ProviderStatus = "succeeded"
	ProviderCanceled          ProviderStatus = "canceled"
)

var hundred = decimal.NewFromInt(100)

type PaymentRequest struct {
	Amount      decimal.Decimal
	Description string
	ReturnURL   string
	Metadata    map[string]string
}

type CreatedPayment struct {
	ReferenceID string
	RedirectURL string
}

// PaymentProvider is the common surface of a payment integration.
type PaymentProvider interface {
	CreatePayment(ctx context.Context, req PaymentRequest) (*CreatedPayment, error)
	GetStatus(ctx context.Context, referenceID string) (ProviderStatus, error)
}
