package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"coffeepay/internal/model"
)

const kassaBaseURL = "https://api.yookassa.ru/v3"

// KassaClient talks to the Kassa payment API with one merchant's credentials.
type KassaClient struct {
	baseURL   string
	accountID string
	secretKey string
	client    *http.Client
}

func NewKassaClient(creds *model.MerchantCredentials, timeout time.Duration) *KassaClient {
	return &KassaClient{
		baseURL:   kassaBaseURL,
		accountID: creds.AccountID,
		secretKey: creds.SecretKey,
		client:    &http.Client{Timeout: timeout},
	}
}

type kassaPaymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

func (c *KassaClient) CreatePayment(ctx context.Context, req PaymentRequest) (*CreatedPayment, error) {
	payload := map[string]any{
		"amount": map[string]string{
			"value":    req.Amount.StringFixed(2),
			"currency": "RUB",
		},
		"capture": true,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": req.ReturnURL,
		},
		"description": req.Description,
		"metadata":    req.Metadata,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.SetBasicAuth(c.accountID, c.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", uuid.NewString())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w: %w", model.ErrProviderTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("create payment: %w: status %d", model.ErrProviderTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("create payment: unexpected status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var pr kassaPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode payment response: %w", err)
	}
	if pr.ID == "" || pr.Confirmation.ConfirmationURL == "" {
		return nil, errors.New("payment response missing id or confirmation url")
	}

	return &CreatedPayment{ReferenceID: pr.ID, RedirectURL: pr.Confirmation.ConfirmationURL}, nil
}

func (c *KassaClient) GetStatus(ctx context.Context, referenceID string) (ProviderStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payments/"+referenceID, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.SetBasicAuth(c.accountID, c.secretKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("get payment: %w: %w", model.ErrProviderTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("get payment: %w: status %d", model.ErrProviderTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("get payment: unexpected status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var pr kassaPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("decode payment response: %w", err)
	}

	switch pr.Status {
	case "pending":
		return ProviderPending, nil
	case "waiting_for_capture":
		return ProviderWaitingForCapture, nil
	case "succeeded":
		return ProviderSucceeded, nil
	case "canceled":
		return ProviderCanceled, nil
	default:
		return ProviderStatus(pr.Status), nil
	}
}
