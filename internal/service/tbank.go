package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"coffeepay/internal/model"
)

const tbankBaseURL = "https://securepay.tbank.ru/v2"

// TBankClient covers the second payment scenario. Amounts are sent in minor
// units and the provider's state machine is mapped onto ProviderStatus.
type TBankClient struct {
	baseURL     string
	terminalKey string
	password    string
	client      *http.Client
}

func NewTBankClient(creds *model.MerchantCredentials, timeout time.Duration) *TBankClient {
	return &TBankClient{
		baseURL:     tbankBaseURL,
		terminalKey: creds.AccountID,
		password:    creds.SecretKey,
		client:      &http.Client{Timeout: timeout},
	}
}

type tbankResponse struct {
	Success    bool   `json:"Success"`
	PaymentID  string `json:"PaymentId"`
	PaymentURL string `json:"PaymentURL"`
	Status     string `json:"Status"`
	Message    string `json:"Message"`
}

func (c *TBankClient) post(ctx context.Context, path string, payload map[string]any) (*tbankResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, model.ErrProviderTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%s: %w: status %d", path, model.ErrProviderTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}

	var tr tbankResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &tr, nil
}

func (c *TBankClient) CreatePayment(ctx context.Context, req PaymentRequest) (*CreatedPayment, error) {
	tr, err := c.post(ctx, "/Init", map[string]any{
		"TerminalKey": c.terminalKey,
		"Password":    c.password,
		"Amount":      req.Amount.Mul(hundred).IntPart(),
		"OrderId":     req.Metadata["order_id"],
		"Description": req.Description,
		"SuccessURL":  req.ReturnURL,
	})
	if err != nil {
		return nil, err
	}
	if !tr.Success {
		return nil, fmt.Errorf("init payment failed: %s", tr.Message)
	}
	return &CreatedPayment{ReferenceID: tr.PaymentID, RedirectURL: tr.PaymentURL}, nil
}

func (c *TBankClient) GetStatus(ctx context.Context, referenceID string) (ProviderStatus, error) {
	tr, err := c.post(ctx, "/GetState", map[string]any{
		"TerminalKey": c.terminalKey,
		"Password":    c.password,
		"PaymentId":   referenceID,
	})
	if err != nil {
		return "", err
	}

	switch tr.Status {
	case "NEW", "FORM_SHOWED", "AUTHORIZING", "CONFIRMING":
		return ProviderPending, nil
	case "AUTHORIZED":
		return ProviderWaitingForCapture, nil
	case "CONFIRMED":
		return ProviderSucceeded, nil
	case "CANCELED", "REVERSED", "REJECTED", "DEADLINE_EXPIRED":
		return ProviderCanceled, nil
	default:
		return ProviderStatus(tr.Status), nil
	}
}
