package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HTTPGateway talks to the settlement service over JSON/HTTP.
type HTTPGateway struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPGateway creates a gateway client with optional proxy support.
func NewHTTPGateway(baseURL, apiKey, proxyURL string, timeout time.Duration) *HTTPGateway {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &HTTPGateway{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout, Transport: transport},
	}
}

type repayRequest struct {
	RequestID string          `json:"request_id"`
	Symbol    string          `json:"symbol"`
	Amount    decimal.Decimal `json:"amount"`
	Exchange  string          `json:"exchange"`
}

type mainToMarginRequest struct {
	RequestID string          `json:"request_id"`
	Symbol    string          `json:"asset_symbol"`
	Amount    decimal.Decimal `json:"amount"`
}

type vaultToMarginRequest struct {
	RequestID      string          `json:"request_id"`
	Asset          string          `json:"asset_symbol"`
	Network        string          `json:"asset_network"`
	VaultAccountID int             `json:"vault_account_id"`
	Amount         decimal.Decimal `json:"amount"`
}

// operationResponse mirrors the settlement service result envelope.
type operationResponse struct {
	IsSuccess    bool   `json:"is_success"`
	ErrorMessage string `json:"error_message"`
}

func (g *HTTPGateway) Repay(ctx context.Context, symbol string, amount decimal.Decimal, venue string) (string, error) {
	req := repayRequest{RequestID: uuid.NewString(), Symbol: symbol, Amount: amount, Exchange: venue}
	if err := g.post(ctx, "/api/v1/transfers/repay", req); err != nil {
		return req.RequestID, fmt.Errorf("repay %s %s: %w", amount, symbol, err)
	}
	return req.RequestID, nil
}

func (g *HTTPGateway) TransferMainToMargin(ctx context.Context, symbol string, amount decimal.Decimal) (string, error) {
	req := mainToMarginRequest{RequestID: uuid.NewString(), Symbol: symbol, Amount: amount}
	if err := g.post(ctx, "/api/v1/transfers/main-to-margin", req); err != nil {
		return req.RequestID, fmt.Errorf("transfer main to margin %s %s: %w", amount, symbol, err)
	}
	return req.RequestID, nil
}

func (g *HTTPGateway) TransferVaultToMargin(ctx context.Context, asset, network string, vaultID int, amount decimal.Decimal) (string, error) {
	req := vaultToMarginRequest{
		RequestID:      uuid.NewString(),
		Asset:          asset,
		Network:        network,
		VaultAccountID: vaultID,
		Amount:         amount,
	}
	if err := g.post(ctx, "/api/v1/transfers/vault-to-margin", req); err != nil {
		return req.RequestID, fmt.Errorf("transfer vault %d to margin %s %s/%s: %w", vaultID, amount, asset, network, err)
	}
	return req.RequestID, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d, body: %s", ErrRejected, resp.StatusCode, string(respBody))
	}
	var result operationResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !result.IsSuccess {
		return fmt.Errorf("%w: %s", ErrRejected, result.ErrorMessage)
	}
	return nil
}
