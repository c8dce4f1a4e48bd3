package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ExchangeObserver/internal/model"
)

// ConnectorFetcher implements Fetcher using the exchange connector REST API.
type ConnectorFetcher struct {
	BaseURL string
	APIKey  string
	Venue   string
	Client  *http.Client
}

// NewConnectorFetcher creates a new fetcher with optional proxy support.
func NewConnectorFetcher(baseURL, apiKey, venue, proxyURL string, timeout time.Duration) *ConnectorFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &ConnectorFetcher{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Venue:   venue,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

func (f *ConnectorFetcher) Name() string { return "connector" }

// balancesResponse is the expected JSON shape of the balance endpoints.
type balancesResponse[T any] struct {
	Balances []T `json:"balances"`
}

func (f *ConnectorFetcher) FetchMarginBalances(ctx context.Context) ([]model.MarginBalance, error) {
	var resp balancesResponse[model.MarginBalance]
	endpoint := fmt.Sprintf("%s/api/v1/balances/margin?exchange=%s", f.BaseURL, url.QueryEscape(f.Venue))
	if err := f.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch margin balances: %w", err)
	}
	return resp.Balances, nil
}

func (f *ConnectorFetcher) FetchMainBalances(ctx context.Context) ([]model.MainBalance, error) {
	var resp balancesResponse[model.MainBalance]
	endpoint := fmt.Sprintf("%s/api/v1/balances/main?exchange=%s", f.BaseURL, url.QueryEscape(f.Venue))
	if err := f.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch main balances: %w", err)
	}
	return resp.Balances, nil
}

func (f *ConnectorFetcher) FetchVaultBalances(ctx context.Context) ([]model.VaultBalance, error) {
	var resp balancesResponse[model.VaultBalance]
	if err := f.getJSON(ctx, f.BaseURL+"/api/v1/balances/vaults", &resp); err != nil {
		return nil, fmt.Errorf("fetch vault balances: %w", err)
	}
	// Stable order keeps lookups deterministic when the connector repeats a row.
	sort.SliceStable(resp.Balances, func(i, j int) bool {
		return resp.Balances[i].VaultAccountID < resp.Balances[j].VaultAccountID
	})
	return resp.Balances, nil
}

func (f *ConnectorFetcher) FetchIndexPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/api/v1/prices/index?symbol=%s", f.BaseURL, url.QueryEscape(symbol))
	var result struct {
		UsdPrice decimal.Decimal `json:"usd_price"`
	}
	if err := f.getJSON(ctx, endpoint, &result); err != nil {
		return decimal.Zero, fmt.Errorf("fetch index price %s: %w", symbol, err)
	}
	return result.UsdPrice, nil
}

func (f *ConnectorFetcher) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if f.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.APIKey)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d, body: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
