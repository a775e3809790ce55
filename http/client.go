package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stcchain/evmpay"
	"github.com/stcchain/evmpay/mechanisms/evm"
)

// DefaultClientTimeout bounds every request the SettlementClient makes.
const DefaultClientTimeout = 30 * time.Second

// SettlementClient talks to a gateway from the payer's side: it fetches the
// payment configuration and reports broadcast transactions. It keeps a
// cookie jar so the nonce it receives stays bound to its session.
type SettlementClient struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a SettlementClient.
type ClientOption func(*SettlementClient)

// WithHTTPClient replaces the underlying client. A client without a cookie
// jar gets one.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *SettlementClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewSettlementClient creates a client for the gateway at baseURL.
func NewSettlementClient(baseURL string, opts ...ClientOption) (*SettlementClient, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}

	c := &SettlementClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultClientTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.httpClient.Jar = jar
	}
	return c, nil
}

// FetchConfig loads the payment configuration for an unpaid order.
func (c *SettlementClient) FetchConfig(ctx context.Context, orderID uint64) (*evmpay.PaymentConfig, error) {
	endpoint := c.baseURL + RouteConfig + "?order_id=" + strconv.FormatUint(orderID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create config request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("config request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read config response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("config request failed (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("config request failed (%d): %s", resp.StatusCode, string(body))
	}

	var cfg evmpay.PaymentConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// ReportSettlement posts the settlement form and decodes the envelope. A
// non-2xx status is an error; a failure envelope is returned as-is.
func (c *SettlementClient) ReportSettlement(ctx context.Context, nonce string, orderID uint64, tx evmpay.TxReference) (*evmpay.SettleResponse, error) {
	form := url.Values{}
	form.Set("action", evmpay.SettleAction)
	form.Set("nonce", nonce)
	form.Set("order_id", strconv.FormatUint(orderID, 10))
	form.Set("tx", tx.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+RouteSettle, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create settle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("settle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP error! status: %d: %s", resp.StatusCode, string(body))
	}

	var out evmpay.SettleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode settle response: %w", err)
	}
	return &out, nil
}

var _ evm.SettlementReporter = (*SettlementClient)(nil)
