package echo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stcchain/evmpay"
	"github.com/stcchain/evmpay/extensions/idempotency"
	evmhttp "github.com/stcchain/evmpay/http"
	"github.com/stcchain/evmpay/stores/memory"
)

const testTx = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"

func newTestEcho(t *testing.T, cfg Config) (*echo.Echo, *memory.Store) {
	t.Helper()

	settings := evmpay.DefaultSettings()
	settings.TargetAddress = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
	settings.ContractAddress = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	settings.ReturnBaseURL = "https://shop.test"

	store := memory.NewStore()
	_, err := store.Create(context.Background(), "wc_order_abc", decimal.RequireFromString("5.00"), "USD")
	require.NoError(t, err)

	nonces, err := evmhttp.NewNonceManager([]byte("secret"))
	require.NoError(t, err)
	settler := evmpay.NewSettler(store, idempotency.NewInMemoryGuard(), nonces,
		evmpay.WithReturnBaseURL(settings.ReturnBaseURL))

	return NewEcho(evmhttp.NewPaymentService(settler, store, settings, nonces), cfg), store
}

func TestEchoConfigThenSettle(t *testing.T) {
	e, store := newTestEcho(t, Config{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, evmhttp.RouteConfig+"?order_id=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == evmhttp.SessionCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)

	var cfg evmpay.PaymentConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))

	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{
			name:        "form",
			contentType: "application/x-www-form-urlencoded",
			body: url.Values{
				"action":   {evmpay.SettleAction},
				"nonce":    {cfg.Nonce},
				"order_id": {"1"},
				"tx":       {testTx},
			}.Encode(),
		},
		{
			name:        "json replay",
			contentType: "application/json",
			body:        `{"action":"verify_evm_payment","nonce":"` + cfg.Nonce + `","order_id":1,"tx":"` + testTx + `"}`,
		},
	}

	var results []evmpay.SettleResponse
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, evmhttp.RouteSettle, strings.NewReader(tt.body))
		req.Header.Set(echo.HeaderContentType, tt.contentType)
		req.AddCookie(cookie)

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, tt.name)

		var resp evmpay.SettleResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), tt.name)
		results = append(results, resp)
	}

	assert.True(t, results[0].Success)
	assert.Equal(t, "https://shop.test/checkout/order-received/1/?key=wc_order_abc", results[0].Data.Redirect)
	assert.False(t, results[1].Success)
	assert.Equal(t, evmpay.MessageAlreadySettled, results[1].Data.Message)

	order, err := store.Find(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, evmpay.OrderStatusPaid, order.Status)
}

func TestEchoSettleIgnoresQueryString(t *testing.T) {
	e, store := newTestEcho(t, Config{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, evmhttp.RouteConfig+"?order_id=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	var cfg evmpay.PaymentConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))

	query := url.Values{
		"action":   {evmpay.SettleAction},
		"nonce":    {cfg.Nonce},
		"order_id": {"1"},
		"tx":       {testTx},
	}.Encode()
	req := httptest.NewRequest(http.MethodPost, evmhttp.RouteSettle+"?"+query, strings.NewReader(""))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var resp evmpay.SettleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, evmpay.MessageSecurityTokenMissing, resp.Data.Message)

	order, err := store.Find(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, order.NeedsPayment())
}

func TestEchoUnknownOrder(t *testing.T) {
	e, _ := newTestEcho(t, Config{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, evmhttp.RouteConfig+"?order_id=99", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), evmpay.MessageOrderNotFound)
}

func TestEchoOrderReceivedPage(t *testing.T) {
	e, _ := newTestEcho(t, Config{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout/order-received/1/?key=wc_order_abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/html")
	assert.Contains(t, rec.Body.String(), "Pay with MetaMask")
}

func TestEchoRateLimit(t *testing.T) {
	e, _ := newTestEcho(t, Config{RateLimit: 1, RateBurst: 1})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, evmhttp.RouteConfig+"?order_id=1", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, evmhttp.RouteHealth, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEchoSessionKeepsValidCookie(t *testing.T) {
	e := echo.New()
	e.Use(Session(false))
	e.GET("/s", func(c echo.Context) error {
		return c.String(http.StatusOK, NewEchoAdapter(c).SessionID())
	})

	const id = "0f8fad5b-d9cb-469f-a165-70867728950e"
	req := httptest.NewRequest(http.MethodGet, "/s", nil)
	req.AddCookie(&http.Cookie{Name: evmhttp.SessionCookieName, Value: id})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Body.String())
	assert.Empty(t, rec.Result().Cookies())
}
