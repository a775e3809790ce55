package gin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stcchain/evmpay"
	"github.com/stcchain/evmpay/extensions/idempotency"
	evmhttp "github.com/stcchain/evmpay/http"
	"github.com/stcchain/evmpay/stores/memory"
)

const testTx = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, cfg Config) (*gin.Engine, *memory.Store) {
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

	return NewRouter(evmhttp.NewPaymentService(settler, store, settings, nonces), cfg), store
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == evmhttp.SessionCookieName {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func TestConfigThenSettle(t *testing.T) {
	router, store := newTestRouter(t, Config{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, evmhttp.RouteConfig+"?order_id=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)

	var cfg evmpay.PaymentConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, "5000000000000000000", cfg.TokenAmount)

	form := url.Values{
		"action":   {evmpay.SettleAction},
		"nonce":    {cfg.Nonce},
		"order_id": {"1"},
		"tx":       {testTx},
	}
	req := httptest.NewRequest(http.MethodPost, evmhttp.RouteSettle, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp evmpay.SettleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "https://shop.test/checkout/order-received/1/?key=wc_order_abc", resp.Data.Redirect)

	order, err := store.Find(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, evmpay.OrderStatusPaid, order.Status)

	// Replaying the same call reports the order as paid, still with 200
	req = httptest.NewRequest(http.MethodPost, evmhttp.RouteSettle, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, evmpay.MessageAlreadySettled, resp.Data.Message)
}

func TestSettleWithoutSessionFails(t *testing.T) {
	router, _ := newTestRouter(t, Config{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, evmhttp.RouteConfig+"?order_id=1", nil))
	var cfg evmpay.PaymentConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))

	body := `{"action":"verify_evm_payment","nonce":"` + cfg.Nonce + `","order_id":"1","tx":"` + testTx + `"}`
	req := httptest.NewRequest(http.MethodPost, evmhttp.RouteSettle, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp evmpay.SettleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, evmpay.MessageSecurityCheckFailed, resp.Data.Message)
}

func TestCheckoutRoute(t *testing.T) {
	router, _ := newTestRouter(t, Config{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders/1/checkout", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var result evmhttp.CheckoutResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "success", result.Result)
	assert.Equal(t, "https://shop.test/checkout/order-received/1/?key=wc_order_abc", result.Redirect)
}

func TestOrderReceivedRoute(t *testing.T) {
	router, _ := newTestRouter(t, Config{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout/order-received/1/?key=wc_order_abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Pay with MetaMask")
}

func TestHealthRoute(t *testing.T) {
	router, _ := newTestRouter(t, Config{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, evmhttp.RouteHealth, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestRateLimit(t *testing.T) {
	router, _ := newTestRouter(t, Config{RateLimit: 1, RateBurst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, evmhttp.RouteConfig+"?order_id=1", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Health is outside the limited group
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, evmhttp.RouteHealth, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1000, 1)
	clock := time.Now()
	rl.now = func() time.Time { return clock }
	rl.lastSweep = clock

	for _, ip := range []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"} {
		assert.True(t, rl.limiter(ip).Allow())
	}
	assert.Equal(t, 3, rl.Size())

	// Buckets refill in a millisecond, but nothing is swept before the interval
	time.Sleep(10 * time.Millisecond)
	rl.limiter("192.0.2.1")
	assert.Equal(t, 3, rl.Size())

	clock = clock.Add(limiterSweepInterval)
	rl.limiter("192.0.2.4")
	assert.Equal(t, 1, rl.Size())
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, Config{AllowOrigins: []string{"https://shop.test"}})

	req := httptest.NewRequest(http.MethodOptions, evmhttp.RouteSettle, nil)
	req.Header.Set("Origin", "https://shop.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://shop.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(zap.NewNop()))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestSessionKeepsValidCookie(t *testing.T) {
	r := gin.New()
	r.Use(Session(false))
	r.GET("/s", func(c *gin.Context) { c.String(http.StatusOK, NewGinAdapter(c).SessionID()) })

	const id = "0f8fad5b-d9cb-469f-a165-70867728950e"
	req := httptest.NewRequest(http.MethodGet, "/s", nil)
	req.AddCookie(&http.Cookie{Name: evmhttp.SessionCookieName, Value: id})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Body.String())
	assert.Empty(t, rec.Result().Cookies())
}
