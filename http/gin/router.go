package gin

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	evmhttp "github.com/stcchain/evmpay/http"
)

// Config configures NewRouter.
type Config struct {
	// AllowOrigins enables CORS for these origins. Empty disables CORS.
	AllowOrigins []string

	// RateLimit is requests per second per IP on the API routes; 0 disables it.
	RateLimit float64
	RateBurst int

	// Limiter overrides RateLimit and RateBurst, so one limiter can be
	// shared between routers.
	Limiter *RateLimiter

	// SecureCookies marks the session cookie Secure.
	SecureCookies bool

	Logger *zap.Logger
}

// NewRouter builds a gin engine serving every gateway route.
func NewRouter(svc *evmhttp.PaymentService, cfg Config) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(Recovery(logger), Logger(logger))

	if len(cfg.AllowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(Session(cfg.SecureCookies))

	r.GET(evmhttp.RouteHealth, func(c *gin.Context) {
		write(c, svc.Health(c.Request.Context()))
	})
	r.GET(evmhttp.RouteOrderReceived, handle(svc.OrderReceivedPage))

	api := r.Group("")
	limiter := cfg.Limiter
	if limiter == nil && cfg.RateLimit > 0 {
		limiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	if limiter != nil {
		api.Use(limiter.Middleware())
	}
	Register(api, svc)

	return r
}

// Register adds the API routes to an existing router. The session
// middleware must already be installed.
func Register(r gin.IRoutes, svc *evmhttp.PaymentService) {
	r.POST(evmhttp.RouteSettle, handle(svc.Settle))
	r.GET(evmhttp.RouteConfig, handle(svc.Config))
	r.POST(evmhttp.RouteCheckout, handle(svc.Checkout))
}

func handle(fn func(context.Context, evmhttp.HTTPAdapter) evmhttp.HTTPResponse) gin.HandlerFunc {
	return func(c *gin.Context) {
		write(c, fn(c.Request.Context(), NewGinAdapter(c)))
	}
}

func write(c *gin.Context, resp evmhttp.HTTPResponse) {
	if resp.ContentType == evmhttp.ContentTypeHTML {
		body, _ := resp.Body.(string)
		c.Data(resp.Status, resp.ContentType, []byte(body))
		return
	}
	c.JSON(resp.Status, resp.Body)
}
