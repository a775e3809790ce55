package echo

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	evmhttp "github.com/stcchain/evmpay/http"
)

// Config configures NewEcho.
type Config struct {
	AllowOrigins []string

	// RateLimit is requests per second per client on the API routes; 0 disables it.
	RateLimit float64
	RateBurst int

	SecureCookies bool
	Logger        *zap.Logger
}

// NewEcho builds an echo instance serving every gateway route.
func NewEcho(svc *evmhttp.PaymentService, cfg Config) *echo.Echo {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(RequestLogger(logger))
	if len(cfg.AllowOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     cfg.AllowOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
			AllowCredentials: true,
			MaxAge:           int((12 * time.Hour).Seconds()),
		}))
	}
	e.Use(Session(cfg.SecureCookies))

	e.GET(evmhttp.RouteHealth, func(c echo.Context) error {
		return write(c, svc.Health(c.Request().Context()))
	})
	e.GET(evmhttp.RouteOrderReceived, handle(svc.OrderReceivedPage))

	api := e.Group("")
	if cfg.RateLimit > 0 {
		api.Use(RateLimiter(cfg.RateLimit, cfg.RateBurst))
	}
	Register(api, svc)

	return e
}

// Register adds the API routes to a group. The session middleware must
// already be installed.
func Register(g *echo.Group, svc *evmhttp.PaymentService) {
	g.POST(evmhttp.RouteSettle, handle(svc.Settle))
	g.GET(evmhttp.RouteConfig, handle(svc.Config))
	g.POST(evmhttp.RouteCheckout, handle(svc.Checkout))
}

// Session issues the session cookie when the request has none.
func Session(secure bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			existing := ""
			if cookie, err := c.Cookie(evmhttp.SessionCookieName); err == nil {
				existing = cookie.Value
			}
			id, created := evmhttp.EnsureSession(existing)
			if created {
				c.SetCookie(evmhttp.SessionCookie(id, secure))
			}
			c.Set(sessionKey, id)
			return next(c)
		}
	}
}

// RateLimiter limits each client IP to perSecond requests.
func RateLimiter(perSecond float64, burst int) echo.MiddlewareFunc {
	if burst <= 0 {
		burst = int(perSecond) + 1
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     burst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Unable to identify client"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "Too many requests, please try later."})
		},
	})
}

// RequestLogger writes one structured entry per request.
func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogMethod:   true,
		LogURIPath:  true,
		LogRemoteIP: true,
		LogLatency:  true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.Int("status", v.Status),
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.String("ip", v.RemoteIP),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Error("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	})
}

func handle(fn func(context.Context, evmhttp.HTTPAdapter) evmhttp.HTTPResponse) echo.HandlerFunc {
	return func(c echo.Context) error {
		return write(c, fn(c.Request().Context(), NewEchoAdapter(c)))
	}
}

func write(c echo.Context, resp evmhttp.HTTPResponse) error {
	if resp.ContentType == evmhttp.ContentTypeHTML {
		body, _ := resp.Body.(string)
		return c.HTML(resp.Status, body)
	}
	return c.JSON(resp.Status, resp.Body)
}
