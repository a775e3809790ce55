// Package http exposes the settlement flow over HTTP: a framework-neutral
// PaymentService, anti-forgery nonces, the order-received payment page and
// a client for the settlement call. Framework bindings live in http/gin
// and http/echo.
package http

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Routes served by the framework adapters.
const (
	RouteSettle        = "/api/payments/settle"
	RouteConfig        = "/api/payments/config"
	RouteCheckout      = "/api/orders/:id/checkout"
	RouteOrderReceived = "/checkout/order-received/:id/"
	RouteHealth        = "/health"
)

// SessionCookieName carries the session id nonces are bound to.
const SessionCookieName = "evmpay_session"

// sessionCookieMaxAge matches the default nonce lifetime.
const sessionCookieMaxAge = 24 * time.Hour

// HTTPAdapter abstracts the framework request so PaymentService can be
// driven by gin, echo or net/http alike.
type HTTPAdapter interface {
	GetHeader(name string) string
	GetMethod() string
	GetPath() string
	GetURL() string

	// Param returns a path parameter such as ":id"
	Param(name string) string

	// Query returns a query string value
	Query(name string) string

	// FormValue returns a urlencoded or multipart form value
	FormValue(name string) string

	// Body returns the raw request body
	Body() ([]byte, error)

	// SessionID returns the session established by the session middleware
	SessionID() string
}

// HTTPResponse is what an adapter writes back. Body is JSON-encoded unless
// ContentType says otherwise, in which case it must be a string.
type HTTPResponse struct {
	Status      int
	ContentType string
	Body        interface{}
}

// ContentTypeHTML marks an HTTPResponse whose Body is an HTML string.
const ContentTypeHTML = "text/html; charset=utf-8"

// EnsureSession returns existing when it is a well-formed session id and a
// freshly generated one otherwise. created reports which case applied.
func EnsureSession(existing string) (id string, created bool) {
	if _, err := uuid.Parse(existing); err == nil {
		return existing, false
	}
	return uuid.NewString(), true
}

// SessionCookie builds the session cookie for id.
func SessionCookie(id string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// RandomSecret returns a hex-encoded 32-byte secret for nonce signing when
// none is configured. Tokens signed with it do not survive a restart.
func RandomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
