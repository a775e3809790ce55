// Package stdlib serves the payment gateway with net/http alone.
package stdlib

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	evmhttp "github.com/stcchain/evmpay/http"
)

// DefaultMaxBodyBytes caps request bodies read by the settlement endpoint.
const DefaultMaxBodyBytes = 64 << 10

// HandlerOptions configures NewHandler.
type HandlerOptions struct {
	SecureCookies bool
	MaxBodyBytes  int64
	Logger        *zap.Logger
}

// Options is the type for the options for NewHandler.
type Options func(*HandlerOptions)

// WithSecureCookies marks the session cookie Secure.
func WithSecureCookies(secure bool) Options {
	return func(options *HandlerOptions) {
		options.SecureCookies = secure
	}
}

// WithMaxBodyBytes sets the request body limit.
func WithMaxBodyBytes(n int64) Options {
	return func(options *HandlerOptions) {
		if n > 0 {
			options.MaxBodyBytes = n
		}
	}
}

// WithLogger sets the logger used for panics. Default: zap.NewNop().
func WithLogger(logger *zap.Logger) Options {
	return func(options *HandlerOptions) {
		if logger != nil {
			options.Logger = logger
		}
	}
}

// NewHandler returns an http.Handler serving every gateway route.
func NewHandler(svc *evmhttp.PaymentService, opts ...Options) http.Handler {
	options := &HandlerOptions{
		MaxBodyBytes: DefaultMaxBodyBytes,
		Logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(options)
	}

	mux := http.NewServeMux()
	mux.Handle("POST "+evmhttp.RouteSettle, wrap(svc.Settle, options))
	mux.Handle("GET "+evmhttp.RouteConfig, wrap(svc.Config, options))
	mux.Handle("POST "+muxPattern(evmhttp.RouteCheckout), wrap(svc.Checkout, options))
	mux.Handle("GET "+muxPattern(evmhttp.RouteOrderReceived), wrap(svc.OrderReceivedPage, options))
	mux.HandleFunc("GET "+evmhttp.RouteHealth, func(w http.ResponseWriter, r *http.Request) {
		write(w, svc.Health(r.Context()))
	})

	return recoverer(mux, options.Logger)
}

// muxPattern converts ":name" segments to ServeMux "{name}" wildcards. A
// trailing slash is anchored with {$} so it does not match a subtree.
func muxPattern(route string) string {
	segments := strings.Split(route, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			segments[i] = "{" + seg[1:] + "}"
		}
	}
	pattern := strings.Join(segments, "/")
	if strings.HasSuffix(pattern, "/") {
		pattern += "{$}"
	}
	return pattern
}

func wrap(fn func(context.Context, evmhttp.HTTPAdapter) evmhttp.HTTPResponse, options *HandlerOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		existing := ""
		if cookie, err := r.Cookie(evmhttp.SessionCookieName); err == nil {
			existing = cookie.Value
		}
		id, created := evmhttp.EnsureSession(existing)
		if created {
			http.SetCookie(w, evmhttp.SessionCookie(id, options.SecureCookies))
		}

		r.Body = http.MaxBytesReader(w, r.Body, options.MaxBodyBytes)
		write(w, fn(r.Context(), &adapter{r: r, sessionID: id}))
	})
}

func recoverer(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("panic recovered", zap.Any("panic", v), zap.String("path", r.URL.Path))
				write(w, evmhttp.HTTPResponse{
					Status: http.StatusInternalServerError,
					Body:   map[string]string{"error": "internal server error"},
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func write(w http.ResponseWriter, resp evmhttp.HTTPResponse) {
	if resp.ContentType == evmhttp.ContentTypeHTML {
		body, _ := resp.Body.(string)
		w.Header().Set("Content-Type", resp.ContentType)
		w.WriteHeader(resp.Status)
		_, _ = io.WriteString(w, body)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.Status)
	_ = json.NewEncoder(w).Encode(resp.Body)
}

// adapter implements evmhttp.HTTPAdapter over *http.Request.
type adapter struct {
	r         *http.Request
	sessionID string
}

func (a *adapter) GetHeader(name string) string { return a.r.Header.Get(name) }
func (a *adapter) GetMethod() string            { return a.r.Method }
func (a *adapter) GetPath() string              { return a.r.URL.Path }
func (a *adapter) Param(name string) string     { return a.r.PathValue(name) }
func (a *adapter) Query(name string) string     { return a.r.URL.Query().Get(name) }
func (a *adapter) FormValue(name string) string { return a.r.PostFormValue(name) }
func (a *adapter) Body() ([]byte, error)        { return io.ReadAll(a.r.Body) }
func (a *adapter) SessionID() string            { return a.sessionID }

func (a *adapter) GetURL() string {
	scheme := "http"
	if a.r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + a.r.Host + a.r.URL.RequestURI()
}

var _ evmhttp.HTTPAdapter = (*adapter)(nil)
