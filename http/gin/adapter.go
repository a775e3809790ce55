// Package gin binds the evmpay payment service to the gin web framework.
package gin

import (
	"github.com/gin-gonic/gin"

	evmhttp "github.com/stcchain/evmpay/http"
)

// sessionKey is the gin context key holding the session id.
const sessionKey = "evmpay.session"

// GinAdapter implements evmhttp.HTTPAdapter for gin.
type GinAdapter struct {
	ctx *gin.Context
}

// NewGinAdapter creates a new Gin adapter
func NewGinAdapter(ctx *gin.Context) *GinAdapter {
	return &GinAdapter{ctx: ctx}
}

// GetHeader gets a request header
func (a *GinAdapter) GetHeader(name string) string {
	return a.ctx.GetHeader(name)
}

// GetMethod gets the HTTP method
func (a *GinAdapter) GetMethod() string {
	return a.ctx.Request.Method
}

// GetPath gets the request path
func (a *GinAdapter) GetPath() string {
	return a.ctx.Request.URL.Path
}

// GetURL gets the full request URL
func (a *GinAdapter) GetURL() string {
	scheme := "http"
	if a.ctx.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + a.ctx.Request.Host + a.ctx.Request.URL.RequestURI()
}

func (a *GinAdapter) Param(name string) string {
	return a.ctx.Param(name)
}

func (a *GinAdapter) Query(name string) string {
	return a.ctx.Query(name)
}

func (a *GinAdapter) FormValue(name string) string {
	return a.ctx.PostForm(name)
}

func (a *GinAdapter) Body() ([]byte, error) {
	return a.ctx.GetRawData()
}

// SessionID returns the id set by the Session middleware.
func (a *GinAdapter) SessionID() string {
	return a.ctx.GetString(sessionKey)
}

var _ evmhttp.HTTPAdapter = (*GinAdapter)(nil)
