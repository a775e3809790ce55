// Package echo binds the evmpay payment service to the echo web framework.
package echo

import (
	"io"

	"github.com/labstack/echo/v4"

	evmhttp "github.com/stcchain/evmpay/http"
)

// sessionKey is the echo context key holding the session id.
const sessionKey = "evmpay.session"

// EchoAdapter implements evmhttp.HTTPAdapter for echo.
type EchoAdapter struct {
	ctx echo.Context
}

// NewEchoAdapter creates a new Echo adapter
func NewEchoAdapter(ctx echo.Context) *EchoAdapter {
	return &EchoAdapter{ctx: ctx}
}

func (a *EchoAdapter) GetHeader(name string) string {
	return a.ctx.Request().Header.Get(name)
}

func (a *EchoAdapter) GetMethod() string {
	return a.ctx.Request().Method
}

func (a *EchoAdapter) GetPath() string {
	return a.ctx.Request().URL.Path
}

func (a *EchoAdapter) GetURL() string {
	return a.ctx.Scheme() + "://" + a.ctx.Request().Host + a.ctx.Request().URL.RequestURI()
}

func (a *EchoAdapter) Param(name string) string {
	return a.ctx.Param(name)
}

func (a *EchoAdapter) Query(name string) string {
	return a.ctx.QueryParam(name)
}

// FormValue reads the request body only; query parameters are ignored.
func (a *EchoAdapter) FormValue(name string) string {
	return a.ctx.Request().PostFormValue(name)
}

func (a *EchoAdapter) Body() ([]byte, error) {
	return io.ReadAll(a.ctx.Request().Body)
}

func (a *EchoAdapter) SessionID() string {
	id, _ := a.ctx.Get(sessionKey).(string)
	return id
}

var _ evmhttp.HTTPAdapter = (*EchoAdapter)(nil)
