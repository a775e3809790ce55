package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math/big"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/stcchain/evmpay"
	"github.com/stcchain/evmpay/mechanisms/evm"
)

// PendingNote is attached to an order when checkout hands it to the gateway.
const PendingNote = "Awaiting EVM token payment"

// MessageUnknownAction is returned when a settlement post names another action.
const MessageUnknownAction = "Unknown action"

// MessageGatewayDisabled is returned by Config and Checkout while the
// gateway is switched off.
const MessageGatewayDisabled = "Payment method is not available"

// PaymentService implements the gateway's HTTP operations independently of
// any web framework. Adapters translate their request into an HTTPAdapter
// and write the returned HTTPResponse.
type PaymentService struct {
	settler  *evmpay.Settler
	store    evmpay.OrderStore
	pending  evmpay.PendingMarker
	settings evmpay.GatewaySettings
	nonces   *NonceManager
	page     PageRenderer
	logger   *zap.Logger
}

// ServiceOption configures a PaymentService.
type ServiceOption func(*PaymentService)

// WithServiceLogger sets the logger. Default: zap.NewNop().
func WithServiceLogger(logger *zap.Logger) ServiceOption {
	return func(s *PaymentService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPageRenderer replaces the built-in order-received page.
func WithPageRenderer(page PageRenderer) ServiceOption {
	return func(s *PaymentService) {
		if page != nil {
			s.page = page
		}
	}
}

// NewPaymentService creates the service. When store also implements
// evmpay.PendingMarker, Checkout is enabled.
func NewPaymentService(
	settler *evmpay.Settler,
	store evmpay.OrderStore,
	settings evmpay.GatewaySettings,
	nonces *NonceManager,
	opts ...ServiceOption,
) *PaymentService {
	s := &PaymentService{
		settler:  settler,
		store:    store,
		settings: settings,
		nonces:   nonces,
		page:     DefaultPageRenderer(),
		logger:   zap.NewNop(),
	}
	if pm, ok := store.(evmpay.PendingMarker); ok {
		s.pending = pm
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ============================================================================
// Settlement
// ============================================================================

// Settle handles RouteSettle. The response is always HTTP 200 with the
// {success, data} envelope, except for a post naming another action.
func (s *PaymentService) Settle(ctx context.Context, adapter HTTPAdapter) HTTPResponse {
	req := s.decodeSettleRequest(adapter)

	if req.Action != "" && req.Action != evmpay.SettleAction {
		return HTTPResponse{
			Status: http.StatusBadRequest,
			Body:   &evmpay.SettleResponse{Data: evmpay.SettleData{Message: MessageUnknownAction}},
		}
	}

	resp, _ := s.settler.Settle(ctx, req)
	return HTTPResponse{Status: http.StatusOK, Body: resp}
}

// decodeSettleRequest reads the settlement fields from a JSON or form body.
// An unreadable body decodes to an empty request, which the settler then
// rejects at its first gate.
func (s *PaymentService) decodeSettleRequest(adapter HTTPAdapter) evmpay.SettleRequest {
	var req evmpay.SettleRequest

	if strings.Contains(adapter.GetHeader("Content-Type"), "application/json") {
		body, err := adapter.Body()
		if err == nil && len(body) > 0 {
			var raw struct {
				Action  string          `json:"action"`
				Nonce   string          `json:"nonce"`
				OrderID json.RawMessage `json:"order_id"`
				Tx      string          `json:"tx"`
			}
			if err = json.Unmarshal(body, &raw); err == nil {
				req.Action = raw.Action
				req.Nonce = raw.Nonce
				req.OrderID = strings.Trim(string(raw.OrderID), `"`)
				req.Tx = raw.Tx
			}
		}
		if err != nil {
			s.logger.Debug("unreadable settlement body", zap.Error(err))
		}
	} else {
		req.Action = adapter.FormValue("action")
		req.Nonce = adapter.FormValue("nonce")
		req.OrderID = adapter.FormValue("order_id")
		req.Tx = adapter.FormValue("tx")
	}

	req.SessionID = adapter.SessionID()
	return req
}

// ============================================================================
// Payment configuration
// ============================================================================

// Config handles RouteConfig: the wallet parameters for one unpaid order.
func (s *PaymentService) Config(ctx context.Context, adapter HTTPAdapter) HTTPResponse {
	if !s.settings.Enabled {
		return errorResponse(http.StatusServiceUnavailable, MessageGatewayDisabled)
	}

	order, failure := s.payableOrder(ctx, adapter.Query("order_id"))
	if failure != nil {
		return *failure
	}

	cfg, err := s.PaymentConfig(order, adapter.SessionID())
	if err != nil {
		s.logger.Error("failed to build payment config", zap.Uint64("order_id", order.ID), zap.Error(err))
		return errorResponse(http.StatusInternalServerError, err.Error())
	}
	return HTTPResponse{Status: http.StatusOK, Body: cfg}
}

// PaymentConfig builds the wallet parameters for order with a fresh nonce
// bound to sessionID.
func (s *PaymentService) PaymentConfig(order *evmpay.Order, sessionID string) (*evmpay.PaymentConfig, error) {
	req := evmpay.PaymentRequestFor(order, s.settings)
	tokenAmount, err := evm.CalculateTokenAmount(req.Amount, req.Decimals)
	if err != nil {
		return nil, err
	}

	nonce, err := s.nonces.Issue(sessionID)
	if err != nil {
		return nil, err
	}

	return &evmpay.PaymentConfig{
		NetworkID:       s.settings.NetworkID,
		ContractAddress: s.settings.ContractAddress,
		TargetAddress:   s.settings.TargetAddress,
		TokenDecimals:   s.settings.TokenDecimals,
		ABI:             json.RawMessage(s.settings.ABI),
		Nonce:           nonce,
		OrderID:         order.ID,
		Amount:          order.Total,
		TokenAmount:     tokenAmount,
	}, nil
}

// payableOrder loads the order named by rawID, or the error response to send
// when it does not exist or no longer needs payment.
func (s *PaymentService) payableOrder(ctx context.Context, rawID string) (*evmpay.Order, *HTTPResponse) {
	id, err := evmpay.ParseOrderID(rawID)
	if err != nil {
		resp := errorResponse(http.StatusBadRequest, evmpay.MessageMissingData)
		return nil, &resp
	}

	order, err := s.store.Find(ctx, id)
	if err != nil {
		resp := s.findFailure(id, err)
		return nil, &resp
	}
	if !s.store.NeedsPayment(order) {
		resp := errorResponse(http.StatusNotFound, evmpay.MessageAlreadySettled)
		return nil, &resp
	}
	return order, nil
}

func (s *PaymentService) findFailure(id uint64, err error) HTTPResponse {
	if errors.Is(err, evmpay.ErrOrderNotFound) {
		return errorResponse(http.StatusNotFound, evmpay.MessageOrderNotFound)
	}
	s.logger.Error("order lookup failed", zap.Uint64("order_id", id), zap.Error(err))
	return errorResponse(http.StatusInternalServerError, evmpay.MessageServerErrorPrefix+err.Error())
}

// ============================================================================
// Checkout
// ============================================================================

// CheckoutResult is the checkout response body.
type CheckoutResult struct {
	Result   string `json:"result"`
	Redirect string `json:"redirect,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Checkout handles RouteCheckout: the order moves to pending and the buyer
// is sent to the order-received page to pay. A disabled gateway takes no
// new checkouts; orders already pending can still be settled.
func (s *PaymentService) Checkout(ctx context.Context, adapter HTTPAdapter) HTTPResponse {
	if !s.settings.Enabled {
		return HTTPResponse{
			Status: http.StatusServiceUnavailable,
			Body:   CheckoutResult{Result: "failure", Message: MessageGatewayDisabled},
		}
	}
	if s.pending == nil {
		return HTTPResponse{
			Status: http.StatusNotImplemented,
			Body:   CheckoutResult{Result: "failure", Message: "order store does not support checkout"},
		}
	}

	id, err := evmpay.ParseOrderID(adapter.Param("id"))
	if err != nil {
		return HTTPResponse{Status: http.StatusBadRequest, Body: CheckoutResult{Result: "failure", Message: evmpay.MessageMissingData}}
	}

	order, err := s.pending.MarkPending(ctx, id, PendingNote)
	switch {
	case errors.Is(err, evmpay.ErrOrderNotFound):
		return HTTPResponse{Status: http.StatusNotFound, Body: CheckoutResult{Result: "failure", Message: evmpay.MessageOrderNotFound}}
	case errors.Is(err, evmpay.ErrAlreadySettled):
		return HTTPResponse{Status: http.StatusConflict, Body: CheckoutResult{Result: "failure", Message: evmpay.MessageAlreadySettled}}
	case err != nil:
		s.logger.Error("checkout failed", zap.Uint64("order_id", id), zap.Error(err))
		return HTTPResponse{Status: http.StatusInternalServerError, Body: CheckoutResult{Result: "failure", Message: evmpay.MessageServerErrorPrefix + err.Error()}}
	}

	s.logger.Info("order awaiting payment", zap.Uint64("order_id", id))
	return HTTPResponse{
		Status: http.StatusOK,
		Body:   CheckoutResult{Result: "success", Redirect: evmpay.OrderReceivedURL(s.settings.ReturnBaseURL)(order)},
	}
}

// ============================================================================
// Order-received page
// ============================================================================

// OrderReceivedPage handles RouteOrderReceived. Unpaid orders get the
// payment button; paid orders get a plain confirmation.
func (s *PaymentService) OrderReceivedPage(ctx context.Context, adapter HTTPAdapter) HTTPResponse {
	id, err := evmpay.ParseOrderID(adapter.Param("id"))
	if err != nil {
		return htmlResponse(http.StatusBadRequest, evmpay.MessageMissingData)
	}

	order, err := s.store.Find(ctx, id)
	if err != nil {
		failure := s.findFailure(id, err)
		return htmlResponse(failure.Status, http.StatusText(failure.Status))
	}
	if adapter.Query("key") != order.OrderKey {
		return htmlResponse(http.StatusNotFound, evmpay.MessageOrderNotFound)
	}

	data := PageData{
		Title:        s.settings.Title,
		Description:  s.settings.Description,
		Order:        order,
		NeedsPayment: s.store.NeedsPayment(order),
		SettleURL:    RouteSettle,
	}
	if data.NeedsPayment {
		cfg, err := s.PaymentConfig(order, adapter.SessionID())
		if err != nil {
			s.logger.Error("failed to build payment config", zap.Uint64("order_id", id), zap.Error(err))
			return htmlResponse(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		amount, ok := new(big.Int).SetString(cfg.TokenAmount, 10)
		if !ok {
			return htmlResponse(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		calldata, err := evm.EncodeTransfer([]byte(s.settings.ABI), cfg.TargetAddress, amount)
		if err != nil {
			s.logger.Error("failed to encode transfer", zap.Uint64("order_id", id), zap.Error(err))
			return htmlResponse(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		}
		data.Config = cfg
		data.TransferData = encodeCalldata(calldata)
	}

	page, err := s.page.Render(data)
	if err != nil {
		s.logger.Error("failed to render page", zap.Uint64("order_id", id), zap.Error(err))
		return htmlResponse(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
	return HTTPResponse{Status: http.StatusOK, ContentType: ContentTypeHTML, Body: page}
}

// ============================================================================
// Health
// ============================================================================

// Health handles RouteHealth.
func (s *PaymentService) Health(ctx context.Context) HTTPResponse {
	return HTTPResponse{Status: http.StatusOK, Body: map[string]interface{}{
		"status":  "ok",
		"enabled": s.settings.Enabled,
		"network": s.settings.NetworkID.CAIP2(),
	}}
}

func errorResponse(status int, message string) HTTPResponse {
	return HTTPResponse{Status: status, Body: map[string]string{"error": message}}
}

func htmlResponse(status int, message string) HTTPResponse {
	return HTTPResponse{
		Status:      status,
		ContentType: ContentTypeHTML,
		Body:        fmt.Sprintf("<!DOCTYPE html><html><body><p>%s</p></body></html>", html.EscapeString(message)),
	}
}
