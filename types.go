package evmpay

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TxReferenceLength is the rendered length of a 32-byte hash: "0x" + 64 hex chars.
const TxReferenceLength = 66

// TxReference is the opaque handle of a broadcast on-chain transfer.
type TxReference string

// Valid reports whether the reference has the well-formed shape: exactly 66
// characters beginning with "0x". The remaining characters are not checked
// for hex; settlement only ever performed this superficial check.
func (r TxReference) Valid() bool {
	return len(r) == TxReferenceLength && strings.HasPrefix(string(r), "0x")
}

func (r TxReference) String() string {
	return string(r)
}

// Network is a numeric EVM chain identifier kept in its configured string form
// (e.g. "1" for Ethereum mainnet, "56" for BSC).
type Network string

// ChainID parses the network into a uint64 chain id.
func (n Network) ChainID() (uint64, error) {
	id, err := strconv.ParseUint(string(n), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid network format: %s", n)
	}
	return id, nil
}

// CAIP2 renders the network as a CAIP-2 identifier ("eip155:<chain id>").
func (n Network) CAIP2() string {
	return "eip155:" + string(n)
}

// Match compares two networks by numeric value so "056" and "56" agree.
func (n Network) Match(other Network) bool {
	if n == other {
		return true
	}
	a, errA := n.ChainID()
	b, errB := other.ChainID()
	return errA == nil && errB == nil && a == b
}

// OrderStatus is the payment status of an order as seen by this gateway.
type OrderStatus string

const (
	OrderStatusUnpaid  OrderStatus = "unpaid"
	OrderStatusPending OrderStatus = "pending"
	OrderStatusPaid    OrderStatus = "paid"
)

// OrderNote is an audit note attached to an order.
type OrderNote struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Order is the store's unit of sale. The gateway only reads its status and
// triggers the paid transition; everything else belongs to the order store.
type Order struct {
	ID        uint64          `json:"id"`
	OrderKey  string          `json:"order_key"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency"`
	Status    OrderStatus     `json:"status"`
	TxHash    string          `json:"tx_hash,omitempty"`
	Notes     []OrderNote     `json:"notes,omitempty"`
	PaidAt    *time.Time      `json:"paid_at,omitempty"`
	Version   int64           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NeedsPayment reports whether the order still requires payment.
func (o *Order) NeedsPayment() bool {
	return o != nil && o.Status != OrderStatusPaid
}

// PaymentRequest is one attempt to pay an order on-chain.
type PaymentRequest struct {
	OrderID         uint64          `json:"orderId"`
	Amount          decimal.Decimal `json:"amount"`
	Decimals        int             `json:"decimals"`
	Recipient       string          `json:"recipient"`
	ContractAddress string          `json:"contractAddress"`
}

// PaymentConfig is everything the payment page needs to drive the wallet
// for one order.
type PaymentConfig struct {
	NetworkID       Network         `json:"networkId"`
	ContractAddress string          `json:"contractAddress"`
	TargetAddress   string          `json:"targetAddress"`
	TokenDecimals   int             `json:"tokenDecimals"`
	ABI             json.RawMessage `json:"abiArray"`
	Nonce           string          `json:"nonce"`
	OrderID         uint64          `json:"orderId"`
	Amount          decimal.Decimal `json:"amount"`
	TokenAmount     string          `json:"tokenAmount"`
}

// SettleRequest is the raw input of one settlement call. OrderID stays a
// string so presence and parse failures are decided by the settler's gates.
type SettleRequest struct {
	Action    string `json:"action" form:"action"`
	Nonce     string `json:"nonce" form:"nonce"`
	OrderID   string `json:"order_id" form:"order_id"`
	Tx        string `json:"tx" form:"tx"`
	SessionID string `json:"-" form:"-"`
}

// SettleData is the data member of the settlement envelope.
type SettleData struct {
	Message  string `json:"message"`
	Redirect string `json:"redirect,omitempty"`
	Code     string `json:"code,omitempty"`
}

// SettleResponse is the settlement envelope: {success, data:{message, redirect}}.
type SettleResponse struct {
	Success bool       `json:"success"`
	Data    SettleData `json:"data"`
}

// NewSettleSuccess builds a success envelope.
func NewSettleSuccess(message, redirect string) *SettleResponse {
	return &SettleResponse{
		Success: true,
		Data:    SettleData{Message: message, Redirect: redirect},
	}
}

// NewSettleFailure builds a failure envelope from a payment error.
func NewSettleFailure(err *PaymentError) *SettleResponse {
	return &SettleResponse{
		Success: false,
		Data:    SettleData{Message: err.Message, Code: err.Code},
	}
}

// ParseOrderID parses a positive integer order identifier.
func ParseOrderID(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid order id: %q", raw)
	}
	return id, nil
}
