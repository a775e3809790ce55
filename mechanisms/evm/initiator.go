package evm

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stcchain/evmpay"
)

// PaymentInitiator drives a wallet through one token payment: connect,
// check the network, submit transfer(recipient, amount), report the hash.
//
// A chain or account change invalidates the cached connection; the next
// submission reconnects. Nothing is retried automatically.
type PaymentInitiator struct {
	provider    WalletProvider
	contractABI []byte
	reporter    SettlementReporter
	logger      *zap.Logger

	mu        sync.Mutex
	account   string
	connected bool
}

// InitiatorOption configures a PaymentInitiator.
type InitiatorOption func(*PaymentInitiator)

// WithContractABI sets the token ABI used to encode transfer calls.
// Default: ERC20TransferABI.
func WithContractABI(contractABI []byte) InitiatorOption {
	return func(p *PaymentInitiator) {
		if len(contractABI) > 0 {
			p.contractABI = contractABI
		}
	}
}

// WithReporter sets where Pay reports broadcast transactions.
func WithReporter(reporter SettlementReporter) InitiatorOption {
	return func(p *PaymentInitiator) {
		p.reporter = reporter
	}
}

// WithInitiatorLogger sets the logger. Default: zap.NewNop().
func WithInitiatorLogger(logger *zap.Logger) InitiatorOption {
	return func(p *PaymentInitiator) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPaymentInitiator creates an initiator. provider may be nil, in which
// case every operation fails with wallet_unavailable.
func NewPaymentInitiator(provider WalletProvider, opts ...InitiatorOption) *PaymentInitiator {
	p := &PaymentInitiator{
		provider:    provider,
		contractABI: ERC20TransferABI,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ConnectWallet requests account access and caches the selected account.
func (p *PaymentInitiator) ConnectWallet(ctx context.Context) (string, error) {
	if p.provider == nil {
		return "", evmpay.NewPaymentError(evmpay.ErrCodeWalletUnavailable, MessageWalletUnavailable, nil)
	}

	accounts, err := p.provider.RequestAccounts(ctx)
	if err != nil {
		if IsUserRejection(err) {
			return "", evmpay.WrapPaymentError(evmpay.ErrCodeUserRejected, MessageUserRejected, err)
		}
		return "", evmpay.WrapPaymentError(evmpay.ErrCodeWalletUnavailable, err.Error(), err)
	}
	if len(accounts) == 0 {
		return "", evmpay.NewPaymentError(evmpay.ErrCodeWalletUnavailable, MessageNoAccounts, nil)
	}

	p.mu.Lock()
	p.account = accounts[0]
	p.connected = true
	p.mu.Unlock()

	p.logger.Debug("wallet connected", zap.String("account", accounts[0]))
	return accounts[0], nil
}

// Connected returns the cached account and whether a connection is live.
func (p *PaymentInitiator) Connected() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.account, p.connected
}

// ValidateNetwork checks the wallet's chain against the configured one.
func (p *PaymentInitiator) ValidateNetwork(ctx context.Context, expected evmpay.Network) error {
	if p.provider == nil {
		return evmpay.NewPaymentError(evmpay.ErrCodeWalletUnavailable, MessageWalletUnavailable, nil)
	}

	chainID, err := p.provider.ChainID(ctx)
	if err != nil {
		if IsUserRejection(err) {
			return evmpay.WrapPaymentError(evmpay.ErrCodeUserRejected, MessageUserRejected, err)
		}
		return evmpay.WrapPaymentError(evmpay.ErrCodeWalletUnavailable, err.Error(), err)
	}

	if chainID == nil || !evmpay.Network(chainID.String()).Match(expected) {
		got := "<nil>"
		if chainID != nil {
			got = chainID.String()
		}
		return evmpay.NewPaymentError(evmpay.ErrCodeWrongNetwork,
			fmt.Sprintf("Please switch to network %s", expected),
			map[string]interface{}{"expected": string(expected), "actual": got})
	}
	return nil
}

// SubmitPayment sends transfer(recipient, amount) to the token contract and
// returns the transaction reference once the wallet has broadcast it.
func (p *PaymentInitiator) SubmitPayment(ctx context.Context, req evmpay.PaymentRequest) (evmpay.TxReference, error) {
	return p.submit(ctx, req, p.contractABI)
}

func (p *PaymentInitiator) submit(ctx context.Context, req evmpay.PaymentRequest, contractABI []byte) (evmpay.TxReference, error) {
	if p.provider == nil {
		return "", evmpay.NewPaymentError(evmpay.ErrCodeWalletUnavailable, MessageWalletUnavailable, nil)
	}

	tokenAmount, err := CalculateTokenAmount(req.Amount, req.Decimals)
	if err != nil {
		return "", err
	}
	if err := evmpay.ValidatePaymentRequest(req); err != nil {
		return "", evmpay.WrapPaymentError(evmpay.ErrCodeTransferFailed, err.Error(), err)
	}

	account, connected := p.Connected()
	if !connected {
		if account, err = p.ConnectWallet(ctx); err != nil {
			return "", err
		}
	}

	value, _ := new(big.Int).SetString(tokenAmount, 10)
	calldata, err := EncodeTransfer(contractABI, req.Recipient, value)
	if err != nil {
		return "", evmpay.WrapPaymentError(evmpay.ErrCodeTransferFailed, err.Error(), err)
	}

	p.logger.Info("submitting token transfer",
		zap.Uint64("order_id", req.OrderID),
		zap.String("from", account),
		zap.String("to", req.Recipient),
		zap.String("contract", req.ContractAddress),
		zap.String("amount", tokenAmount),
		zap.Int("decimals", req.Decimals),
	)

	txHash, err := p.provider.SendContractCall(ctx, ContractCall{
		From: account,
		To:   req.ContractAddress,
		Data: calldata,
	})
	if err != nil {
		if IsUserRejection(err) {
			return "", evmpay.WrapPaymentError(evmpay.ErrCodeUserRejected, MessageUserRejected, err)
		}
		return "", evmpay.WrapPaymentError(evmpay.ErrCodeTransferFailed, err.Error(), err)
	}

	return evmpay.TxReference(txHash), nil
}

// SubmitOrderPayment is SubmitPayment with the request spelled out.
func (p *PaymentInitiator) SubmitOrderPayment(
	ctx context.Context,
	orderID uint64,
	amount decimal.Decimal,
	recipient string,
	contractAddress string,
	decimals int,
) (evmpay.TxReference, error) {
	return p.SubmitPayment(ctx, evmpay.PaymentRequest{
		OrderID:         orderID,
		Amount:          amount,
		Decimals:        decimals,
		Recipient:       recipient,
		ContractAddress: contractAddress,
	})
}

// HandleChainChanged drops the cached connection after a network switch.
func (p *PaymentInitiator) HandleChainChanged() {
	p.invalidate("chain changed")
}

// HandleAccountsChanged drops the cached connection after an account switch.
func (p *PaymentInitiator) HandleAccountsChanged() {
	p.invalidate("accounts changed")
}

func (p *PaymentInitiator) invalidate(reason string) {
	p.mu.Lock()
	p.account = ""
	p.connected = false
	p.mu.Unlock()
	p.logger.Debug("wallet connection invalidated", zap.String("reason", reason))
}

// Pay runs the whole payment flow for a payment page configuration:
// connect, validate network, submit, report. On a reported failure the
// returned error carries the server's code and message.
func (p *PaymentInitiator) Pay(ctx context.Context, cfg evmpay.PaymentConfig) (*evmpay.SettleResponse, error) {
	if p.reporter == nil {
		return nil, fmt.Errorf("no settlement reporter configured")
	}

	if _, connected := p.Connected(); !connected {
		if _, err := p.ConnectWallet(ctx); err != nil {
			return nil, err
		}
	}
	if err := p.ValidateNetwork(ctx, cfg.NetworkID); err != nil {
		return nil, err
	}

	contractABI := p.contractABI
	if len(cfg.ABI) > 0 {
		contractABI = cfg.ABI
	}
	tx, err := p.submit(ctx, evmpay.PaymentRequest{
		OrderID:         cfg.OrderID,
		Amount:          cfg.Amount,
		Decimals:        cfg.TokenDecimals,
		Recipient:       cfg.TargetAddress,
		ContractAddress: cfg.ContractAddress,
	}, contractABI)
	if err != nil {
		return nil, err
	}

	resp, err := p.reporter.ReportSettlement(ctx, cfg.Nonce, cfg.OrderID, tx)
	if err != nil {
		return nil, fmt.Errorf("payment verification failed for %s: %w", tx, err)
	}
	if !resp.Success {
		return resp, evmpay.NewPaymentError(resp.Data.Code,
			fmt.Sprintf("Payment verification failed: %s", resp.Data.Message),
			map[string]interface{}{"tx": tx.String()})
	}

	p.logger.Info("payment reported", zap.Uint64("order_id", cfg.OrderID), zap.String("tx", tx.String()))
	return resp, nil
}
