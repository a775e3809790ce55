package evm

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stcchain/evmpay"
)

const (
	testAccount   = "0x1111111111111111111111111111111111111111"
	testRecipient = "0x2222222222222222222222222222222222222222"
	testContract  = "0x3333333333333333333333333333333333333333"
	testTxHash    = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
)

// mockWallet records calls and returns scripted results
type mockWallet struct {
	mu          sync.Mutex
	accounts    []string
	accountsErr error
	chainID     *big.Int
	chainErr    error
	sendErr     error
	txHash      string

	requestCalls int
	sent         []ContractCall
}

func (m *mockWallet) RequestAccounts(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCalls++
	return m.accounts, m.accountsErr
}

func (m *mockWallet) ChainID(_ context.Context) (*big.Int, error) {
	return m.chainID, m.chainErr
}

func (m *mockWallet) SendContractCall(_ context.Context, call ContractCall) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.sent = append(m.sent, call)
	return m.txHash, nil
}

func newMockWallet() *mockWallet {
	return &mockWallet{
		accounts: []string{testAccount},
		chainID:  big.NewInt(56),
		txHash:   testTxHash,
	}
}

type mockReporter struct {
	resp    *evmpay.SettleResponse
	err     error
	nonce   string
	orderID uint64
	tx      evmpay.TxReference
}

func (m *mockReporter) ReportSettlement(_ context.Context, nonce string, orderID uint64, tx evmpay.TxReference) (*evmpay.SettleResponse, error) {
	m.nonce, m.orderID, m.tx = nonce, orderID, tx
	return m.resp, m.err
}

func testPaymentRequest() evmpay.PaymentRequest {
	return evmpay.PaymentRequest{
		OrderID:         42,
		Amount:          decimal.RequireFromString("19.99"),
		Decimals:        18,
		Recipient:       testRecipient,
		ContractAddress: testContract,
	}
}

func TestConnectWallet(t *testing.T) {
	tests := []struct {
		name     string
		wallet   WalletProvider
		wantCode string
	}{
		{name: "no provider", wallet: nil, wantCode: evmpay.ErrCodeWalletUnavailable},
		{
			name:     "user rejects access",
			wallet:   &mockWallet{accountsErr: &ProviderError{Code: ProviderCodeUserRejected, Message: "denied"}},
			wantCode: evmpay.ErrCodeUserRejected,
		},
		{
			name:     "provider failure",
			wallet:   &mockWallet{accountsErr: errors.New("disconnected")},
			wantCode: evmpay.ErrCodeWalletUnavailable,
		},
		{name: "no accounts", wallet: &mockWallet{}, wantCode: evmpay.ErrCodeWalletUnavailable},
		{name: "connected", wallet: newMockWallet()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPaymentInitiator(tt.wallet)
			account, err := p.ConnectWallet(context.Background())
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, evmpay.ErrorCode(err))
				_, connected := p.Connected()
				assert.False(t, connected)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testAccount, account)
		})
	}
}

func TestValidateNetwork(t *testing.T) {
	wallet := newMockWallet()
	p := NewPaymentInitiator(wallet)

	assert.NoError(t, p.ValidateNetwork(context.Background(), "56"))

	err := p.ValidateNetwork(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, evmpay.ErrWrongNetwork)
	var pe *evmpay.PaymentError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "Please switch to network 1", pe.Message)
}

func TestSubmitPayment(t *testing.T) {
	wallet := newMockWallet()
	p := NewPaymentInitiator(wallet)

	tx, err := p.SubmitPayment(context.Background(), testPaymentRequest())
	require.NoError(t, err)
	assert.Equal(t, evmpay.TxReference(testTxHash), tx)
	assert.True(t, tx.Valid())

	require.Len(t, wallet.sent, 1)
	call := wallet.sent[0]
	assert.Equal(t, testAccount, call.From)
	assert.Equal(t, testContract, call.To)

	to, amount, err := DecodeTransfer(call.Data)
	require.NoError(t, err)
	assert.True(t, SameAddress(testRecipient, to.Hex()))
	assert.Equal(t, "19990000000000000000", amount.String())
}

func TestSubmitPaymentErrors(t *testing.T) {
	tests := []struct {
		name     string
		sendErr  error
		mutate   func(*evmpay.PaymentRequest)
		wantCode string
		wantMsg  string
	}{
		{
			name:     "user rejects transaction",
			sendErr:  &ProviderError{Code: ProviderCodeUserRejected, Message: "User denied transaction signature."},
			wantCode: evmpay.ErrCodeUserRejected,
			wantMsg:  MessageUserRejected,
		},
		{
			name:     "insufficient funds",
			sendErr:  errors.New("insufficient funds for transfer"),
			wantCode: evmpay.ErrCodeTransferFailed,
			wantMsg:  "insufficient funds for transfer",
		},
		{
			name:     "negative amount",
			mutate:   func(r *evmpay.PaymentRequest) { r.Amount = decimal.NewFromInt(-5) },
			wantCode: evmpay.ErrCodeInvalidAmount,
		},
		{
			name:     "bad recipient",
			mutate:   func(r *evmpay.PaymentRequest) { r.Recipient = "0x123" },
			wantCode: evmpay.ErrCodeTransferFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wallet := newMockWallet()
			wallet.sendErr = tt.sendErr
			p := NewPaymentInitiator(wallet)

			req := testPaymentRequest()
			if tt.mutate != nil {
				tt.mutate(&req)
			}
			_, err := p.SubmitPayment(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, evmpay.ErrorCode(err))
			if tt.wantMsg != "" {
				var pe *evmpay.PaymentError
				require.True(t, errors.As(err, &pe))
				assert.Equal(t, tt.wantMsg, pe.Message)
			}
		})
	}
}

func TestInvalidationForcesReconnect(t *testing.T) {
	wallet := newMockWallet()
	p := NewPaymentInitiator(wallet)

	_, err := p.SubmitPayment(context.Background(), testPaymentRequest())
	require.NoError(t, err)
	_, err = p.SubmitPayment(context.Background(), testPaymentRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, wallet.requestCalls)

	p.HandleChainChanged()
	_, connected := p.Connected()
	assert.False(t, connected)

	_, err = p.SubmitPayment(context.Background(), testPaymentRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, wallet.requestCalls)

	p.HandleAccountsChanged()
	wallet.accounts = []string{"0x4444444444444444444444444444444444444444"}
	_, err = p.SubmitPayment(context.Background(), testPaymentRequest())
	require.NoError(t, err)
	assert.Equal(t, 3, wallet.requestCalls)
	assert.Equal(t, "0x4444444444444444444444444444444444444444", wallet.sent[len(wallet.sent)-1].From)
}

func TestPay(t *testing.T) {
	cfg := evmpay.PaymentConfig{
		NetworkID:       "56",
		ContractAddress: testContract,
		TargetAddress:   testRecipient,
		TokenDecimals:   18,
		Nonce:           "nonce-token",
		OrderID:         42,
		Amount:          decimal.RequireFromString("19.99"),
	}

	t.Run("success", func(t *testing.T) {
		reporter := &mockReporter{resp: evmpay.NewSettleSuccess(evmpay.MessageSettled, "https://shop.test/checkout/order-received/42/?key=k")}
		p := NewPaymentInitiator(newMockWallet(), WithReporter(reporter))

		resp, err := p.Pay(context.Background(), cfg)
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "nonce-token", reporter.nonce)
		assert.Equal(t, uint64(42), reporter.orderID)
		assert.Equal(t, evmpay.TxReference(testTxHash), reporter.tx)
	})

	t.Run("wrong network stops before transfer", func(t *testing.T) {
		wallet := newMockWallet()
		wallet.chainID = big.NewInt(1)
		reporter := &mockReporter{}
		p := NewPaymentInitiator(wallet, WithReporter(reporter))

		_, err := p.Pay(context.Background(), cfg)
		assert.ErrorIs(t, err, evmpay.ErrWrongNetwork)
		assert.Empty(t, wallet.sent)
		assert.Empty(t, reporter.tx)
	})

	t.Run("server rejection", func(t *testing.T) {
		reporter := &mockReporter{resp: evmpay.NewSettleFailure(
			evmpay.NewPaymentError(evmpay.ErrCodeAlreadySettled, evmpay.MessageAlreadySettled, nil))}
		p := NewPaymentInitiator(newMockWallet(), WithReporter(reporter))

		resp, err := p.Pay(context.Background(), cfg)
		require.Error(t, err)
		assert.False(t, resp.Success)
		assert.Equal(t, evmpay.ErrCodeAlreadySettled, evmpay.ErrorCode(err))
	})
}
