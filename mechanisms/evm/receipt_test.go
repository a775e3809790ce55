package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stcchain/evmpay"
)

type mockChainReader struct {
	receipt *types.Receipt
	err     error
}

func (m *mockChainReader) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	return m.receipt, m.err
}

func transferLog(token, to string, value *big.Int) *types.Log {
	return &types.Log{
		Address: common.HexToAddress(token),
		Topics: []common.Hash{
			TransferEventTopic,
			common.BytesToHash(common.HexToAddress(testAccount).Bytes()),
			common.BytesToHash(common.HexToAddress(to).Bytes()),
		},
		Data: common.LeftPadBytes(value.Bytes(), 32),
	}
}

func TestReceiptVerifierHook(t *testing.T) {
	settings := evmpay.GatewaySettings{
		TargetAddress:   testRecipient,
		ContractAddress: testContract,
		TokenDecimals:   6,
	}
	order := &evmpay.Order{ID: 7, Total: decimal.RequireFromString("12.50")}
	want := big.NewInt(12_500_000)

	tests := []struct {
		name      string
		reader    *mockChainReader
		wantAbort string
		wantErr   bool
	}{
		{
			name: "matching transfer",
			reader: &mockChainReader{receipt: &types.Receipt{
				Status: types.ReceiptStatusSuccessful,
				Logs:   []*types.Log{transferLog(testContract, testRecipient, want)},
			}},
		},
		{
			name: "overpayment accepted",
			reader: &mockChainReader{receipt: &types.Receipt{
				Status: types.ReceiptStatusSuccessful,
				Logs:   []*types.Log{transferLog(testContract, testRecipient, new(big.Int).Add(want, big.NewInt(1)))},
			}},
		},
		{
			name:      "not mined",
			reader:    &mockChainReader{err: ethereum.NotFound},
			wantAbort: ReasonTxNotFound,
		},
		{
			name:      "reverted",
			reader:    &mockChainReader{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}},
			wantAbort: ReasonTxReverted,
		},
		{
			name: "wrong token",
			reader: &mockChainReader{receipt: &types.Receipt{
				Status: types.ReceiptStatusSuccessful,
				Logs:   []*types.Log{transferLog("0x9999999999999999999999999999999999999999", testRecipient, want)},
			}},
			wantAbort: ReasonTransferMissing,
		},
		{
			name: "wrong recipient",
			reader: &mockChainReader{receipt: &types.Receipt{
				Status: types.ReceiptStatusSuccessful,
				Logs:   []*types.Log{transferLog(testContract, testAccount, want)},
			}},
			wantAbort: ReasonTransferMissing,
		},
		{
			name: "underpayment",
			reader: &mockChainReader{receipt: &types.Receipt{
				Status: types.ReceiptStatusSuccessful,
				Logs:   []*types.Log{transferLog(testContract, testRecipient, big.NewInt(1))},
			}},
			wantAbort: ReasonTransferMissing,
		},
		{
			name:    "rpc failure",
			reader:  &mockChainReader{err: errors.New("connection refused")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook := NewReceiptVerifier(tt.reader, settings, nil).Hook()
			result, err := hook(evmpay.SettleContext{
				Ctx:     context.Background(),
				OrderID: order.ID,
				Tx:      testTxHash,
				Order:   order,
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantAbort == "" {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.True(t, result.Abort)
			assert.Equal(t, tt.wantAbort, result.Reason)
			assert.Equal(t, evmpay.ErrCodeInvalidReference, result.Code)
		})
	}
}

func TestEncodeTransferUsesConfiguredABI(t *testing.T) {
	calldata, err := EncodeTransfer([]byte(evmpay.DefaultTokenABI), testRecipient, big.NewInt(5))
	require.NoError(t, err)

	to, amount, err := DecodeTransfer(calldata)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testRecipient), to)
	assert.Equal(t, int64(5), amount.Int64())

	_, err = EncodeTransfer([]byte(`[{"type":"function","name":"approve","inputs":[]}]`), testRecipient, big.NewInt(5))
	assert.Error(t, err)
}

func TestParseTransferLog(t *testing.T) {
	log := transferLog(testContract, testRecipient, big.NewInt(99))
	parsed, ok := ParseTransferLog(log)
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress(testContract), parsed.Token)
	assert.Equal(t, common.HexToAddress(testRecipient), parsed.To)
	assert.Equal(t, int64(99), parsed.Value.Int64())

	_, ok = ParseTransferLog(&types.Log{Topics: []common.Hash{{}}})
	assert.False(t, ok)
}
