package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/stcchain/evmpay"
)

// WalletProvider is the payer's wallet: account access, chain queries and
// contract-call submission. Browser wallets, key wallets and test doubles
// all satisfy it.
type WalletProvider interface {
	// RequestAccounts asks the wallet for account access and returns the
	// selected accounts, first one preferred
	RequestAccounts(ctx context.Context) ([]string, error)

	// ChainID returns the chain the wallet is currently connected to
	ChainID(ctx context.Context) (*big.Int, error)

	// SendContractCall submits the call and returns the transaction hash
	// once the wallet has broadcast it
	SendContractCall(ctx context.Context, call ContractCall) (string, error)
}

// ContractCall is a state-changing call to a contract.
type ContractCall struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Data  []byte   `json:"data"`
	Value *big.Int `json:"value,omitempty"`
}

// ProviderError is an EIP-1193 style wallet error.
type ProviderError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// IsUserRejection reports whether err carries the user-rejected provider code.
func IsUserRejection(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == ProviderCodeUserRejected
}

// SettlementReporter hands a broadcast transaction to the store's
// settlement endpoint.
type SettlementReporter interface {
	ReportSettlement(ctx context.Context, nonce string, orderID uint64, tx evmpay.TxReference) (*evmpay.SettleResponse, error)
}

// ChainReader reads mined transaction receipts.
// *ethclient.Client satisfies it.
type ChainReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TransactionReceipt represents the receipt of a mined transaction
type TransactionReceipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

// TransferLog is a decoded ERC-20 Transfer event.
type TransferLog struct {
	Token common.Address
	From  common.Address
	To    common.Address
	Value *big.Int
}
