// Package evm provides a private-key wallet that satisfies the
// mechanisms/evm WalletProvider interface, for headless payers such as the
// evmpay CLI and integration tests.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	evmpayevm "github.com/stcchain/evmpay/mechanisms/evm"
)

// Backend is the node access a KeyWallet needs. *ethclient.Client
// satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ErrNoBackend is returned by operations that need a node when the wallet
// was created without one.
var ErrNoBackend = errors.New("wallet has no backend")

// KeyWallet signs and broadcasts contract calls with a local ECDSA key.
type KeyWallet struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	backend    Backend
}

// NewKeyWallet creates a wallet from a hex-encoded private key (with or
// without "0x"). backend may be nil; only RequestAccounts works then.
func NewKeyWallet(privateKeyHex string, backend Backend) (*KeyWallet, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &KeyWallet{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		backend:    backend,
	}, nil
}

// Address returns the wallet's checksummed address.
func (w *KeyWallet) Address() string {
	return w.address.Hex()
}

// RequestAccounts returns the wallet's single account. A key wallet never
// prompts, so access is always granted.
func (w *KeyWallet) RequestAccounts(ctx context.Context) ([]string, error) {
	return []string{w.address.Hex()}, nil
}

// ChainID returns the chain the backend is connected to.
func (w *KeyWallet) ChainID(ctx context.Context) (*big.Int, error) {
	if w.backend == nil {
		return nil, ErrNoBackend
	}
	return w.backend.ChainID(ctx)
}

// SendContractCall signs the call and broadcasts it. London-enabled chains
// get a dynamic-fee transaction; chains without a base fee get a legacy one.
func (w *KeyWallet) SendContractCall(ctx context.Context, call evmpayevm.ContractCall) (string, error) {
	if w.backend == nil {
		return "", ErrNoBackend
	}
	if call.From != "" && !evmpayevm.SameAddress(call.From, w.address.Hex()) {
		return "", fmt.Errorf("wallet %s cannot send from %s", w.address.Hex(), evmpayevm.NormalizeAddress(call.From))
	}

	chainID, err := w.backend.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain id: %w", err)
	}

	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	value := call.Value
	if value == nil {
		value = big.NewInt(0)
	}
	to := common.HexToAddress(call.To)

	gas, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  w.address,
		To:    &to,
		Value: value,
		Data:  call.Data,
	})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas: %w", err)
	}

	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get latest header: %w", err)
	}

	var tx *types.Transaction
	if head.BaseFee != nil {
		tip, err := w.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to get gas tip: %w", err)
		}
		// Headroom for two full blocks of base fee growth
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      call.Data,
		})
	} else {
		gasPrice, err := w.backend.SuggestGasPrice(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to get gas price: %w", err)
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     call.Data,
		})
	}

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := w.backend.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

// TokenBalance reads balanceOf(wallet) on a token contract.
func (w *KeyWallet) TokenBalance(ctx context.Context, contractAddress string, abiBytes []byte) (*big.Int, error) {
	if w.backend == nil {
		return nil, ErrNoBackend
	}

	contractABI, err := abi.JSON(strings.NewReader(string(abiBytes)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := contractABI.Pack(evmpayevm.FunctionBalanceOf, w.address)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	addr := common.HexToAddress(contractAddress)
	result, err := w.backend.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	outputs, err := contractABI.Unpack(evmpayevm.FunctionBalanceOf, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("balanceOf returned %d values", len(outputs))
	}
	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf returned %T", outputs[0])
	}
	return balance, nil
}

// WaitForReceipt polls until the transaction is mined or ctx is done.
func (w *KeyWallet) WaitForReceipt(ctx context.Context, txHash string, interval time.Duration) (*evmpayevm.TransactionReceipt, error) {
	if w.backend == nil {
		return nil, ErrNoBackend
	}
	hash := common.HexToHash(txHash)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			out := &evmpayevm.TransactionReceipt{
				Status: receipt.Status,
				TxHash: receipt.TxHash.Hex(),
			}
			if receipt.BlockNumber != nil {
				out.BlockNumber = receipt.BlockNumber.Uint64()
			}
			return out, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to get receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ evmpayevm.WalletProvider = (*KeyWallet)(nil)
