// Package tokenmetadata reads ERC-20 metadata (name, symbol, decimals)
// straight from the token contract.
package tokenmetadata

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultTimeout bounds a single GetMetadata when the caller's context has no deadline.
const DefaultTimeout = 10 * time.Second

const metadataABI = `[
  {"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var parsedABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(metadataABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// TokenMetadata describes a token contract.
type TokenMetadata struct {
	ChainID      uint64 `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Decimals     int    `json:"decimals"`
}

// Caller executes read-only contract calls. *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client reads and caches token metadata.
type Client struct {
	caller  Caller
	chainID uint64
	timeout time.Duration

	mu    sync.RWMutex
	cache map[common.Address]*TokenMetadata
}

// NewClient creates a client for the chain caller is connected to.
func NewClient(caller Caller, chainID uint64) *Client {
	return &Client{
		caller:  caller,
		chainID: chainID,
		timeout: DefaultTimeout,
		cache:   make(map[common.Address]*TokenMetadata),
	}
}

// ChainName returns a short human name for well-known chain ids, or "" if
// the chain is not known.
func ChainName(chainID uint64) string {
	switch chainID {
	case 1:
		return "ethereum"
	case 10:
		return "optimism"
	case 56:
		return "bsc"
	case 97:
		return "bsc-testnet"
	case 137:
		return "polygon"
	case 8453:
		return "base"
	case 84532:
		return "base-sepolia"
	case 42161:
		return "arbitrum"
	case 43114:
		return "avalanche"
	default:
		return ""
	}
}

// GetMetadata reads name, symbol and decimals of tokenAddress. Results are
// cached per address. A token without name or symbol still succeeds as long
// as decimals() answers.
func (c *Client) GetMetadata(ctx context.Context, tokenAddress string) (*TokenMetadata, error) {
	if !common.IsHexAddress(tokenAddress) {
		return nil, fmt.Errorf("invalid token address: %s", tokenAddress)
	}
	addr := common.HexToAddress(tokenAddress)

	c.mu.RLock()
	cached, ok := c.cache[addr]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := c.call(ctx, addr, "decimals")
	if err != nil {
		return nil, err
	}
	decimals, ok := out.(uint8)
	if !ok {
		return nil, fmt.Errorf("decimals returned %T", out)
	}

	metadata := &TokenMetadata{
		ChainID:      c.chainID,
		TokenAddress: addr.Hex(),
		Decimals:     int(decimals),
	}
	if name, err := c.call(ctx, addr, "name"); err == nil {
		metadata.Name, _ = name.(string)
	}
	if symbol, err := c.call(ctx, addr, "symbol"); err == nil {
		metadata.Symbol, _ = symbol.(string)
	}

	c.mu.Lock()
	c.cache[addr] = metadata
	c.mu.Unlock()

	return metadata, nil
}

// CheckDecimals fails when the contract's decimals differ from configured.
func (c *Client) CheckDecimals(ctx context.Context, tokenAddress string, configured int) (*TokenMetadata, error) {
	metadata, err := c.GetMetadata(ctx, tokenAddress)
	if err != nil {
		return nil, err
	}
	if metadata.Decimals != configured {
		return metadata, fmt.Errorf("token %s has %d decimals on chain, configured %d",
			metadata.TokenAddress, metadata.Decimals, configured)
	}
	return metadata, nil
}

func (c *Client) call(ctx context.Context, addr common.Address, method string) (interface{}, error) {
	data, err := parsedABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	result, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	outputs, err := parsedABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("%s returned %d values", method, len(outputs))
	}
	return outputs[0], nil
}
