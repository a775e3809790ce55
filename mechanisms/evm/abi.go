package evm

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EncodeTransfer ABI-encodes transfer(to, amount) using the given contract
// ABI. An empty ABI falls back to ERC20TransferABI.
func EncodeTransfer(contractABI []byte, to string, amount *big.Int) ([]byte, error) {
	if len(bytes.TrimSpace(contractABI)) == 0 {
		contractABI = ERC20TransferABI
	}
	if !IsValidAddress(to) {
		return nil, fmt.Errorf("invalid recipient address: %s", to)
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid transfer amount")
	}

	parsedABI, err := ethabi.JSON(bytes.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}

	calldata, err := parsedABI.Pack(FunctionTransfer, common.HexToAddress(to), amount)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer calldata: %w", err)
	}
	return calldata, nil
}

// DecodeTransfer reverses EncodeTransfer on raw calldata.
func DecodeTransfer(calldata []byte) (common.Address, *big.Int, error) {
	parsedABI, err := ethabi.JSON(bytes.NewReader(ERC20TransferABI))
	if err != nil {
		return common.Address{}, nil, err
	}
	method := parsedABI.Methods[FunctionTransfer]
	if len(calldata) < 4 || !bytes.Equal(calldata[:4], method.ID) {
		return common.Address{}, nil, fmt.Errorf("calldata is not a transfer call")
	}

	args, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("failed to decode transfer calldata: %w", err)
	}
	to, ok := args[0].(common.Address)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("unexpected recipient type %T", args[0])
	}
	amount, ok := args[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("unexpected amount type %T", args[1])
	}
	return to, amount, nil
}

// ParseTransferLog decodes an ERC-20 Transfer event, or returns false when
// the log is not one.
func ParseTransferLog(log *types.Log) (*TransferLog, bool) {
	if log == nil || len(log.Topics) != 3 || log.Topics[0] != TransferEventTopic {
		return nil, false
	}
	return &TransferLog{
		Token: log.Address,
		From:  common.BytesToAddress(log.Topics[1].Bytes()),
		To:    common.BytesToAddress(log.Topics[2].Bytes()),
		Value: new(big.Int).SetBytes(log.Data),
	}, true
}

// IsValidAddress reports whether address is a 0x-prefixed 20-byte hex string.
func IsValidAddress(address string) bool {
	return strings.HasPrefix(address, "0x") && common.IsHexAddress(address)
}

// NormalizeAddress returns the EIP-55 checksummed form of address.
func NormalizeAddress(address string) string {
	return common.HexToAddress(address).Hex()
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(NormalizeAddress(a), NormalizeAddress(b))
}
