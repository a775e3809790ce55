package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// ERC-20 function names
	FunctionTransfer  = "transfer"
	FunctionBalanceOf = "balanceOf"
	FunctionDecimals  = "decimals"

	// EIP-1193 provider error codes
	ProviderCodeUserRejected      = 4001
	ProviderCodeUnauthorized      = 4100
	ProviderCodeUnsupported       = 4200
	ProviderCodeDisconnected      = 4900
	ProviderCodeChainDisconnected = 4901

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// MaxDecimals is the largest token decimals value accepted.
	MaxDecimals = 18

	// Initiator messages
	MessageWalletUnavailable = "Wallet not detected! Please install a browser wallet such as MetaMask first."
	MessageUserRejected      = "Transaction was rejected by user."
	MessageNoAccounts        = "No wallet account available."
	MessageAmountError       = "Error calculating token amount"
)

var (
	// Network chain IDs
	ChainIDEthereum = big.NewInt(1)
	ChainIDSepolia  = big.NewInt(11155111)
	ChainIDBSC      = big.NewInt(56)
	ChainIDPolygon  = big.NewInt(137)
	ChainIDBase     = big.NewInt(8453)

	// NetworkNames maps chain IDs to display names for wallet prompts.
	NetworkNames = map[string]string{
		"1":        "Ethereum Mainnet",
		"11155111": "Sepolia",
		"56":       "BNB Smart Chain",
		"137":      "Polygon",
		"8453":     "Base",
	}

	// TransferEventTopic is keccak256("Transfer(address,address,uint256)").
	TransferEventTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	// ERC20TransferABI for transfer(to, value)
	ERC20TransferABI = []byte(`[
		{
			"inputs": [
				{"name": "to", "type": "address"},
				{"name": "value", "type": "uint256"}
			],
			"name": "transfer",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// ERC20BalanceOfABI for checking token balance
	ERC20BalanceOfABI = []byte(`[
		{
			"inputs": [
				{"name": "account", "type": "address"}
			],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)
)
