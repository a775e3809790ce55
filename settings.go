package evmpay

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/xeipuuv/gojsonschema"
)

// Settings defaults.
const (
	DefaultTitle       = "EVM Token Payment"
	DefaultDescription = "Pay with your EVM-compatible wallet via MetaMask."
	DefaultDecimals    = 18
	MaxTokenDecimals   = 18
	DefaultNetworkID   = "1"
)

// DefaultTokenABI is the minimal ERC-20 interface the gateway needs.
const DefaultTokenABI = `[
  {"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"payable":false,"stateMutability":"nonpayable","type":"function"},
  {"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"},
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"payable":false,"stateMutability":"view","type":"function"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

// Environment variable names read by LoadSettingsFromEnv.
const (
	EnvEnabled        = "EVMPAY_ENABLED"
	EnvTitle          = "EVMPAY_TITLE"
	EnvDescription    = "EVMPAY_DESCRIPTION"
	EnvRecipient      = "EVMPAY_TARGET_ADDRESS"
	EnvContract       = "EVMPAY_CONTRACT_ADDRESS"
	EnvDecimals       = "EVMPAY_TOKEN_DECIMALS"
	EnvNetworkID      = "EVMPAY_NETWORK_ID"
	EnvABI            = "EVMPAY_ABI"
	EnvABIFile        = "EVMPAY_ABI_FILE"
	EnvReturnBaseURL  = "EVMPAY_RETURN_BASE_URL"
	EnvVerifyOnchain  = "EVMPAY_VERIFY_ONCHAIN"
	EnvNonceSecret    = "EVMPAY_NONCE_SECRET"
	EnvRPCURL         = "EVMPAY_RPC_URL"
	EnvCurrencySymbol = "EVMPAY_CURRENCY"
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// abiSchema is the structural shape of a contract ABI document.
const abiSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["type"],
    "properties": {
      "type": {"enum": ["function", "event", "constructor", "fallback", "receive", "error"]},
      "name": {"type": "string"},
      "inputs": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["type"],
          "properties": {"name": {"type": "string"}, "type": {"type": "string"}}
        }
      }
    }
  }
}`

// GatewaySettings is the payment gateway configuration. Treat it as
// immutable once Validate has succeeded.
type GatewaySettings struct {
	Enabled         bool
	Title           string
	Description     string
	TargetAddress   string
	ContractAddress string
	TokenDecimals   int
	NetworkID       Network
	ABI             string
	Currency        string
	ReturnBaseURL   string
	VerifyOnchain   bool
	RPCURL          string
	NonceSecret     string
}

// DefaultSettings returns settings populated with defaults only.
func DefaultSettings() GatewaySettings {
	return GatewaySettings{
		Enabled:       true,
		Title:         DefaultTitle,
		Description:   DefaultDescription,
		TokenDecimals: DefaultDecimals,
		NetworkID:     DefaultNetworkID,
		ABI:           DefaultTokenABI,
		Currency:      "USD",
	}
}

// LoadSettingsFromEnv reads settings from EVMPAY_* variables on top of the
// defaults. It does not validate; call Validate on the result.
func LoadSettingsFromEnv() (GatewaySettings, error) {
	return loadSettings(os.Getenv)
}

func loadSettings(getenv func(string) string) (GatewaySettings, error) {
	s := DefaultSettings()

	if v := getenv(EnvEnabled); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return s, fmt.Errorf("%s: %w", EnvEnabled, err)
		}
		s.Enabled = enabled
	}
	if v := getenv(EnvTitle); v != "" {
		s.Title = v
	}
	if v := getenv(EnvDescription); v != "" {
		s.Description = v
	}
	s.TargetAddress = strings.TrimSpace(getenv(EnvRecipient))
	s.ContractAddress = strings.TrimSpace(getenv(EnvContract))
	if v := getenv(EnvDecimals); v != "" {
		d, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return s, fmt.Errorf("%s: %w", EnvDecimals, err)
		}
		s.TokenDecimals = d
	}
	if v := getenv(EnvNetworkID); v != "" {
		s.NetworkID = Network(strings.TrimSpace(v))
	}
	if v := getenv(EnvABI); v != "" {
		s.ABI = v
	} else if path := getenv(EnvABIFile); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("%s: %w", EnvABIFile, err)
		}
		s.ABI = string(raw)
	}
	if v := getenv(EnvCurrencySymbol); v != "" {
		s.Currency = v
	}
	s.ReturnBaseURL = strings.TrimRight(getenv(EnvReturnBaseURL), "/")
	if v := getenv(EnvVerifyOnchain); v != "" {
		verify, err := strconv.ParseBool(v)
		if err != nil {
			return s, fmt.Errorf("%s: %w", EnvVerifyOnchain, err)
		}
		s.VerifyOnchain = verify
	}
	s.RPCURL = getenv(EnvRPCURL)
	s.NonceSecret = getenv(EnvNonceSecret)

	return s, nil
}

// Validate reports every configuration problem at once.
func (s GatewaySettings) Validate() error {
	var errs []error

	if !addressPattern.MatchString(s.TargetAddress) {
		errs = append(errs, errors.New("Invalid recipient address format"))
	}
	if !addressPattern.MatchString(s.ContractAddress) {
		errs = append(errs, errors.New("Invalid contract address format"))
	}
	if s.TokenDecimals < 0 || s.TokenDecimals > MaxTokenDecimals {
		errs = append(errs, errors.New("Token decimals must be between 0 and 18"))
	}
	if _, err := s.NetworkID.ChainID(); err != nil {
		errs = append(errs, errors.New("Invalid network ID"))
	}
	if err := ValidateTokenABI(s.ABI); err != nil {
		errs = append(errs, fmt.Errorf("Invalid ABI format: %w", err))
	}
	if s.VerifyOnchain && s.RPCURL == "" {
		errs = append(errs, fmt.Errorf("%s requires %s", EnvVerifyOnchain, EnvRPCURL))
	}

	return errors.Join(errs...)
}

// ValidateTokenABI checks that raw is a well-formed ABI document declaring
// transfer(address,uint256).
func ValidateTokenABI(raw string) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(abiSchema),
		gojsonschema.NewStringLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return err
	}
	method, ok := parsed.Methods["transfer"]
	if !ok {
		return errors.New("missing transfer method")
	}
	if len(method.Inputs) != 2 ||
		method.Inputs[0].Type.T != abi.AddressTy ||
		method.Inputs[1].Type.T != abi.UintTy || method.Inputs[1].Type.Size != 256 {
		return fmt.Errorf("unexpected transfer signature %s", method.Sig)
	}
	return nil
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}
