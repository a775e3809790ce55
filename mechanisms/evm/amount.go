package evm

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stcchain/evmpay"
)

var hundred = big.NewInt(100)

// CalculateTokenAmount converts a fiat amount into the token's smallest unit.
//
// The amount is first rounded to whole cents (half away from zero), then
// scaled: floor(cents * 10^decimals / 100). The final division truncates,
// so with decimals < 2 sub-unit cents are dropped: 19.99 at 0 decimals is 19.
func CalculateTokenAmount(amount decimal.Decimal, decimals int) (string, error) {
	if err := checkAmountInput(amount.IsNegative(), decimals); err != nil {
		return "", err
	}
	cents := amount.Shift(2).Round(0).BigInt()
	return scaleCents(cents, decimals).String(), nil
}

// CalculateTokenAmountFloat is CalculateTokenAmount for a binary float
// input. Cents are computed as math.Round(amount*100) in float64, the
// same rounding a browser applies, so 1.005 yields 100 cents rather than 101.
func CalculateTokenAmountFloat(amount float64, decimals int) (string, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "", evmpay.NewPaymentError(evmpay.ErrCodeInvalidAmount, MessageAmountError, map[string]interface{}{
			"amount": fmt.Sprint(amount),
		})
	}
	if err := checkAmountInput(amount < 0, decimals); err != nil {
		return "", err
	}
	cents, _ := new(big.Float).SetFloat64(math.Round(amount * 100)).Int(nil)
	return scaleCents(cents, decimals).String(), nil
}

func checkAmountInput(negative bool, decimals int) error {
	if negative {
		return evmpay.NewPaymentError(evmpay.ErrCodeInvalidAmount, MessageAmountError, map[string]interface{}{
			"reason": "negative amount",
		})
	}
	if decimals < 0 || decimals > MaxDecimals {
		return evmpay.NewPaymentError(evmpay.ErrCodeInvalidAmount, MessageAmountError, map[string]interface{}{
			"reason":   "decimals out of range",
			"decimals": decimals,
		})
	}
	return nil
}

func scaleCents(cents *big.Int, decimals int) *big.Int {
	multiplier := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Int).Mul(cents, multiplier)
	return scaled.Quo(scaled, hundred)
}

// ParseAmount converts a decimal string to the token's smallest unit.
// Fraction digits beyond decimals are truncated.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if decimals < 0 {
		return nil, fmt.Errorf("invalid decimals: %d", decimals)
	}

	parts := strings.Split(amount, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount format: %s", amount)
	}

	whole := parts[0]
	if whole == "" {
		whole = "0"
	}
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || result.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount format: %s", amount)
	}
	return result, nil
}

// FormatAmount renders a smallest-unit amount as a decimal string without
// trailing zeros.
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, int32(-decimals)).String()
}
