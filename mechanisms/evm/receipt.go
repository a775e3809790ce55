package evm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/stcchain/evmpay"
)

// Receipt check rejection reasons.
const (
	ReasonTxNotFound      = "Transaction not found on chain"
	ReasonTxReverted      = "Transaction failed on chain"
	ReasonTransferMissing = "Transaction does not transfer the expected amount to the store"
)

// ReceiptVerifier confirms that a reported transaction was mined, succeeded
// and emitted a token Transfer to the store's recipient for at least the
// order amount. Register Hook with Settler.OnBeforeSettle to enable it.
type ReceiptVerifier struct {
	reader    ChainReader
	contract  common.Address
	recipient common.Address
	decimals  int
	logger    *zap.Logger
}

// NewReceiptVerifier creates a verifier for the given token settings.
func NewReceiptVerifier(reader ChainReader, settings evmpay.GatewaySettings, logger *zap.Logger) *ReceiptVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptVerifier{
		reader:    reader,
		contract:  common.HexToAddress(settings.ContractAddress),
		recipient: common.HexToAddress(settings.TargetAddress),
		decimals:  settings.TokenDecimals,
		logger:    logger,
	}
}

// Hook adapts the verifier to a settlement hook.
func (v *ReceiptVerifier) Hook() evmpay.BeforeSettleHook {
	return func(hc evmpay.SettleContext) (*evmpay.BeforeSettleHookResult, error) {
		if hc.Order == nil {
			return nil, fmt.Errorf("receipt check needs a loaded order")
		}
		expected, err := CalculateTokenAmount(hc.Order.Total, v.decimals)
		if err != nil {
			return nil, err
		}
		want, _ := new(big.Int).SetString(expected, 10)

		reason, err := v.Verify(hc, hc.Tx, want)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			return &evmpay.BeforeSettleHookResult{
				Abort:  true,
				Code:   evmpay.ErrCodeInvalidReference,
				Reason: reason,
			}, nil
		}
		return nil, nil
	}
}

// Verify returns a non-empty rejection reason when the transaction does not
// pay at least want. A non-nil error means the chain could not be queried.
func (v *ReceiptVerifier) Verify(hc evmpay.SettleContext, tx evmpay.TxReference, want *big.Int) (string, error) {
	receipt, err := v.reader.TransactionReceipt(hc.Ctx, common.HexToHash(tx.String()))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return ReasonTxNotFound, nil
		}
		return "", fmt.Errorf("failed to fetch receipt: %w", err)
	}
	if receipt.Status != TxStatusSuccess {
		return ReasonTxReverted, nil
	}

	paid := new(big.Int)
	for _, log := range receipt.Logs {
		transfer, ok := ParseTransferLog(log)
		if !ok || transfer.Token != v.contract || transfer.To != v.recipient {
			continue
		}
		paid.Add(paid, transfer.Value)
	}

	if paid.Cmp(want) < 0 {
		v.logger.Warn("receipt transfer below order amount",
			zap.Uint64("order_id", hc.OrderID),
			zap.String("tx", tx.String()),
			zap.String("paid", paid.String()),
			zap.String("want", want.String()),
		)
		return ReasonTransferMissing, nil
	}
	return "", nil
}
