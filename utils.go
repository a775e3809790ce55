package evmpay

import "fmt"

// ValidatePaymentRequest performs basic validation on a payment request
func ValidatePaymentRequest(r PaymentRequest) error {
	if r.OrderID == 0 {
		return fmt.Errorf("order id is required")
	}
	if r.Amount.IsNegative() {
		return fmt.Errorf("payment amount must not be negative")
	}
	if r.Decimals < 0 || r.Decimals > MaxTokenDecimals {
		return fmt.Errorf("token decimals must be between 0 and %d", MaxTokenDecimals)
	}
	if !IsAddress(r.Recipient) {
		return fmt.Errorf("invalid recipient address: %s", r.Recipient)
	}
	if !IsAddress(r.ContractAddress) {
		return fmt.Errorf("invalid contract address: %s", r.ContractAddress)
	}
	return nil
}

// PaymentRequestFor builds the payment request for an order under the
// given settings.
func PaymentRequestFor(order *Order, settings GatewaySettings) PaymentRequest {
	return PaymentRequest{
		OrderID:         order.ID,
		Amount:          order.Total,
		Decimals:        settings.TokenDecimals,
		Recipient:       settings.TargetAddress,
		ContractAddress: settings.ContractAddress,
	}
}
