package p402

import "fmt"

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeInvalidPayment     = "invalid_payment"
	ErrCodePaymentRequired    = "payment_required"
	ErrCodeInsufficientFunds  = "insufficient_funds"
	ErrCodeNetworkMismatch    = "network_mismatch"
	ErrCodeSchemeMismatch     = "scheme_mismatch"
	ErrCodeSignatureInvalid   = "signature_invalid"
	ErrCodePaymentExpired     = "payment_expired"
	ErrCodeSettlementFailed   = "settlement_failed"
	ErrCodeUnsupportedScheme  = "unsupported_scheme"
	ErrCodeUnsupportedNetwork = "unsupported_network"
	ErrCodeUnsupportedVersion = "unsupported_version"
	ErrCodeInvalidResponse    = "invalid_response"
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NoCapabilityError reports that no capability is registered for a
// (version, network, scheme) triple. It is an expected outcome during
// protocol negotiation, so callers should branch on it rather than treat it
// as fatal.
type NoCapabilityError struct {
	Version int
	Network Network
	Scheme  string
}

func (e *NoCapabilityError) Error() string {
	return fmt.Sprintf("no capability registered for version %d, network %q, scheme %q", e.Version, e.Network, e.Scheme)
}

// VerifyError carries a verification rejection across the transport boundary
// with its machine-readable reason intact, so resource servers can relay the
// facilitator's verdict instead of a generic failure.
type VerifyError struct {
	Reason  string
	Payer   string
	Network Network
	Message string
	Err     error
}

func (e *VerifyError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("verification failed (%s): %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("verification failed (%s)", e.Reason)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// NewVerifyError creates a verification error
func NewVerifyError(reason, payer, message string) *VerifyError {
	return &VerifyError{
		Reason:  reason,
		Payer:   payer,
		Message: message,
	}
}

// SettleError carries a settlement failure with any partial outcome the
// facilitator reported. Transaction is set when the failure happened after
// submission, so callers can reconcile against the network.
type SettleError struct {
	Reason      string
	Payer       string
	Network     Network
	Transaction string
	Message     string
	Err         error
}

func (e *SettleError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("settlement failed (%s): %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("settlement failed (%s)", e.Reason)
}

func (e *SettleError) Unwrap() error {
	return e.Err
}

// NewSettleError creates a settlement error
func NewSettleError(reason, payer string, network Network, transaction, message string) *SettleError {
	return &SettleError{
		Reason:      reason,
		Payer:       payer,
		Network:     network,
		Transaction: transaction,
		Message:     message,
	}
}
