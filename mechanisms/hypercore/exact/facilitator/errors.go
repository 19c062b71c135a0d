package facilitator

// Machine-readable rejection reasons carried in verify and settle
// responses.
const (
	ErrInvalidNetwork          = "invalid_network"
	ErrInvalidActionType       = "invalid_action_type"
	ErrDestinationMismatch     = "destination_mismatch"
	ErrInsufficientAmount      = "insufficient_amount"
	ErrTokenMismatch           = "token_mismatch"
	ErrNonceTooOld             = "nonce_too_old"
	ErrInvalidSignature        = "invalid_signature_structure"
	ErrSettlementFailed        = "settlement_failed"
	ErrInvalidPayloadStructure = "invalid_payload_structure"
	ErrInvalidAmountFormat     = "invalid_amount_format"
)
