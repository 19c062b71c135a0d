// Package facilitator implements the facilitator side of the exact SVM
// scheme: inspecting partially signed payment transactions, co-signing them
// as fee payer, and submitting them to the cluster.
package facilitator

// Machine-readable reasons for rejected verifications and failed
// settlements.
const (
	// Verify
	ErrUnsupportedScheme         = "unsupported_scheme"
	ErrNetworkMismatch           = "network_mismatch"
	ErrMissingFeePayer           = "invalid_exact_solana_payload_missing_fee_payer"
	ErrFeePayerNotManaged        = "fee_payer_not_managed_by_facilitator"
	ErrInvalidPayload            = "invalid_exact_solana_payload_transaction"
	ErrUndecodableTransaction    = "invalid_exact_solana_payload_transaction_could_not_be_decoded"
	ErrInstructionsLength        = "invalid_exact_solana_payload_transaction_instructions_length"
	ErrComputeLimitInstruction   = "invalid_exact_solana_payload_transaction_instructions_compute_limit_instruction"
	ErrComputePriceInstruction   = "invalid_exact_solana_payload_transaction_instructions_compute_price_instruction"
	ErrComputePriceTooHigh       = "invalid_exact_solana_payload_transaction_instructions_compute_price_instruction_too_high"
	ErrUnexpectedInstruction     = "invalid_exact_solana_payload_unexpected_instruction"
	ErrNoTransferInstruction     = "invalid_exact_solana_payload_no_transfer_instruction"
	ErrFeePayerTransferringFunds = "invalid_exact_solana_payload_transaction_fee_payer_transferring_funds"
	ErrMintMismatch              = "invalid_exact_solana_payload_mint_mismatch"
	ErrRecipientMismatch         = "invalid_exact_solana_payload_recipient_mismatch"
	ErrAmountInsufficient        = "invalid_exact_solana_payload_amount_insufficient"
	ErrInvalidFeePayer           = "invalid_fee_payer"
	ErrSigningFailed             = "transaction_signing_failed"
	ErrSimulationFailed          = "transaction_simulation_failed"

	// Settle
	ErrSettleMissingFeePayer = "missing_fee_payer"
	ErrFeePayerMismatch      = "fee_payer_mismatch"
	ErrTransactionFailed     = "transaction_failed"
	ErrConfirmationFailed    = "transaction_confirmation_failed"
)
