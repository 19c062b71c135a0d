// Package facilitator implements the facilitator side of the exact EVM
// scheme: verifying signed authorizations and settling them on-chain.
// EIP-3009 transfers settle directly against the token contract; Permit2
// transfers go through the exact Permit2 proxy.
package facilitator

// Machine-readable reasons for rejected verifications and failed
// settlements.
const (
	// EIP-3009 verify
	ErrInvalidScheme             = "invalid_exact_evm_scheme"
	ErrNetworkMismatch           = "invalid_exact_evm_network_mismatch"
	ErrInvalidPayload            = "invalid_exact_evm_payload"
	ErrUnsupportedPayloadType    = "unsupported_payload_type"
	ErrMissingSignature          = "invalid_exact_evm_payload_missing_signature"
	ErrFailedToGetNetworkConfig  = "invalid_exact_evm_failed_to_get_network_config"
	ErrFailedToGetAssetInfo      = "invalid_exact_evm_failed_to_get_asset_info"
	ErrRecipientMismatch         = "invalid_exact_evm_recipient_mismatch"
	ErrInvalidAuthorizationValue = "invalid_exact_evm_authorization_value"
	ErrInvalidRequiredAmount     = "invalid_exact_evm_required_amount"
	ErrInsufficientAmount        = "invalid_exact_evm_insufficient_amount"
	ErrValidBeforeExpired        = "invalid_exact_evm_payload_authorization_valid_before"
	ErrValidAfterInFuture        = "invalid_exact_evm_payload_authorization_valid_after"
	ErrFailedToCheckNonce        = "invalid_exact_evm_failed_to_check_nonce"
	ErrNonceAlreadyUsed          = "invalid_exact_evm_nonce_already_used"
	ErrFailedToGetBalance        = "invalid_exact_evm_failed_to_get_balance"
	ErrInsufficientBalance       = "invalid_exact_evm_insufficient_balance"
	ErrInvalidSignatureFormat    = "invalid_exact_evm_signature_format"
	ErrInvalidSignature          = "invalid_exact_evm_payload_signature"

	// EIP-3009 settle
	ErrFailedToParseSignature  = "invalid_exact_evm_failed_to_parse_signature"
	ErrFailedToCheckDeployment = "invalid_exact_evm_failed_to_check_deployment"
	ErrFailedToExecuteTransfer = "invalid_exact_evm_failed_to_execute_transfer"
	ErrFailedToGetReceipt      = "invalid_exact_evm_failed_to_get_receipt"
	ErrTransactionFailed       = "invalid_exact_evm_transaction_failed"

	// Permit2 verify
	ErrPermit2InvalidSpender     = "invalid_permit2_spender"
	ErrPermit2RecipientMismatch  = "invalid_permit2_recipient_mismatch"
	ErrPermit2DeadlineExpired    = "permit2_deadline_expired"
	ErrPermit2NotYetValid        = "permit2_not_yet_valid"
	ErrPermit2InsufficientAmount = "permit2_insufficient_amount"
	ErrPermit2TokenMismatch      = "permit2_token_mismatch"
	ErrPermit2InvalidSignature   = "invalid_permit2_signature"
	ErrPermit2AllowanceRequired  = "permit2_allowance_required"

	// Permit2 settle (mapped from contract reverts)
	ErrPermit2AmountExceedsPermitted = "permit2_amount_exceeds_permitted"
	ErrPermit2InvalidDestination     = "permit2_invalid_destination"
	ErrPermit2InvalidOwner           = "permit2_invalid_owner"
	ErrPermit2PaymentTooEarly        = "permit2_payment_too_early"
	ErrPermit2InvalidNonce           = "permit2_invalid_nonce"

	// EIP-2612 gas sponsoring
	ErrEip2612InvalidFormat     = "invalid_eip2612_extension_format"
	ErrEip2612FromMismatch      = "eip2612_from_mismatch"
	ErrEip2612AssetMismatch     = "eip2612_asset_mismatch"
	ErrEip2612SpenderNotPermit2 = "eip2612_spender_not_permit2"
	ErrEip2612DeadlineExpired   = "eip2612_deadline_expired"

	// ERC-20 approval gas sponsoring
	ErrErc20ApprovalInvalidFormat  = "erc20_approval_invalid_format"
	ErrErc20ApprovalFromMismatch   = "erc20_approval_from_mismatch"
	ErrErc20ApprovalAssetMismatch  = "erc20_approval_asset_mismatch"
	ErrErc20ApprovalWrongSpender   = "erc20_approval_spender_not_permit2"
	ErrErc20ApprovalTxParseFailed  = "erc20_approval_transaction_parse_failed"
	ErrErc20ApprovalWrongTarget    = "erc20_approval_wrong_target"
	ErrErc20ApprovalWrongSelector  = "erc20_approval_wrong_selector"
	ErrErc20ApprovalWrongCalldata  = "erc20_approval_wrong_calldata"
	ErrErc20ApprovalInvalidSig     = "erc20_approval_invalid_signature"
	ErrErc20ApprovalSignerMismatch = "erc20_approval_signer_mismatch"
	ErrSponsoredApprovalFailed     = "sponsored_approval_failed"
)
