package facilitator

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/extensions/eip2612gassponsor"
	"github.com/p402-io/p402/extensions/erc20approvalgassponsor"
	"github.com/p402-io/p402/mechanisms/evm"
)

// approveSelector is the 4-byte selector of approve(address,uint256).
var approveSelector = []byte{0x09, 0x5e, 0xa7, 0xb3}

func (f *ExactEvmScheme) verifyPermit2(ctx context.Context, payload p402.PaymentPayload, requirements p402.PaymentRequirements, chainID *big.Int, now int64) (*p402.VerifyResponse, error) {
	permit2Payload, err := evm.Permit2PayloadFromMap(payload.Payload)
	if err != nil {
		return invalid(ErrInvalidPayload, ""), nil
	}
	auth := permit2Payload.Permit2Authorization
	payer := auth.From

	if permit2Payload.Signature == "" {
		return invalid(ErrMissingSignature, payer), nil
	}
	if !strings.EqualFold(auth.Spender, evm.ExactPermit2ProxyAddress) {
		return invalid(ErrPermit2InvalidSpender, payer), nil
	}
	if !strings.EqualFold(auth.Witness.To, requirements.PayTo) {
		return invalid(ErrPermit2RecipientMismatch, payer), nil
	}

	deadline, ok := new(big.Int).SetString(auth.Deadline, 10)
	if !ok {
		return invalid(ErrInvalidPayload, payer), nil
	}
	if deadline.Cmp(big.NewInt(now+evm.Permit2DeadlineBuffer)) < 0 {
		return invalid(ErrPermit2DeadlineExpired, payer), nil
	}
	validAfter, ok := new(big.Int).SetString(auth.Witness.ValidAfter, 10)
	if !ok {
		return invalid(ErrInvalidPayload, payer), nil
	}
	if validAfter.Cmp(big.NewInt(now)) > 0 {
		return invalid(ErrPermit2NotYetValid, payer), nil
	}

	amount, ok := new(big.Int).SetString(auth.Permitted.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return invalid(ErrInvalidPayload, payer), nil
	}
	requiredValue, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return invalid(ErrInvalidRequiredAmount, payer), nil
	}
	if amount.Cmp(requiredValue) < 0 {
		return invalid(ErrPermit2InsufficientAmount, payer), nil
	}

	assetInfo, err := evm.GetAssetInfo(string(requirements.Network), requirements.Asset)
	if err != nil {
		return invalid(ErrFailedToGetAssetInfo, payer), nil
	}
	if !strings.EqualFold(auth.Permitted.Token, assetInfo.Address) {
		return invalid(ErrPermit2TokenMismatch, payer), nil
	}

	sigBytes, err := evm.HexToBytes(permit2Payload.Signature)
	if err != nil {
		return invalid(ErrInvalidSignatureFormat, payer), nil
	}
	message, err := evm.Permit2Message(auth)
	if err != nil {
		return invalid(ErrInvalidPayload, payer), nil
	}
	valid, err := f.signer.VerifyTypedData(ctx, payer, evm.Permit2Domain(chainID), evm.GetPermit2EIP712Types(), "PermitWitnessTransferFrom", message, sigBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to verify permit2 signature: %w", err)
	}
	if !valid {
		return invalid(ErrPermit2InvalidSignature, payer), nil
	}

	// Permit2 can only move tokens the payer has approved it for. A missing
	// allowance is acceptable when the payload carries a usable gas
	// sponsoring grant that settlement will apply first.
	allowance, err := f.permit2Allowance(ctx, payer, assetInfo.Address)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(amount) < 0 && !f.hasSponsoredAllowance(payload, payer, assetInfo.Address, now) {
		return invalid(ErrPermit2AllowanceRequired, payer), nil
	}

	balance, err := f.signer.GetBalance(ctx, payer, assetInfo.Address)
	if err != nil {
		return invalid(ErrFailedToGetBalance, payer), nil
	}
	if balance.Cmp(amount) < 0 {
		return invalid(ErrInsufficientBalance, payer), nil
	}

	return &p402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

func (f *ExactEvmScheme) permit2Allowance(ctx context.Context, payer, token string) (*big.Int, error) {
	result, err := f.signer.ReadContract(ctx, token, evm.ERC20AllowanceABI, "allowance",
		common.HexToAddress(payer), common.HexToAddress(evm.PERMIT2Address))
	if err != nil {
		return nil, fmt.Errorf("failed to check permit2 allowance: %w", err)
	}
	allowance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance result type %T", result)
	}
	return allowance, nil
}

// hasSponsoredAllowance reports whether the payload carries a gas sponsoring
// grant that settlement can use to establish the Permit2 allowance.
func (f *ExactEvmScheme) hasSponsoredAllowance(payload p402.PaymentPayload, payer, token string, now int64) bool {
	if info, err := eip2612gassponsor.ExtractInfo(payload.Extensions); err == nil && info != nil {
		if validateEip2612PermitForPayment(info, payer, token, now) == "" {
			return true
		}
	}
	if info, err := erc20approvalgassponsor.ExtractInfo(payload.Extensions); err == nil && info != nil {
		if reason, _ := ValidateErc20ApprovalForPayment(info, payer, token); reason == "" {
			return true
		}
	}
	return false
}

func (f *ExactEvmScheme) settlePermit2(ctx context.Context, payload p402.PaymentPayload, requirements p402.PaymentRequirements) (*p402.SettleResponse, error) {
	network := requirements.Network
	permit2Payload, err := evm.Permit2PayloadFromMap(payload.Payload)
	if err != nil {
		return settleFailure(ErrInvalidPayload, network, ""), nil
	}
	auth := permit2Payload.Permit2Authorization
	payer := auth.From
	now := time.Now().Unix()

	amount, _ := new(big.Int).SetString(auth.Permitted.Amount, 10)
	nonce, _ := new(big.Int).SetString(auth.Nonce, 10)
	deadline, _ := new(big.Int).SetString(auth.Deadline, 10)
	validAfter, _ := new(big.Int).SetString(auth.Witness.ValidAfter, 10)
	if amount == nil || nonce == nil || deadline == nil || validAfter == nil {
		return settleFailure(ErrInvalidPayload, network, payer), nil
	}

	extraBytes := []byte{}
	if auth.Witness.Extra != "" && auth.Witness.Extra != "0x" {
		extraBytes, err = evm.HexToBytes(auth.Witness.Extra)
		if err != nil {
			return settleFailure(ErrInvalidPayload, network, payer), nil
		}
	}
	sigBytes, err := evm.HexToBytes(permit2Payload.Signature)
	if err != nil {
		return settleFailure(ErrFailedToParseSignature, network, payer), nil
	}

	// A sponsored pre-signed approval is broadcast before the settle call so
	// the allowance exists by the time the proxy pulls the funds.
	if approvalInfo, extractErr := erc20approvalgassponsor.ExtractInfo(payload.Extensions); extractErr == nil && approvalInfo != nil {
		if reason, _ := ValidateErc20ApprovalForPayment(approvalInfo, payer, auth.Permitted.Token); reason == "" {
			if failResp, sponsorErr := f.broadcastSponsoredApproval(ctx, approvalInfo, network, payer); sponsorErr != nil {
				return nil, sponsorErr
			} else if failResp != nil {
				return failResp, nil
			}
		}
	}

	permitStruct := struct {
		Permitted struct {
			Token  common.Address
			Amount *big.Int
		}
		Nonce    *big.Int
		Deadline *big.Int
	}{
		Permitted: struct {
			Token  common.Address
			Amount *big.Int
		}{
			Token:  common.HexToAddress(auth.Permitted.Token),
			Amount: amount,
		},
		Nonce:    nonce,
		Deadline: deadline,
	}
	witnessStruct := struct {
		To         common.Address
		ValidAfter *big.Int
		Extra      []byte
	}{
		To:         common.HexToAddress(auth.Witness.To),
		ValidAfter: validAfter,
		Extra:      extraBytes,
	}
	owner := common.HexToAddress(payer)

	var txHash string
	eip2612Info, _ := eip2612gassponsor.ExtractInfo(payload.Extensions)
	if eip2612Info != nil && validateEip2612PermitForPayment(eip2612Info, payer, auth.Permitted.Token, now) == "" {
		// settleWithPermit applies the EIP-2612 permit and the transfer in
		// one transaction.
		v, r, s, splitErr := splitEip2612Signature(eip2612Info.Signature)
		if splitErr != nil {
			return settleFailure(ErrEip2612InvalidFormat, network, payer), nil
		}
		permitValue, _ := new(big.Int).SetString(eip2612Info.Amount, 10)
		permitDeadline, _ := new(big.Int).SetString(eip2612Info.Deadline, 10)
		if permitValue == nil || permitDeadline == nil {
			return settleFailure(ErrEip2612InvalidFormat, network, payer), nil
		}
		permit2612Struct := struct {
			Value    *big.Int
			Deadline *big.Int
			R        [32]byte
			S        [32]byte
			V        uint8
		}{
			Value:    permitValue,
			Deadline: permitDeadline,
			R:        r,
			S:        s,
			V:        v,
		}
		txHash, err = f.signer.WriteContract(ctx, evm.ExactPermit2ProxyAddress, evm.ExactPermit2ProxySettleWithPermitABI, evm.FunctionSettleWithPermit,
			permit2612Struct, permitStruct, owner, witnessStruct, sigBytes)
	} else {
		txHash, err = f.signer.WriteContract(ctx, evm.ExactPermit2ProxyAddress, evm.ExactPermit2ProxySettleABI, evm.FunctionSettle,
			permitStruct, owner, witnessStruct, sigBytes)
	}
	if err != nil {
		return settleFailure(parsePermit2Error(err), network, payer), nil
	}

	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		resp := settleFailure(ErrFailedToGetReceipt, network, payer)
		resp.Transaction = txHash
		return resp, nil
	}
	if receipt.Status != evm.TxStatusSuccess {
		resp := settleFailure(ErrTransactionFailed, network, payer)
		resp.Transaction = txHash
		return resp, nil
	}

	return &p402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     network,
		Payer:       payer,
	}, nil
}

// broadcastSponsoredApproval submits the client-signed approval and waits
// for it to land. It returns a non-nil response when the approval failed in
// a way the payer can act on, and an error for operational failures.
func (f *ExactEvmScheme) broadcastSponsoredApproval(ctx context.Context, info *erc20approvalgassponsor.Info, network p402.Network, payer string) (*p402.SettleResponse, error) {
	txHash, err := erc20approvalgassponsor.SponsorApproval(ctx, f.signer, info)
	if err != nil {
		return settleFailure(ErrSponsoredApprovalFailed, network, payer), nil
	}
	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm sponsored approval %s: %w", txHash, err)
	}
	if receipt.Status != evm.TxStatusSuccess {
		return settleFailure(ErrSponsoredApprovalFailed, network, payer), nil
	}
	return nil, nil
}

// validateEip2612PermitForPayment checks that an attached permit actually
// covers this payment: same owner, same token, Permit2 as spender, and a
// deadline that outlives the settle transaction.
func validateEip2612PermitForPayment(info *eip2612gassponsor.Info, payer, tokenAddress string, now int64) string {
	if !eip2612gassponsor.ValidateInfo(info) {
		return ErrEip2612InvalidFormat
	}
	if !strings.EqualFold(info.From, payer) {
		return ErrEip2612FromMismatch
	}
	if !strings.EqualFold(info.Asset, tokenAddress) {
		return ErrEip2612AssetMismatch
	}
	if !strings.EqualFold(info.Spender, evm.PERMIT2Address) {
		return ErrEip2612SpenderNotPermit2
	}
	deadline, ok := new(big.Int).SetString(info.Deadline, 10)
	if !ok {
		return ErrEip2612InvalidFormat
	}
	if deadline.Cmp(big.NewInt(now+evm.Permit2DeadlineBuffer)) < 0 {
		return ErrEip2612DeadlineExpired
	}
	return ""
}

// ValidateErc20ApprovalForPayment checks that an attached pre-signed
// approval transaction actually grants Permit2 an allowance on the payment
// token from the payer. It decodes the raw transaction and inspects target,
// calldata and signer. The second return value carries human-readable
// detail for the first non-empty reason.
func ValidateErc20ApprovalForPayment(info *erc20approvalgassponsor.Info, payer, tokenAddress string) (string, string) {
	if !erc20approvalgassponsor.ValidateInfo(info) {
		return ErrErc20ApprovalInvalidFormat, "approval info fields are malformed"
	}
	if !strings.EqualFold(info.From, payer) {
		return ErrErc20ApprovalFromMismatch, fmt.Sprintf("approval from %s does not match payer %s", info.From, payer)
	}
	if !strings.EqualFold(info.Asset, tokenAddress) {
		return ErrErc20ApprovalAssetMismatch, fmt.Sprintf("approval asset %s does not match payment token %s", info.Asset, tokenAddress)
	}
	if !strings.EqualFold(info.Spender, evm.PERMIT2Address) {
		return ErrErc20ApprovalWrongSpender, fmt.Sprintf("approval spender %s is not the Permit2 contract", info.Spender)
	}

	txBytes, err := evm.HexToBytes(info.SignedTransaction)
	if err != nil {
		return ErrErc20ApprovalTxParseFailed, "signed transaction is not valid hex"
	}
	var tx ethtypes.Transaction
	if err := tx.UnmarshalBinary(txBytes); err != nil {
		return ErrErc20ApprovalTxParseFailed, fmt.Sprintf("failed to decode signed transaction: %v", err)
	}

	if tx.To() == nil || !strings.EqualFold(tx.To().Hex(), tokenAddress) {
		return ErrErc20ApprovalWrongTarget, "transaction does not target the payment token"
	}
	data := tx.Data()
	if len(data) < 68 || !bytes.Equal(data[0:4], approveSelector) {
		return ErrErc20ApprovalWrongSelector, "transaction does not call approve"
	}
	spender := common.BytesToAddress(data[4:36])
	if !strings.EqualFold(spender.Hex(), evm.PERMIT2Address) {
		return ErrErc20ApprovalWrongCalldata, fmt.Sprintf("calldata approves %s instead of Permit2", spender.Hex())
	}

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(tx.ChainId()), &tx)
	if err != nil {
		return ErrErc20ApprovalInvalidSig, fmt.Sprintf("failed to recover transaction signer: %v", err)
	}
	if !strings.EqualFold(sender.Hex(), payer) {
		return ErrErc20ApprovalSignerMismatch, fmt.Sprintf("transaction signed by %s, expected %s", sender.Hex(), payer)
	}
	return "", ""
}

// splitEip2612Signature splits a 65-byte permit signature into the v, r, s
// components the permit function takes. Recovery ids 0 and 1 are shifted to
// the 27/28 form contracts expect.
func splitEip2612Signature(signature string) (uint8, [32]byte, [32]byte, error) {
	var r, s [32]byte
	sigBytes, err := evm.HexToBytes(signature)
	if err != nil {
		return 0, r, s, err
	}
	if len(sigBytes) != 65 {
		return 0, r, s, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	copy(r[:], sigBytes[0:32])
	copy(s[:], sigBytes[32:64])
	v := sigBytes[64]
	if v < 27 {
		v += 27
	}
	return v, r, s, nil
}

// parsePermit2Error maps proxy contract reverts onto settlement reasons.
func parsePermit2Error(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "AmountExceedsPermitted"):
		return ErrPermit2AmountExceedsPermitted
	case strings.Contains(msg, "InvalidDestination"):
		return ErrPermit2InvalidDestination
	case strings.Contains(msg, "InvalidOwner"):
		return ErrPermit2InvalidOwner
	case strings.Contains(msg, "PaymentTooEarly"):
		return ErrPermit2PaymentTooEarly
	case strings.Contains(msg, "InvalidSignature"), strings.Contains(msg, "SignatureExpired"):
		return ErrPermit2InvalidSignature
	case strings.Contains(msg, "InvalidNonce"):
		return ErrPermit2InvalidNonce
	}
	return ErrFailedToExecuteTransfer
}
