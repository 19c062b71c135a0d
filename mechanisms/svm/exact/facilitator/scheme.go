package facilitator

import (
	"context"
	"strconv"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/svm"
)

// Compile-time check that ExactSvmScheme implements the facilitator interface.
var _ p402.SchemeNetworkFacilitator = (*ExactSvmScheme)(nil)

var (
	memoProgramID       = solana.MustPublicKeyFromBase58(svm.MemoProgramAddress)
	lighthouseProgramID = solana.MustPublicKeyFromBase58(svm.LighthouseProgramAddress)
)

// allowedAuxProgram reports whether a payment transaction may invoke the
// program besides the compute budget pair and the token transfer. Creating
// the recipient's associated token account, memos, and Lighthouse assertions
// are allowed.
func allowedAuxProgram(progID solana.PublicKey) bool {
	return progID.Equals(solana.SPLAssociatedTokenAccountProgramID) ||
		progID.Equals(memoProgramID) ||
		progID.Equals(lighthouseProgramID)
}

// ExactSvmScheme verifies and settles exact payments on Solana. The client
// submits a transaction already signed by the token owner; the facilitator
// checks its shape, co-signs as fee payer, and submits it to the cluster.
type ExactSvmScheme struct {
	signer svm.FacilitatorSvmSigner
}

// NewExactSvmScheme creates a facilitator scheme backed by the given signer.
func NewExactSvmScheme(signer svm.FacilitatorSvmSigner) *ExactSvmScheme {
	return &ExactSvmScheme{signer: signer}
}

// Scheme returns the scheme identifier.
func (f *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

// CaipFamily returns the CAIP-2 namespace pattern this facilitator serves.
func (f *ExactSvmScheme) CaipFamily() string {
	return svm.CaipFamily
}

// GetExtra advertises the fee payer address for the network. Resource
// servers forward it in requirement extras, and clients build the
// transaction around it.
func (f *ExactSvmScheme) GetExtra(network p402.Network) map[string]interface{} {
	addresses := f.signer.GetAddresses(context.Background(), string(network))
	if len(addresses) == 0 {
		return nil
	}
	return map[string]interface{}{"feePayer": addresses[0].String()}
}

// GetSigners returns the settlement addresses for the network.
func (f *ExactSvmScheme) GetSigners(network p402.Network) []string {
	addresses := f.signer.GetAddresses(context.Background(), string(network))
	signers := make([]string, len(addresses))
	for i, address := range addresses {
		signers[i] = address.String()
	}
	return signers
}

// invalid builds a rejection response. Protocol-level rejections travel in
// the response, not the error; errors are reserved for operational failures.
func invalid(reason, payer string) *p402.VerifyResponse {
	return &p402.VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer}
}

// Verify checks a payment transaction against the requirements, co-signs it
// as fee payer, and simulates it. The submitted transaction is not modified;
// verification works on its decoded copy.
func (f *ExactSvmScheme) Verify(ctx context.Context, payload p402.PaymentPayload, requirements p402.PaymentRequirements) (*p402.VerifyResponse, error) {
	if requirements.Scheme != svm.SchemeExact || payload.Accepted.Scheme != svm.SchemeExact {
		return invalid(ErrUnsupportedScheme, ""), nil
	}
	if payload.Accepted.Network != requirements.Network {
		return invalid(ErrNetworkMismatch, ""), nil
	}
	network := string(requirements.Network)

	feePayerStr, ok := requirements.Extra["feePayer"].(string)
	if !ok || feePayerStr == "" {
		return invalid(ErrMissingFeePayer, ""), nil
	}
	if !f.managesAddress(ctx, network, feePayerStr) {
		return invalid(ErrFeePayerNotManaged, ""), nil
	}

	svmPayload, err := svm.PayloadFromMap(payload.Payload)
	if err != nil {
		return invalid(ErrInvalidPayload, ""), nil
	}
	tx, err := svm.DecodeTransaction(svmPayload.Transaction)
	if err != nil {
		return invalid(ErrUndecodableTransaction, ""), nil
	}

	// Swig smart wallet payments embed the transfer inside the wallet
	// program; flatten them into the regular instruction layout first.
	instructions := tx.Message.Instructions
	if svm.IsSwigTransaction(tx) {
		parsed, err := svm.ParseSwigTransaction(tx)
		if err != nil {
			return invalid(ErrInvalidPayload, ""), nil
		}
		instructions = parsed.Instructions
	}

	if len(instructions) < svm.MinTransactionInstructions || len(instructions) > svm.MaxTransactionInstructions {
		return invalid(ErrInstructionsLength, ""), nil
	}
	if reason := verifyComputeLimit(&tx.Message, instructions[0]); reason != "" {
		return invalid(reason, ""), nil
	}
	if reason := verifyComputePrice(&tx.Message, instructions[1]); reason != "" {
		return invalid(reason, ""), nil
	}

	// Exactly one token transfer; everything else must be a known auxiliary
	// instruction.
	transferIndex := -1
	for i := 2; i < len(instructions); i++ {
		inst := instructions[i]
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			return invalid(ErrUnexpectedInstruction, ""), nil
		}
		progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
		switch {
		case progID.Equals(solana.TokenProgramID) || progID.Equals(solana.Token2022ProgramID):
			if transferIndex >= 0 {
				return invalid(ErrUnexpectedInstruction, ""), nil
			}
			transferIndex = i
		case allowedAuxProgram(progID):
		default:
			return invalid(ErrUnexpectedInstruction, ""), nil
		}
	}
	if transferIndex < 0 {
		return invalid(ErrNoTransferInstruction, ""), nil
	}

	payer, reason := f.verifyTransfer(ctx, &tx.Message, instructions[transferIndex], requirements, network)
	if reason != "" {
		return invalid(reason, payer), nil
	}

	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return invalid(ErrInvalidFeePayer, payer), nil
	}
	if err := f.signer.SignTransaction(ctx, tx, feePayer, network); err != nil {
		return invalid(ErrSigningFailed, payer), nil
	}
	if err := f.signer.SimulateTransaction(ctx, tx, network); err != nil {
		return invalid(ErrSimulationFailed, payer), nil
	}

	return &p402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle verifies the payment, then signs and submits the transaction with
// the fee payer named in the requirements. Failures become failure responses
// so callers always get a machine-readable reason.
func (f *ExactSvmScheme) Settle(ctx context.Context, payload p402.PaymentPayload, requirements p402.PaymentRequirements) (*p402.SettleResponse, error) {
	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	network := requirements.Network
	payer := verifyResp.Payer
	if !verifyResp.IsValid {
		return settleFailure(verifyResp.InvalidReason, network, payer), nil
	}

	svmPayload, err := svm.PayloadFromMap(payload.Payload)
	if err != nil {
		return settleFailure(ErrInvalidPayload, network, payer), nil
	}
	tx, err := svm.DecodeTransaction(svmPayload.Transaction)
	if err != nil {
		return settleFailure(ErrInvalidPayload, network, payer), nil
	}

	feePayerStr, ok := requirements.Extra["feePayer"].(string)
	if !ok || feePayerStr == "" {
		return settleFailure(ErrSettleMissingFeePayer, network, payer), nil
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return settleFailure(ErrInvalidFeePayer, network, payer), nil
	}
	// The first account is the fee payer slot the client left open.
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(feePayer) {
		return settleFailure(ErrFeePayerMismatch, network, payer), nil
	}

	if err := f.signer.SignTransaction(ctx, tx, feePayer, string(network)); err != nil {
		return settleFailure(ErrTransactionFailed, network, payer), nil
	}
	signature, err := f.signer.SendTransaction(ctx, tx, string(network))
	if err != nil {
		return settleFailure(ErrTransactionFailed, network, payer), nil
	}
	if err := f.signer.ConfirmTransaction(ctx, signature, string(network)); err != nil {
		failure := settleFailure(ErrConfirmationFailed, network, payer)
		failure.Transaction = signature.String()
		return failure, nil
	}

	return &p402.SettleResponse{
		Success:     true,
		Transaction: signature.String(),
		Network:     network,
		Payer:       payer,
	}, nil
}

func (f *ExactSvmScheme) managesAddress(ctx context.Context, network, address string) bool {
	for _, managed := range f.signer.GetAddresses(ctx, network) {
		if managed.String() == address {
			return true
		}
	}
	return false
}

// verifyTransfer checks the token transfer instruction: the facilitator must
// not be the one paying, the mint and recipient must match the requirements,
// and the amount must cover the required one. The returned payer is the
// transfer authority, also valid for Swig payments where the authority is
// the wallet PDA.
func (f *ExactSvmScheme) verifyTransfer(ctx context.Context, message *solana.Message, inst solana.CompiledInstruction, requirements p402.PaymentRequirements, network string) (string, string) {
	accounts, err := inst.ResolveInstructionAccounts(message)
	if err != nil || len(accounts) < 4 {
		return "", ErrNoTransferInstruction
	}
	decoded, err := token.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return "", ErrNoTransferInstruction
	}
	transfer, ok := decoded.Impl.(*token.TransferChecked)
	if !ok || transfer.Amount == nil {
		return "", ErrNoTransferInstruction
	}

	// TransferChecked account order: source, mint, destination, authority
	authority := accounts[3].PublicKey
	payer := authority.String()

	if f.managesAddress(ctx, network, payer) {
		return payer, ErrFeePayerTransferringFunds
	}

	mint := accounts[1].PublicKey
	if mint.String() != requirements.Asset {
		return payer, ErrMintMismatch
	}

	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return payer, ErrRecipientMismatch
	}
	expectedDest, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	if err != nil {
		return payer, ErrRecipientMismatch
	}
	if !accounts[2].PublicKey.Equals(expectedDest) {
		return payer, ErrRecipientMismatch
	}

	required, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return payer, ErrAmountInsufficient
	}
	if *transfer.Amount < required {
		return payer, ErrAmountInsufficient
	}

	return payer, ""
}

func verifyComputeLimit(message *solana.Message, inst solana.CompiledInstruction) string {
	if int(inst.ProgramIDIndex) >= len(message.AccountKeys) || !message.AccountKeys[inst.ProgramIDIndex].Equals(solana.ComputeBudget) {
		return ErrComputeLimitInstruction
	}
	if len(inst.Data) == 0 || inst.Data[0] != 2 {
		return ErrComputeLimitInstruction
	}
	accounts, err := inst.ResolveInstructionAccounts(message)
	if err != nil {
		return ErrComputeLimitInstruction
	}
	decoded, err := computebudget.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return ErrComputeLimitInstruction
	}
	if _, ok := decoded.Impl.(*computebudget.SetComputeUnitLimit); !ok {
		return ErrComputeLimitInstruction
	}
	return ""
}

func verifyComputePrice(message *solana.Message, inst solana.CompiledInstruction) string {
	if int(inst.ProgramIDIndex) >= len(message.AccountKeys) || !message.AccountKeys[inst.ProgramIDIndex].Equals(solana.ComputeBudget) {
		return ErrComputePriceInstruction
	}
	if len(inst.Data) == 0 || inst.Data[0] != 3 {
		return ErrComputePriceInstruction
	}
	accounts, err := inst.ResolveInstructionAccounts(message)
	if err != nil {
		return ErrComputePriceInstruction
	}
	decoded, err := computebudget.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return ErrComputePriceInstruction
	}
	price, ok := decoded.Impl.(*computebudget.SetComputeUnitPrice)
	if !ok {
		return ErrComputePriceInstruction
	}
	if price.MicroLamports > svm.MaxComputeUnitPriceMicrolamports {
		return ErrComputePriceTooHigh
	}
	return ""
}

func settleFailure(reason string, network p402.Network, payer string) *p402.SettleResponse {
	return &p402.SettleResponse{
		Success:     false,
		ErrorReason: reason,
		Network:     network,
		Payer:       payer,
	}
}
