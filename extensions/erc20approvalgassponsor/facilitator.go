package erc20approvalgassponsor

import (
	"context"
	"encoding/json"
	"fmt"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/types"
)

// TransactionBroadcaster submits a pre-signed raw transaction to the
// network and returns its hash. EVM settlement mechanisms implement this
// against their RPC client.
type TransactionBroadcaster interface {
	SendRawTransaction(ctx context.Context, signedTx string) (string, error)
}

// ExtractInfo pulls the signed approval out of a payment payload's
// extensions map. It returns nil without error when the extension is
// absent or the client left the approval unpopulated, so callers can treat
// the payment as an ordinary unsponsored one.
func ExtractInfo(exts map[string]interface{}) (*Info, error) {
	if exts == nil {
		return nil, nil
	}
	value, ok := exts[Key]
	if !ok {
		return nil, nil
	}

	ext, err := types.ParseExtension(value)
	if err != nil {
		return nil, fmt.Errorf("malformed %s extension: %w", Key, err)
	}

	infoJSON, err := json.Marshal(ext.Info)
	if err != nil {
		return nil, fmt.Errorf("malformed %s info: %w", Key, err)
	}
	var info Info
	if err := json.Unmarshal(infoJSON, &info); err != nil {
		return nil, fmt.Errorf("malformed %s info: %w", Key, err)
	}

	if !info.complete() {
		return nil, nil
	}
	return &info, nil
}

// ExtractInfoFromBytes pulls the signed approval out of raw payment
// payload bytes. Legacy payloads carry no extensions, so they yield nil.
func ExtractInfoFromBytes(payloadBytes []byte) (*Info, error) {
	version, err := types.DetectVersion(payloadBytes)
	if err != nil {
		return nil, err
	}

	switch version {
	case p402.ProtocolVersion:
		payload, err := types.ToPaymentPayload(payloadBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment payload: %w", err)
		}
		return ExtractInfo(payload.Extensions)
	case p402.ProtocolVersionV1:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported protocol version: %d", version)
}

// IsDeclared reports whether a 402 response advertises approval gas
// sponsoring, so clients know a signed approval will be broadcast.
func IsDeclared(required types.PaymentRequired) bool {
	_, ok := required.Extensions[Key]
	return ok
}

// SponsorApproval broadcasts a client-signed approval transaction and
// returns its hash. The info is format-checked first; settlement
// mechanisms call this before moving the payment itself.
func SponsorApproval(ctx context.Context, broadcaster TransactionBroadcaster, info *Info) (string, error) {
	if info == nil {
		return "", fmt.Errorf("no approval to sponsor")
	}
	if !ValidateInfo(info) {
		return "", fmt.Errorf("malformed approval info for %s", info.Asset)
	}
	txHash, err := broadcaster.SendRawTransaction(ctx, info.SignedTransaction)
	if err != nil {
		return "", fmt.Errorf("failed to broadcast sponsored approval: %w", err)
	}
	return txHash, nil
}
