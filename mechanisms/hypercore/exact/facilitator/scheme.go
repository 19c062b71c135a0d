// Package facilitator implements the facilitator side of the exact
// Hypercore scheme. Verification is pure structure and signature checking;
// settlement submits the signed sendAsset action to the Hyperliquid exchange
// API and looks up the resulting ledger hash.
package facilitator

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	p402 "github.com/p402-io/p402"
	"github.com/p402-io/p402/mechanisms/evm"
	"github.com/p402-io/p402/mechanisms/hypercore"
)

// Compile-time check that ExactHypercoreScheme implements the facilitator
// interface.
var _ p402.SchemeNetworkFacilitator = (*ExactHypercoreScheme)(nil)

// ExactHypercoreScheme verifies and settles exact payments on Hypercore.
// The facilitator holds no keys of its own; the client's signature is the
// only authorization the exchange needs.
type ExactHypercoreScheme struct {
	apiURL     string
	httpClient *http.Client
}

// NewExactHypercoreScheme creates a facilitator scheme. A non-empty apiURL
// overrides the per-network default endpoints, which tests use to point at
// a local server.
func NewExactHypercoreScheme(apiURL ...string) *ExactHypercoreScheme {
	s := &ExactHypercoreScheme{httpClient: http.DefaultClient}
	if len(apiURL) > 0 {
		s.apiURL = apiURL[0]
	}
	return s
}

func (f *ExactHypercoreScheme) Scheme() string {
	return hypercore.SchemeExact
}

func (f *ExactHypercoreScheme) CaipFamily() string {
	return "hypercore:*"
}

func (f *ExactHypercoreScheme) getAPIURL(network string) string {
	if f.apiURL != "" {
		return f.apiURL
	}
	return hypercore.NetworkAPIURLs[network]
}

func (f *ExactHypercoreScheme) GetExtra(network p402.Network) map[string]interface{} {
	return nil
}

func (f *ExactHypercoreScheme) GetSigners(network p402.Network) []string {
	return []string{}
}

func invalid(reason string) *p402.VerifyResponse {
	return &p402.VerifyResponse{IsValid: false, InvalidReason: reason}
}

// Verify checks the payment against the requirements: action shape,
// destination, amount, token, nonce freshness and signature structure. No
// network I/O happens here; the exchange is the final arbiter at settlement.
func (f *ExactHypercoreScheme) Verify(
	ctx context.Context,
	payload p402.PaymentPayload,
	requirements p402.PaymentRequirements,
) (*p402.VerifyResponse, error) {
	hypercorePayload, err := parsePayload(payload.Payload)
	if err != nil {
		return invalid(ErrInvalidPayloadStructure), nil
	}

	config, ok := hypercore.NetworkConfigs[string(requirements.Network)]
	if !ok {
		return invalid(fmt.Sprintf("%s: %s", ErrInvalidNetwork, requirements.Network)), nil
	}

	if hypercorePayload.Action.Type != "sendAsset" {
		return invalid(fmt.Sprintf("%s: %s", ErrInvalidActionType, hypercorePayload.Action.Type)), nil
	}
	if !strings.EqualFold(hypercorePayload.Action.Destination, requirements.PayTo) {
		return invalid(ErrDestinationMismatch), nil
	}

	payloadAmount, err := hypercore.ParseAmountToInteger(hypercorePayload.Action.Amount, config.DefaultAsset.Decimals)
	if err != nil {
		return invalid(ErrInvalidAmountFormat), nil
	}
	requiredAmount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return invalid(ErrInvalidAmountFormat), nil
	}
	if payloadAmount.Cmp(requiredAmount) < 0 {
		return invalid(ErrInsufficientAmount), nil
	}

	if requirements.Asset != "" && hypercorePayload.Action.Token != requirements.Asset {
		return invalid(ErrTokenMismatch), nil
	}
	if !hypercore.IsNonceFresh(hypercorePayload.Nonce, time.Duration(hypercore.MaxNonceAgeSeconds)*time.Second) {
		return invalid(ErrNonceTooOld), nil
	}
	if hypercorePayload.Signature.R == "" || hypercorePayload.Signature.S == "" {
		return invalid(ErrInvalidSignature), nil
	}

	payer, err := recoverPayer(hypercorePayload.Action, hypercorePayload.Signature)
	if err != nil {
		return invalid(ErrInvalidSignature), nil
	}

	return &p402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle verifies the payment, submits the signed action to the exchange,
// and resolves the settlement transaction hash from the payer's ledger
// updates. Exchange rejections become failure responses; transport failures
// return errors so hooks can recover them.
func (f *ExactHypercoreScheme) Settle(
	ctx context.Context,
	payload p402.PaymentPayload,
	requirements p402.PaymentRequirements,
) (*p402.SettleResponse, error) {
	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verifyResp.IsValid {
		return &p402.SettleResponse{
			Success:     false,
			ErrorReason: verifyResp.InvalidReason,
			Network:     requirements.Network,
			Payer:       verifyResp.Payer,
		}, nil
	}

	hypercorePayload, _ := parsePayload(payload.Payload)
	apiURL := f.getAPIURL(string(requirements.Network))
	payer := verifyResp.Payer
	startTime := time.Now()

	submitPayload := map[string]interface{}{
		"action":       hypercorePayload.Action,
		"nonce":        hypercorePayload.Nonce,
		"signature":    hypercorePayload.Signature,
		"vaultAddress": nil,
	}
	body, err := json.Marshal(submitPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/exchange", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to submit to hyperliquid: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hyperliquid API error: %d", resp.StatusCode)
	}

	var apiResp hypercore.HyperliquidAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if apiResp.Status != "ok" {
		return &p402.SettleResponse{
			Success:     false,
			ErrorReason: ErrSettlementFailed,
			Network:     requirements.Network,
			Payer:       payer,
		}, nil
	}

	txHash, err := f.getTransactionHash(ctx, apiURL, payer, hypercorePayload.Action.Destination, hypercorePayload.Nonce, startTime)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction hash: %w", err)
	}

	return &p402.SettleResponse{
		Success:     true,
		Transaction: txHash,
		Network:     requirements.Network,
		Payer:       payer,
	}, nil
}

// recoverPayer recovers the signing address from the Hyperliquid EIP-712
// envelope around the sendAsset action.
func recoverPayer(
	action hypercore.HypercoreSendAssetAction,
	signature hypercore.HypercoreSignature,
) (string, error) {
	domain := evm.TypedDataDomain{
		Name:              "HyperliquidSignTransaction",
		Version:           "1",
		ChainID:           big.NewInt(hypercore.SignatureChainID),
		VerifyingContract: "0x0000000000000000000000000000000000000000",
	}

	typedDataTypes := map[string][]evm.TypedDataField{
		"EIP712Domain": evm.FullEIP712DomainTypes,
		"HyperliquidTransaction:SendAsset": {
			{Name: "hyperliquidChain", Type: "string"},
			{Name: "destination", Type: "string"},
			{Name: "sourceDex", Type: "string"},
			{Name: "destinationDex", Type: "string"},
			{Name: "token", Type: "string"},
			{Name: "amount", Type: "string"},
			{Name: "fromSubAccount", Type: "string"},
			{Name: "nonce", Type: "uint64"},
		},
	}

	// uint64 values must be decimal strings in the typed data message.
	message := map[string]interface{}{
		"hyperliquidChain": action.HyperliquidChain,
		"destination":      action.Destination,
		"sourceDex":        action.SourceDex,
		"destinationDex":   action.DestinationDex,
		"token":            action.Token,
		"amount":           action.Amount,
		"fromSubAccount":   action.FromSubAccount,
		"nonce":            fmt.Sprintf("%d", action.Nonce),
	}

	hash, err := evm.HashTypedData(domain, typedDataTypes, "HyperliquidTransaction:SendAsset", message)
	if err != nil {
		return "", fmt.Errorf("failed to hash typed data: %w", err)
	}

	rBytes, err := hex.DecodeString(strings.TrimPrefix(signature.R, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid r value: %w", err)
	}
	sBytes, err := hex.DecodeString(strings.TrimPrefix(signature.S, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid s value: %w", err)
	}

	v := byte(signature.V)
	if v >= 27 {
		v -= 27
	}
	sig := append(append(rBytes, sBytes...), v)

	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}

// getTransactionHash polls the payer's non-funding ledger updates for the
// send matching our destination and nonce. The exchange indexes with a small
// delay, hence the retry.
func (f *ExactHypercoreScheme) getTransactionHash(
	ctx context.Context,
	apiURL string,
	user string,
	destination string,
	nonce int64,
	startTime time.Time,
) (string, error) {
	for attempt := 0; attempt < hypercore.TxHashMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(hypercore.TxHashRetryDelay):
			}
		}

		queryPayload := map[string]interface{}{
			"type":      "userNonFundingLedgerUpdates",
			"user":      user,
			"startTime": startTime.Add(-hypercore.TxHashLookbackWindow).UnixMilli(),
		}
		body, err := json.Marshal(queryPayload)
		if err != nil {
			continue
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/info", bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.httpClient.Do(req)
		if err != nil {
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			continue
		}

		var updates []hypercore.LedgerUpdate
		if err := json.Unmarshal(respBody, &updates); err != nil {
			continue
		}
		for _, update := range updates {
			if update.Delta.Type == "send" &&
				update.Delta.Destination != nil &&
				strings.EqualFold(*update.Delta.Destination, destination) &&
				update.Delta.Nonce != nil &&
				*update.Delta.Nonce == nonce {
				return update.Hash, nil
			}
		}
	}

	return "", fmt.Errorf("transaction hash not found after %d attempts", hypercore.TxHashMaxRetries)
}

func parsePayload(payload map[string]interface{}) (*hypercore.HypercorePaymentPayload, error) {
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var hypercorePayload hypercore.HypercorePaymentPayload
	if err := json.Unmarshal(jsonBytes, &hypercorePayload); err != nil {
		return nil, err
	}
	return &hypercorePayload, nil
}
