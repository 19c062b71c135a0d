// Package hypercore carries the shared pieces of the Hyperliquid payment
// mechanism: network configuration, the sendAsset wire types, and the
// signer interface the scheme implementations are built against.
package hypercore

// HypercoreSendAssetAction is the sendAsset exchange action the payer
// signs. Nonce doubles as the signing timestamp in milliseconds.
type HypercoreSendAssetAction struct {
	Type             string `json:"type"`
	HyperliquidChain string `json:"hyperliquidChain"`
	SignatureChainID string `json:"signatureChainId"`
	Destination      string `json:"destination"`
	SourceDex        string `json:"sourceDex"`
	DestinationDex   string `json:"destinationDex"`
	Token            string `json:"token"`
	Amount           string `json:"amount"`
	FromSubAccount   string `json:"fromSubAccount"`
	Nonce            int64  `json:"nonce"`
}

// HypercoreSignature is a split ECDSA signature in the exchange's wire form.
type HypercoreSignature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// HypercorePaymentPayload is the scheme's opaque payment payload: the
// signed action plus its signature, ready to submit to the exchange.
type HypercorePaymentPayload struct {
	Action    HypercoreSendAssetAction `json:"action"`
	Signature HypercoreSignature       `json:"signature"`
	Nonce     int64                    `json:"nonce"`
}

// HyperliquidSigner signs sendAsset actions on behalf of a paying account.
type HyperliquidSigner interface {
	SignSendAsset(action HypercoreSendAssetAction) (HypercoreSignature, error)
	GetAddress() string
}

// HyperliquidAPIResponse is the exchange endpoint's submission result.
type HyperliquidAPIResponse struct {
	Status string `json:"status"`
}

// LedgerUpdate is one entry from the userNonFundingLedgerUpdates info
// endpoint, used to resolve a settlement's ledger hash.
type LedgerUpdate struct {
	Time  int64       `json:"time"`
	Hash  string      `json:"hash"`
	Delta DeltaUpdate `json:"delta"`
}

// DeltaUpdate is the typed delta of a ledger update. Destination and
// Nonce only appear on send deltas.
type DeltaUpdate struct {
	Type        string  `json:"type"`
	Destination *string `json:"destination,omitempty"`
	Nonce       *int64  `json:"nonce,omitempty"`
}
