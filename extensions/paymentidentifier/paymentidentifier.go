// Package paymentidentifier implements the payment-identifier protocol
// extension: a client-supplied unique id attached to payment payloads so
// resource servers and facilitators can correlate retries, receipts and
// support requests for one logical payment.
//
// Servers declare the extension on 402 responses, optionally marking it
// required. Clients inject a generated id inside the declared envelope,
// either manually or through the ClientExtension. Facilitators extract and
// validate the id before settlement.
package paymentidentifier

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	p402 "github.com/p402-io/p402"
)

// Key is the extension identifier used in PaymentRequired.Extensions and
// PaymentPayload.Extensions.
const Key = "payment-identifier"

// Payment id length bounds, inclusive.
const (
	MinIDLength = 16
	MaxIDLength = 128
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Info carries the payment-identifier fields exchanged in the extension
// envelope. Required comes from the server's declaration; ID is filled in
// by the client.
type Info struct {
	Required bool   `json:"required"`
	ID       string `json:"id,omitempty"`
}

// Extension is the typed view of a payment-identifier envelope.
type Extension struct {
	Info Info `json:"info"`
}

// GeneratePaymentID generates a unique payment identifier with the given
// prefix, "pay_" when empty. The id is the prefix followed by a UUID v4
// without hyphens, for example "pay_7d5d747be160e280504c099d984bcfe0".
func GeneratePaymentID(prefix string) string {
	if prefix == "" {
		prefix = "pay_"
	}
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// IsValidPaymentID reports whether an id meets the format requirements:
// between MinIDLength and MaxIDLength characters, containing only letters,
// digits, hyphens and underscores.
func IsValidPaymentID(id string) bool {
	if len(id) < MinIDLength || len(id) > MaxIDLength {
		return false
	}
	return idPattern.MatchString(id)
}

// PayloadFingerprint computes a deterministic hash of a payment payload, so
// two submissions with the same payment id can be told apart when their
// content differs (conflict detection).
func PayloadFingerprint(payload p402.PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}
