package hypercore

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// FormatAmount renders an integer base-unit amount as the decimal string
// the exchange API expects.
func FormatAmount(amount string, decimals int) (string, error) {
	units, err := strconv.ParseInt(amount, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid amount: %w", err)
	}
	return fmt.Sprintf("%.*f", decimals, float64(units)/math.Pow10(decimals)), nil
}

// ParseAmount converts a human money string (optionally "$"-prefixed) to
// an integer base-unit amount string, truncating excess precision.
func ParseAmount(amount string, decimals int) (string, error) {
	cleaned := strings.TrimSpace(strings.TrimPrefix(amount, "$"))

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return "", fmt.Errorf("invalid amount: %w", err)
	}
	if value < 0 {
		return "", fmt.Errorf("amount cannot be negative: %s", amount)
	}

	units := int64(math.Floor(value * math.Pow10(decimals)))
	return strconv.FormatInt(units, 10), nil
}

// IsNonceFresh reports whether a millisecond-timestamp nonce falls inside
// the acceptance window. Future nonces are rejected.
func IsNonceFresh(nonce int64, maxAge time.Duration) bool {
	age := time.Duration(time.Now().UnixMilli()-nonce) * time.Millisecond
	return age >= 0 && age <= maxAge
}

// NormalizeAddress lowercases an address for comparison.
func NormalizeAddress(address string) string {
	return strings.ToLower(address)
}

// ParseAmountToInteger converts a decimal amount string to integer base
// units for numeric comparison.
func ParseAmountToInteger(amount string, decimals int) (*big.Int, error) {
	value, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	return big.NewInt(int64(math.Floor(value * math.Pow10(decimals)))), nil
}
