package types

import (
	"fmt"
	"strings"
)

// Network identifies a settlement rail in CAIP-2 form, namespace:reference
// (e.g. "eip155:8453" for Base), or a custom non-blockchain identifier.
// A reference of "*" denotes a namespace-wide pattern.
type Network string

// Parse splits the network into namespace and reference components.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match reports whether this network matches a pattern. Matching is
// bidirectional so "eip155:1" matches "eip155:*" and vice versa.
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// IsPattern reports whether the network is a namespace-wide wildcard.
func (n Network) IsPattern() bool {
	return strings.HasSuffix(string(n), ":*")
}

// Namespace returns the CAIP namespace, or the whole identifier when the
// network is not in namespace:reference form.
func (n Network) Namespace() string {
	if idx := strings.Index(string(n), ":"); idx >= 0 {
		return string(n)[:idx]
	}
	return string(n)
}
