// Package schema defines the data structures shared across Chronovault:
// owner addresses, activity events, heirs, riddles, liveness profiles and
// the derived vault verdict.
package schema

import (
	"regexp"
	"strings"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ValidAddress reports whether s is a 0x-prefixed, 40 hex digit account address.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// CanonicalAddress lowercases a valid address. The boolean is false when s
// is not well formed.
func CanonicalAddress(s string) (string, bool) {
	if !ValidAddress(s) {
		return "", false
	}
	return strings.ToLower(s), true
}

// ShortAddress renders 0x1234...abcd for log and audit lines.
func ShortAddress(s string) string {
	if len(s) < 10 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}
