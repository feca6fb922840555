package utils

import "strings"

// NormalizePlate canonicalizes a raw plate reading so that all readings of the
// same physical plate collide to one key: uppercase, no spaces, no hyphens.
func NormalizePlate(plate string) string {
	normalized := strings.ToUpper(plate)
	normalized = strings.ReplaceAll(normalized, " ", "")
	normalized = strings.ReplaceAll(normalized, "-", "")
	return normalized
}
