package utils

import "regexp"

var dsnPasswordRegex = regexp.MustCompile(`(:)([^:@/]+)(@)`)

// MaskDSN hides the password portion of a connection string for logging.
func MaskDSN(dsn string) string {
	return dsnPasswordRegex.ReplaceAllString(dsn, ":***@")
}

// MaskSecret replaces all but the first character of a secret with asterisks.
// Used when credential identifiers must appear in logs without leaking values.
func MaskSecret(s string) string {
	if len(s) <= 1 {
		return "***"
	}
	return s[:1] + "***"
}
