package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces credential material in log output.
const RedactedValue = "[REDACTED]"

// MaskValue redacts non-empty values. Empty strings pass through so absent
// fields stay visibly absent in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// AuthorizationAttr describes an Authorization header for failure logs
// without disclosing the credential. The scheme survives, the token does not,
// so operators can still tell a missing header from a malformed one.
func AuthorizationAttr(header string) slog.Attr {
	header = strings.TrimSpace(header)
	if header == "" {
		return slog.String("authorization", "")
	}
	scheme, _, found := strings.Cut(header, " ")
	if !found {
		return slog.String("authorization", RedactedValue)
	}
	return slog.String("authorization", scheme+" "+RedactedValue)
}
