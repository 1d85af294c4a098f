package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	username := parts[0]
	domain := parts[1]

	// Mask username: keep first char, mask rest
	if len(username) > 1 {
		username = string(username[0]) + strings.Repeat("*", len(username)-1)
	}

	// Mask domain: keep TLD, mask the rest
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		// Mask all but the TLD
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// FingerprintAttr logs a short digest prefix of a device fingerprint so two
// log lines can be correlated without storing the value itself
func FingerprintAttr(fingerprint string) slog.Attr {
	if fingerprint == "" {
		return slog.String("fingerprint", "")
	}
	sum := sha256.Sum256([]byte(fingerprint))
	return slog.String("fingerprint", hex.EncodeToString(sum[:4]))
}

var sensitiveParams = []string{
	"password", "token", "secret", "email", "auth",
	"code", "fingerprint", "identifier", "recovery",
}

// SanitizeQueryString checks if query string contains sensitive parameters
// and returns true if the entire query string should be redacted
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
