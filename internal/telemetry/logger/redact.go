package logger

import (
	"log/slog"
	"strings"
)

// Values with these prefixes are partially masked wherever they appear.
var sensitiveValuePrefixes = []string{
	"kbak_", // inbound API key
}

// Keys containing these patterns are fully redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"token",
	"key",
	"credential",
	"authorization",
	"bearer",
}

// Tax identification numbers are masked to their last 3 digits.
var taxIDKeys = map[string]bool{
	"tax_id":        true,
	"nip":           true,
	"issuer_tax_id": true,
	"seller_tax_id": true,
	"buyer_tax_id":  true,
}

const redactedValue = "***REDACTED***"

func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}

	keyLower := strings.ToLower(a.Key)
	if taxIDKeys[keyLower] {
		return slog.String(a.Key, MaskTaxID(a.Value.String()))
	}

	if a.Value.Kind() != slog.KindString {
		if IsSensitiveKey(a.Key) && a.Value.Kind() == slog.KindAny {
			return slog.String(a.Key, redactedValue)
		}
		return a
	}

	strVal := a.Value.String()
	for _, prefix := range sensitiveValuePrefixes {
		if strings.HasPrefix(strVal, prefix) {
			return slog.String(a.Key, maskValue(strVal, prefix))
		}
	}
	if strVal != "" && IsSensitiveKey(a.Key) {
		return slog.String(a.Key, redactedValue)
	}
	return a
}

// maskValue keeps the prefix plus the first and last 3 characters.
func maskValue(value, prefix string) string {
	body := value[len(prefix):]
	if len(body) <= 6 {
		return prefix + "***"
	}
	return prefix + body[:3] + "..." + body[len(body)-3:]
}

// MaskTaxID keeps the last 3 digits of a tax identification number.
func MaskTaxID(id string) string {
	digits := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] >= '0' && id[i] <= '9' {
			digits = append(digits, id[i])
		}
	}
	if len(digits) <= 3 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-3) + string(digits[len(digits)-3:])
}

// RedactString masks value if it looks like an API key.
func RedactString(value string) string {
	for _, prefix := range sensitiveValuePrefixes {
		if strings.HasPrefix(value, prefix) {
			return maskValue(value, prefix)
		}
	}
	return value
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}

// IsSensitiveValue checks if a value appears to be sensitive.
func IsSensitiveValue(value string) bool {
	for _, prefix := range sensitiveValuePrefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
