package config

import "strings"

// Sanitize returns a copy with secrets masked, safe to log or print.
func Sanitize(cfg *BridgeConfig) *BridgeConfig {
	sanitized := *cfg
	sanitized.Sync.SubjectTypes = append([]string(nil), cfg.Sync.SubjectTypes...)

	if sanitized.Security.EncryptionKey != "" {
		sanitized.Security.EncryptionKey = maskSecret(sanitized.Security.EncryptionKey)
	}
	if sanitized.Server.HTTP.APIKeyHash != "" {
		sanitized.Server.HTTP.APIKeyHash = maskSecret(sanitized.Server.HTTP.APIKeyHash)
	}
	return &sanitized
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
