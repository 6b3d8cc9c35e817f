package config

import "strings"

// Sanitize returns a copy of the config with sensitive fields masked.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg

	if sanitized.Sources.Secondary.Password != "" {
		sanitized.Sources.Secondary.Password = maskSecret(sanitized.Sources.Secondary.Password)
	}
	if len(cfg.Security.Tokens) > 0 {
		sanitized.Security.Tokens = make([]TokenConfig, len(cfg.Security.Tokens))
		for i, tok := range cfg.Security.Tokens {
			tok.Hash = maskSecret(tok.Hash)
			sanitized.Security.Tokens[i] = tok
		}
	}
	return &sanitized
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
