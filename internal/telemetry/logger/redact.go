package logger

import (
	"log/slog"
	"strings"

	"github.com/yndnr/mdmcache-go/pkg/token"
)

// TokenPrefix marks bearer tokens issued by mdm-cli.
const TokenPrefix = token.Prefix

var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"token",
	"credential",
	"authorization",
}

const redactedValue = "***REDACTED***"

// redactSensitive masks token-looking values and values of
// secret-looking keys. Groups are walked recursively.
func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		v := a.Value.String()
		if masked, ok := maskToken(v); ok {
			return slog.String(a.Key, masked)
		}
		if v != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

// maskToken masks issued tokens and "Bearer ..." header values, keeping a
// short hint of both ends.
func maskToken(v string) (string, bool) {
	if scheme, rest, ok := strings.Cut(v, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return scheme + " " + maskValue(strings.TrimSpace(rest), ""), true
	}
	if strings.HasPrefix(v, TokenPrefix) {
		return maskValue(v, TokenPrefix), true
	}
	return "", false
}

// maskValue keeps the prefix plus three characters at each end.
func maskValue(value, prefix string) string {
	body := strings.TrimPrefix(value, prefix)
	if len(body) <= 6 {
		return prefix + "***"
	}
	return prefix + body[:3] + "..." + body[len(body)-3:]
}

// RedactString masks a token before it is logged by hand.
func RedactString(value string) string {
	if masked, ok := maskToken(value); ok {
		return masked
	}
	return value
}

// IsSensitiveKey reports whether a key name suggests secret content.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(k, pattern) {
			return true
		}
	}
	return false
}
