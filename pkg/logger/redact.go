package logger

import (
	"log/slog"
	"strings"
)

// piiKeys are attribute keys whose values are never logged verbatim.
var piiKeys = []string{"email", "phone", "contact", "street", "postal"}

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactValue masks everything but the last two characters.
func RedactValue(v string) string {
	if len(v) <= 2 {
		return "***"
	}
	return "***" + v[len(v)-2:]
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	val := a.Value.String()
	if val == "" {
		return a
	}

	key := strings.ToLower(a.Key)
	for _, k := range piiKeys {
		if !strings.Contains(key, k) {
			continue
		}
		// Hashes are already pseudonymous.
		if strings.HasSuffix(key, "hash") {
			return a
		}
		if strings.Contains(val, "@") {
			return slog.String(a.Key, RedactEmail(val))
		}
		return slog.String(a.Key, RedactValue(val))
	}

	if strings.Contains(val, "@") && !strings.ContainsAny(val, " \t") && strings.Contains(val[strings.Index(val, "@"):], ".") {
		return slog.String(a.Key, RedactEmail(val))
	}
	return a
}
