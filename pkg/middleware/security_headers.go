package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeadersConfig overrides the response headers set on the ops API.
// Empty fields keep the defaults.
type SecurityHeadersConfig struct {
	ContentSecurityPolicy string
	ReferrerPolicy        string
	PermissionsPolicy     string
}

// DefaultSecurityHeadersConfig suits a JSON-only API that browsers never
// render or frame.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
		PermissionsPolicy:     "camera=(), microphone=(), geolocation=(), payment=()",
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// SecurityHeaders sets the policy headers on every response and marks it
// uncacheable.
func SecurityHeaders(config SecurityHeadersConfig) echo.MiddlewareFunc {
	def := DefaultSecurityHeadersConfig()
	headers := [][2]string{
		{"Content-Security-Policy", orDefault(config.ContentSecurityPolicy, def.ContentSecurityPolicy)},
		{"Referrer-Policy", orDefault(config.ReferrerPolicy, def.ReferrerPolicy)},
		{"Permissions-Policy", orDefault(config.PermissionsPolicy, def.PermissionsPolicy)},
		{"X-Content-Type-Options", "nosniff"},
		{"Cache-Control", "no-store"},
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range headers {
				h.Set(kv[0], kv[1])
			}
			return next(c)
		}
	}
}
