package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireOpsToken(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		header     string
		wantStatus int
	}{
		{name: "valid token", token: "s3cret", header: "Bearer s3cret", wantStatus: http.StatusOK},
		{name: "missing header", token: "s3cret", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", token: "s3cret", header: "Basic s3cret", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", token: "s3cret", header: "Bearer guess", wantStatus: http.StatusForbidden},
		{name: "disabled", token: "", header: "", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/x/run", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			handler := RequireOpsToken(tt.token)(func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			})
			require.NoError(t, handler(c))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
