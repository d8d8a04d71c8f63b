package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/shinyyama/flora-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret, sub, role string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestRequireAuth(t *testing.T) {
	mw := NewAuthMiddleware(NewJWTVerifier("secret"))
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantUID  string
		wantRole string
	}{
		{name: "missing header", header: "", wantCode: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "bad signature", header: "Bearer " + sign(t, "other", "u1", model.RoleSeller, future), wantCode: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + sign(t, "secret", "u1", model.RoleSeller, time.Now().Add(-time.Minute)), wantCode: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + sign(t, "secret", "", model.RoleSeller, future), wantCode: http.StatusUnauthorized},
		{name: "seller", header: "Bearer " + sign(t, "secret", "u1", model.RoleSeller, future), wantCode: http.StatusOK, wantUID: "u1", wantRole: model.RoleSeller},
		{name: "role defaults to buyer", header: "Bearer " + sign(t, "secret", "u2", "", future), wantCode: http.StatusOK, wantUID: "u2", wantRole: model.RoleBuyer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var gotUID, gotRole string
			h := mw.RequireAuth(func(c echo.Context) error {
				gotUID, _ = c.Get("uid").(string)
				gotRole, _ = c.Get("role").(string)
				return c.NoContent(http.StatusOK)
			})
			require.NoError(t, h(c))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantUID, gotUID)
			assert.Equal(t, tt.wantRole, gotRole)
		})
	}
}
