package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	viper.Set("jwt.secret_key", testSecret)

	var gotOwnerID string
	handler := AuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwnerID, _ = r.Context().Value("ownerID").(string)
	}))

	t.Run("owner token puts owner id in context", func(t *testing.T) {
		gotOwnerID = ""
		req := httptest.NewRequest(http.MethodGet, "/balance", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"owner_id": "seller-1"}))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "seller-1", gotOwnerID)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/balance", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token without owner_id claim", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/balance", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"role": "backoffice"}))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/balance", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestBackofficeMiddleware(t *testing.T) {
	viper.Set("jwt.secret_key", testSecret)

	called := false
	handler := BackofficeMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	t.Run("backoffice token passes", func(t *testing.T) {
		called = false
		req := httptest.NewRequest(http.MethodPut, "/withdrawals/w1/status", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"role": "backoffice"}))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, called)
	})

	t.Run("owner token cannot drive the payout lifecycle", func(t *testing.T) {
		called = false
		req := httptest.NewRequest(http.MethodPut, "/withdrawals/w1/status", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"owner_id": "seller-1"}))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.False(t, called)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/withdrawals/w1/status", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
