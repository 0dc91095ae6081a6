package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, userID, orgID string, expires time.Time) string {
	t.Helper()
	claims := Claims{
		OrganizationID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestParseToken(t *testing.T) {
	token := signToken(t, testSecret, "user-1", "org-1", time.Now().Add(time.Hour))

	userID, orgID, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)
	require.Equal(t, "org-1", orgID)
}

func TestParseTokenRejectsBadSignature(t *testing.T) {
	token := signToken(t, "other-secret", "user-1", "org-1", time.Now().Add(time.Hour))

	_, _, err := ParseToken(testSecret, token)
	require.Error(t, err)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	token := signToken(t, testSecret, "user-1", "org-1", time.Now().Add(-time.Hour))

	_, _, err := ParseToken(testSecret, token)
	require.Error(t, err)
}

func TestParseTokenRequiresSubjectAndOrg(t *testing.T) {
	noOrg := signToken(t, testSecret, "user-1", "", time.Now().Add(time.Hour))
	_, _, err := ParseToken(testSecret, noOrg)
	require.Error(t, err)

	noUser := signToken(t, testSecret, "", "org-1", time.Now().Add(time.Hour))
	_, _, err = ParseToken(testSecret, noUser)
	require.Error(t, err)
}

func TestParseTokenRejectsUnsignedAlg(t *testing.T) {
	claims := Claims{
		OrganizationID: "org-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, _, err = ParseToken(testSecret, token)
	require.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	var gotUser, gotOrg string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserID(r.Context())
		gotOrg = GetOrgID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	h := Auth(testSecret)(next)
	token := signToken(t, testSecret, "user-1", "org-1", time.Now().Add(time.Hour))

	t.Run("header token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "user-1", gotUser)
		require.Equal(t, "org-1", gotOrg)
	})

	t.Run("query token for websocket handshakes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "user-1", gotUser)
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
