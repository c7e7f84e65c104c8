package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"nftlend/crypto"
)

const testSecret = "lend-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func principalEcho(seen *Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if ok {
			*seen = principal
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthenticatorJWTSubjectBecomesCaller(t *testing.T) {
	caller := crypto.BytesToAddress([]byte{0x42})
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "nftlend"}, nil)
	var seen Principal
	handler := auth.Middleware("lending:write")(principalEcho(&seen))

	token := signToken(t, jwt.MapClaims{
		"sub":   caller.String(),
		"iss":   "nftlend",
		"scope": "lending:read lending:write",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/offers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, caller, seen.Caller)
	require.Equal(t, []string{"lending:read", "lending:write"}, seen.Scopes)
}

func TestAuthenticatorRejections(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	var seen Principal
	handler := auth.Middleware("lending:write")(principalEcho(&seen))

	cases := map[string]struct {
		header string
		status int
	}{
		"missing":   {header: "", status: http.StatusUnauthorized},
		"garbage":   {header: "Bearer nope", status: http.StatusUnauthorized},
		"no sub":    {header: "Bearer " + signToken(t, jwt.MapClaims{"scope": "lending:write"}), status: http.StatusUnauthorized},
		"bad sub":   {header: "Bearer " + signToken(t, jwt.MapClaims{"sub": "alice", "scope": "lending:write"}), status: http.StatusUnauthorized},
		"expired":   {header: "Bearer " + signToken(t, jwt.MapClaims{"sub": crypto.BytesToAddress([]byte{1}).Hex(), "exp": time.Now().Add(-time.Hour).Unix()}), status: http.StatusUnauthorized},
		"scope gap": {header: "Bearer " + signToken(t, jwt.MapClaims{"sub": crypto.BytesToAddress([]byte{1}).Hex(), "scope": "lending:read"}), status: http.StatusForbidden},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/offers", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			require.Equal(t, tc.status, res.Code)
		})
	}
}

func TestAuthenticatorStaticTokens(t *testing.T) {
	caller := crypto.BytesToAddress([]byte{0x07})
	auth := NewAuthenticator(AuthConfig{
		Enabled:   true,
		APITokens: map[string]Principal{"static-token": {Caller: caller, Scopes: []string{"lending:write"}}},
	}, nil)
	var seen Principal
	handler := auth.Middleware("lending:write")(principalEcho(&seen))

	req := httptest.NewRequest(http.MethodPost, "/v1/loans", nil)
	req.Header.Set("Authorization", "Bearer static-token")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, caller, seen.Caller)
}

func TestAuthenticatorDisabledTrustsCallerHeader(t *testing.T) {
	caller := crypto.BytesToAddress([]byte{0x09})
	auth := NewAuthenticator(AuthConfig{}, nil)
	var seen Principal
	handler := auth.Middleware("lending:write")(principalEcho(&seen))

	req := httptest.NewRequest(http.MethodPost, "/v1/loans", nil)
	req.Header.Set(CallerHeader, caller.Hex())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, caller, seen.Caller)
}
