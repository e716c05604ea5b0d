package rpc

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func testAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	t.Setenv("CAPSTACK_AUTH_TEST_SECRET", "hunter2hunter2")
	auth, err := NewAuthenticator(AuthConfig{
		SecretEnv: "CAPSTACK_AUTH_TEST_SECRET",
		Issuer:    "capstack",
		Audience:  "capstack-rpc",
		ClockSkew: time.Minute,
	})
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	return auth
}

func authRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	if _, err := NewAuthenticator(AuthConfig{}); err == nil {
		t.Fatalf("expected error for missing env name")
	}
	t.Setenv("CAPSTACK_AUTH_EMPTY_SECRET", "")
	_, err := NewAuthenticator(AuthConfig{SecretEnv: "CAPSTACK_AUTH_EMPTY_SECRET"})
	if !errors.Is(err, ErrSecretUnset) {
		t.Fatalf("expected ErrSecretUnset, got %v", err)
	}
}

func TestAuthorizeAcceptsValidToken(t *testing.T) {
	auth := testAuthenticator(t)
	token := signTestToken(t, "hunter2hunter2", jwt.MapClaims{
		"iss":   "capstack",
		"aud":   "capstack-rpc",
		"scope": "pool.write events.read",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	if err := auth.Authorize(authRequest(token), ScopePoolWrite); err != nil {
		t.Fatalf("expected token accepted: %v", err)
	}
}

func TestAuthorizeAcceptsScopeArrays(t *testing.T) {
	auth := testAuthenticator(t)
	token := signTestToken(t, "hunter2hunter2", jwt.MapClaims{
		"iss":   "capstack",
		"aud":   []string{"other", "capstack-rpc"},
		"scope": []string{"pool.write"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	if err := auth.Authorize(authRequest(token), ScopePoolWrite); err != nil {
		t.Fatalf("expected token accepted: %v", err)
	}
}

func TestAuthorizeRejections(t *testing.T) {
	auth := testAuthenticator(t)
	base := jwt.MapClaims{
		"iss":   "capstack",
		"aud":   "capstack-rpc",
		"scope": "pool.write",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	mint := func(mutate func(jwt.MapClaims)) string {
		claims := jwt.MapClaims{}
		for k, v := range base {
			claims[k] = v
		}
		if mutate != nil {
			mutate(claims)
		}
		return signTestToken(t, "hunter2hunter2", claims)
	}

	cases := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"wrong secret", signTestToken(t, "not-the-secret", base)},
		{"wrong issuer", mint(func(c jwt.MapClaims) { c["iss"] = "someone-else" })},
		{"wrong audience", mint(func(c jwt.MapClaims) { c["aud"] = "other-api" })},
		{"missing scope", mint(func(c jwt.MapClaims) { c["scope"] = "events.read" })},
		{"expired", mint(func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() })},
	}
	for _, tc := range cases {
		if err := auth.Authorize(authRequest(tc.token), ScopePoolWrite); err == nil {
			t.Fatalf("%s: expected rejection", tc.name)
		}
	}
}

func TestAuthorizeHonorsClockSkew(t *testing.T) {
	auth := testAuthenticator(t)
	// Expired twenty seconds ago but inside the one minute leeway.
	token := signTestToken(t, "hunter2hunter2", jwt.MapClaims{
		"iss":   "capstack",
		"aud":   "capstack-rpc",
		"scope": "pool.write",
		"exp":   time.Now().Add(-20 * time.Second).Unix(),
	})
	if err := auth.Authorize(authRequest(token), ScopePoolWrite); err != nil {
		t.Fatalf("expected leeway to cover recent expiry: %v", err)
	}
}
