package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AuthConfig describes the bearer tokens accepted on mutating methods. The
// HMAC secret is sourced from the environment variable named by SecretEnv so
// it never lands in a config file.
type AuthConfig struct {
	SecretEnv string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// ErrSecretUnset is returned when the configured environment variable holds
// no secret.
var ErrSecretUnset = errors.New("rpc: auth secret environment variable is empty")

// Authenticator validates HS256 bearer tokens and their scopes.
type Authenticator struct {
	secret   []byte
	issuer   string
	audience string
	skew     time.Duration
}

// NewAuthenticator reads the shared secret from the environment and builds a
// validator around it.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	name := strings.TrimSpace(cfg.SecretEnv)
	if name == "" {
		return nil, fmt.Errorf("rpc: auth secret environment variable name required")
	}
	secret := strings.TrimSpace(os.Getenv(name))
	if secret == "" {
		return nil, fmt.Errorf("%w: %s", ErrSecretUnset, name)
	}
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &Authenticator{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		skew:     skew,
	}, nil
}

// Authorize checks the request's bearer token and verifies it carries the
// required scope.
func (a *Authenticator) Authorize(r *http.Request, requiredScope string) error {
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return errors.New("missing bearer token")
	}
	claims, err := a.parseToken(tokenString)
	if err != nil {
		return err
	}
	if err := validateClaims(claims, a.issuer, a.audience); err != nil {
		return err
	}
	if requiredScope != "" && !hasScope(extractScopes(claims), requiredScope) {
		return fmt.Errorf("missing required scope %q", requiredScope)
	}
	return nil
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.skew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		switch val := claims["aud"].(type) {
		case string:
			if val != audience {
				return errors.New("audience mismatch")
			}
		case []interface{}:
			matched := false
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
			if !matched {
				return errors.New("audience mismatch")
			}
		default:
			return errors.New("audience missing")
		}
	}
	return nil
}

func extractScopes(claims jwt.MapClaims) []string {
	raw, ok := claims["scope"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		return strings.Fields(trimmed)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScope(scopes []string, required string) bool {
	for _, scope := range scopes {
		if scope == required {
			return true
		}
	}
	return false
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
