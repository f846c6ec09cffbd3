package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"blobxfer/internal/store"

	"github.com/labstack/echo/v4"
)

var ErrTokenDisabled = errors.New("token disabled")

// Claims describe the caller behind an API token. Scope is one of
// store.ScopeClient, store.ScopePeer or store.ScopeAdmin.
type Claims struct {
	Subject string
	Scope   string
}

// Allows reports whether the claims grant scope. Admin tokens grant
// everything.
func (c Claims) Allows(scope string) bool {
	return c.Scope == store.ScopeAdmin || c.Scope == scope
}

const claimsContextKey = "auth_claims"

// TokenStore resolves hashed tokens.
type TokenStore interface {
	AuthenticateToken(ctx context.Context, tokenHash string) (store.APIToken, error)
}

type Authenticator struct {
	tokens     TokenStore
	adminToken string
	peerToken  string
}

// NewAuthenticator accepts the static admin and peer tokens from config in
// addition to tokens stored in the catalog. Empty static tokens are ignored.
func NewAuthenticator(tokens TokenStore, adminToken, peerToken string) *Authenticator {
	return &Authenticator{
		tokens:     tokens,
		adminToken: adminToken,
		peerToken:  peerToken,
	}
}

// Middleware authenticates the request token. Claims already resolved by an
// earlier middleware on the same request are reused.
func (a *Authenticator) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := GetClaims(c); ok {
			return next(c)
		}
		token := extractToken(c.Request())
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing API token")
		}

		claims, err := a.Authenticate(c.Request().Context(), token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid API token")
		}
		SetClaims(c, claims)

		return next(c)
	}
}

// RequireScope rejects requests whose claims do not grant scope. It must
// run after Middleware.
func RequireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, ok := GetClaims(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing API token")
			}
			if !claims.Allows(scope) {
				return echo.NewHTTPError(http.StatusForbidden, "token scope does not allow this operation")
			}
			return next(c)
		}
	}
}

func (a *Authenticator) Authenticate(ctx context.Context, token string) (Claims, error) {
	if equalToken(token, a.adminToken) {
		return Claims{Subject: "admin", Scope: store.ScopeAdmin}, nil
	}
	if equalToken(token, a.peerToken) {
		return Claims{Subject: "peer", Scope: store.ScopePeer}, nil
	}
	if a.tokens == nil {
		return Claims{}, errors.New("unknown token")
	}

	t, err := a.tokens.AuthenticateToken(ctx, HashToken(token))
	if err != nil {
		return Claims{}, err
	}
	if t.Disabled {
		return Claims{}, ErrTokenDisabled
	}

	return Claims{Subject: t.Subject, Scope: t.Scope}, nil
}

// HashToken returns the hex sha256 under which a token is stored.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// SetClaims records authenticated claims on the request.
func SetClaims(c echo.Context, claims Claims) {
	c.Set(claimsContextKey, claims)
}

func GetClaims(c echo.Context) (Claims, bool) {
	raw := c.Get(claimsContextKey)
	if raw == nil {
		return Claims{}, false
	}
	claims, ok := raw.(Claims)
	return claims, ok
}

func equalToken(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func extractToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Token"))
}
