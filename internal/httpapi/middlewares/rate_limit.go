package middlewares

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"blobxfer/internal/auth"
	"blobxfer/internal/ratelimit"

	"github.com/labstack/echo/v4"
)

type tokenVerifier interface {
	Authenticate(context.Context, string) (auth.Claims, error)
}

// transferPrefixes are the routes that stream blob bytes.
var transferPrefixes = []string{"/api/v1/blobs/", "/api/v1/objects/"}

// unlimitedPaths are probed by infrastructure and never limited.
var unlimitedPaths = map[string]struct{}{
	"/healthz": {},
	"/metrics": {},
}

// RejectObserver is told about every request refused by the limiter.
type RejectObserver func(scope ratelimit.Scope, kind ratelimit.BucketKind)

type RateLimitOption func(*rateLimitOptions)

type rateLimitOptions struct {
	onReject RejectObserver
}

func WithRejectObserver(fn RejectObserver) RateLimitOption {
	return func(o *rateLimitOptions) { o.onReject = fn }
}

// NewRateLimitMiddleware limits requests per token subject, or per client
// IP for anonymous or unknown tokens. Claims it resolves are stored on the
// request so the auth middleware does not verify the token again.
func NewRateLimitMiddleware(verifier tokenVerifier, cfg ratelimit.Config, opts ...RateLimitOption) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	limiter := ratelimit.New(cfg)
	var o rateLimitOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := unlimitedPaths[c.Request().URL.Path]; ok {
				return next(c)
			}
			scope := requestScope(c.Request())
			kind, bucket := resolveRateLimitBucket(c, verifier)

			result := limiter.Take(time.Now().UTC(), scope, kind, bucket)
			setRateLimitHeaders(c.Response().Header(), result)

			if !result.Allowed {
				if o.onReject != nil {
					o.onReject(scope, kind)
				}
				c.Response().Header().Set("Retry-After", strconv.FormatInt(result.ResetIn, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error": "rate limit exceeded",
				})
			}
			return next(c)
		}
	}
}

func requestScope(r *http.Request) ratelimit.Scope {
	for _, prefix := range transferPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return ratelimit.ScopeTransfer
		}
	}
	switch strings.ToUpper(strings.TrimSpace(r.Method)) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ratelimit.ScopeRead
	default:
		return ratelimit.ScopeWrite
	}
}

// resolveRateLimitBucket keys authenticated callers by scope and subject so a
// peer and a client sharing a subject name do not share a budget.
func resolveRateLimitBucket(c echo.Context, verifier tokenVerifier) (ratelimit.BucketKind, string) {
	token := extractToken(c.Request())
	if token != "" && verifier != nil {
		claims, err := verifier.Authenticate(c.Request().Context(), token)
		if err == nil {
			auth.SetClaims(c, claims)
			subject := strings.TrimSpace(claims.Subject)
			if subject != "" {
				return ratelimit.BucketKey, claims.Scope + ":" + subject
			}
		}
	}

	ip := strings.TrimSpace(c.RealIP())
	if ip == "" {
		ip = clientIPFromRemoteAddr(c.Request().RemoteAddr)
	}
	if ip == "" {
		ip = "unknown"
	}
	return ratelimit.BucketIP, ip
}

func setRateLimitHeaders(header http.Header, result ratelimit.Result) {
	limit := strconv.Itoa(result.Limit)
	remaining := strconv.Itoa(result.Remaining)
	resetEpoch := strconv.FormatInt(result.ResetAt, 10)
	resetDelay := strconv.FormatInt(result.ResetIn, 10)

	header.Set("X-RateLimit-Limit", limit)
	header.Set("X-RateLimit-Remaining", remaining)
	header.Set("X-RateLimit-Reset", resetEpoch)

	header.Set("RateLimit-Limit", limit)
	header.Set("RateLimit-Remaining", remaining)
	header.Set("RateLimit-Reset", resetDelay)
}

func extractToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(r.Header.Get("X-API-Token"))
}

func clientIPFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(remoteAddr))
	if err != nil {
		return strings.TrimSpace(remoteAddr)
	}
	return strings.TrimSpace(host)
}
