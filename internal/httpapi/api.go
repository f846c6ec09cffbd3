package httpapi

import (
	"net/http"

	"blobxfer/internal/auth"
	"blobxfer/internal/config"
	"blobxfer/internal/httpapi/handlers"
	"blobxfer/internal/httpapi/middlewares"
	"blobxfer/internal/metrics"
	"blobxfer/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type API struct {
	cfg       config.Config
	auth      *auth.Authenticator
	handler   *handlers.Handler
	metrics   http.Handler
	rateLimit *metrics.RateLimit
}

// New wires the HTTP surface. trigger may be nil when prefetch is not
// configured; reg may be nil to disable /metrics.
func New(
	cfg config.Config,
	svc *service.Service,
	node handlers.BlobNode,
	authn *auth.Authenticator,
	trigger handlers.PrefetchTrigger,
	reg *prometheus.Registry,
) *API {
	a := &API{
		cfg:     cfg,
		auth:    authn,
		handler: handlers.New(cfg, svc, node, trigger),
	}
	if reg != nil {
		a.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		a.rateLimit = metrics.NewRateLimit(reg)
	}
	return a
}

func (a *API) NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: a.cfg.CORSAllowedOrigins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderAccept,
			echo.HeaderContentType,
			echo.HeaderAuthorization,
			"X-API-Token",
		},
		ExposeHeaders: []string{
			"RateLimit-Limit",
			"RateLimit-Remaining",
			"RateLimit-Reset",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
			"Retry-After",
		},
		MaxAge: 600,
	}))
	var rlOpts []middlewares.RateLimitOption
	if a.rateLimit != nil {
		rlOpts = append(rlOpts, middlewares.WithRejectObserver(a.rateLimit.Rejected))
	}
	e.Use(middlewares.NewRateLimitMiddleware(a.auth, a.cfg.RateLimit, rlOpts...))

	a.registerRoutes(e)
	return e
}
