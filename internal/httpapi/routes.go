package httpapi

import (
	"net/http"
	"time"

	"blobxfer/internal/auth"
	"blobxfer/internal/store"

	"github.com/labstack/echo/v4"
)

func (a *API) registerRoutes(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"ok":        true,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	if a.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(a.metrics))
	}

	v1 := e.Group("/api/v1", a.auth.Middleware)
	a.registerPeerRoutes(v1)
	a.registerClientRoutes(v1)
	a.registerInternalRoutes(e)
}

// registerPeerRoutes exposes local storage to other nodes.
func (a *API) registerPeerRoutes(v1 *echo.Group) {
	blobs := v1.Group("/blobs", auth.RequireScope(store.ScopePeer))
	blobs.GET("/:id", a.handler.GetBlob)
	blobs.HEAD("/:id", a.handler.HeadBlob)
	blobs.PUT("/:id", a.handler.PutBlob)
}

func (a *API) registerClientRoutes(v1 *echo.Group) {
	client := v1.Group("", auth.RequireScope(store.ScopeClient))
	client.GET("/contents", a.handler.ListContents)
	client.POST("/contents", a.handler.AttachContent)
	client.GET("/attached", a.handler.ListAttached)
	client.GET("/contents/:id", a.handler.GetContent)
	client.DELETE("/contents/:id", a.handler.DetachContent)
	client.GET("/contents/:id/catalog", a.handler.GetCatalogEntry)
	client.GET("/contents/:id/transfers", a.handler.ListTransfers)
	client.POST("/contents/:id/download", a.handler.StartDownload)
	client.DELETE("/contents/:id/download", a.handler.CancelDownload)
	client.PUT("/contents/:id/upload", a.handler.Upload)
	client.DELETE("/contents/:id/upload", a.handler.CancelUpload)
	client.POST("/contents/:id/pause", a.handler.PauseTransfer)
	client.POST("/contents/:id/resume", a.handler.ResumeTransfer)
	client.GET("/contents/:id/events", a.handler.WatchContent)
	client.DELETE("/contents/:id/object", a.handler.PurgeObject)
	client.GET("/objects/:id", a.handler.GetObject)
}

func (a *API) registerInternalRoutes(e *echo.Echo) {
	internal := e.Group("/api/internal", a.auth.Middleware, auth.RequireScope(store.ScopeAdmin))
	internal.POST("/prefetch", a.handler.TriggerPrefetch)
	internal.GET("/prefetch", a.handler.GetPrefetchStatus)
	internal.GET("/prefetch/config", a.handler.GetPrefetchConfig)
	internal.PUT("/prefetch/config", a.handler.SavePrefetchConfig)
	internal.POST("/tokens", a.handler.CreateToken)
	internal.GET("/tokens", a.handler.ListTokens)
	internal.DELETE("/tokens/:id", a.handler.RevokeToken)
}
