package handlers

import (
	"net/http"

	"blobxfer/internal/service"

	"github.com/labstack/echo/v4"
)

func (h *Handler) TriggerPrefetch(c echo.Context) error {
	if h.prefetch == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "prefetch not configured")
	}

	started, err := h.prefetch.TriggerPrefetch(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !started {
		return c.JSON(http.StatusOK, map[string]any{
			"ok":      true,
			"message": "prefetch already running",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":      true,
		"message": "prefetch started",
	})
}

func (h *Handler) GetPrefetchStatus(c echo.Context) error {
	if h.prefetch == nil {
		return c.JSON(http.StatusOK, map[string]any{
			"configured": false,
			"running":    false,
		})
	}

	status := h.prefetch.Status()
	return c.JSON(http.StatusOK, map[string]any{
		"configured": true,
		"running":    status.Running,
		"lastResult": status.LastResult,
		"lastError":  status.LastError,
	})
}

func (h *Handler) GetPrefetchConfig(c echo.Context) error {
	cfg, err := h.svc.GetPrefetchConfig(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) SavePrefetchConfig(c echo.Context) error {
	var req service.PrefetchConfig
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if err := h.svc.SavePrefetchConfig(c.Request().Context(), req); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) CreateToken(c echo.Context) error {
	var req struct {
		Subject string `json:"subject"`
		Name    string `json:"name"`
		Scope   string `json:"scope"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	token, id, err := h.svc.CreateToken(c.Request().Context(), req.Subject, req.Name, req.Scope)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":      id.String(),
		"subject": req.Subject,
		"token":   token,
	})
}

func (h *Handler) ListTokens(c echo.Context) error {
	tokens, err := h.svc.ListTokens(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	out := make([]map[string]any, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, tokenJSON(t))
	}
	return c.JSON(http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) RevokeToken(c echo.Context) error {
	if err := h.svc.RevokeToken(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}
