package handlers

import (
	"io"
	"net/http"
	"strings"

	"blobxfer/internal/auth"
	"blobxfer/internal/blob"
	"blobxfer/internal/service"

	"github.com/labstack/echo/v4"
)

func (h *Handler) ListContents(c echo.Context) error {
	p, err := parsePage(c, 50, 200)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cursor")
	}
	items, err := h.svc.ListContents(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return mapServiceError(err)
	}

	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, contentJSON(item))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"items":      out,
		"nextCursor": p.next(len(items)),
	})
}

// ListAttached returns every content with a live controller.
func (h *Handler) ListAttached(c echo.Context) error {
	views := h.svc.List()
	out := make([]map[string]any, 0, len(views))
	for _, v := range views {
		out = append(out, viewJSON(v))
	}
	return c.JSON(http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) AttachContent(c echo.Context) error {
	var req struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
		Length   int64  `json:"length"`
		Owner    string `json:"owner"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if req.Owner == "" {
		if claims, ok := auth.GetClaims(c); ok {
			req.Owner = claims.Subject
		}
	}

	v, err := h.svc.Attach(c.Request().Context(), blob.ContentHandle{
		ID:       req.ID,
		Filename: req.Filename,
		Length:   req.Length,
		Owner:    req.Owner,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, viewJSON(v))
}

func (h *Handler) GetContent(c echo.Context) error {
	v, err := h.svc.Status(contentID(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, viewJSON(v))
}

func (h *Handler) DetachContent(c echo.Context) error {
	if err := h.svc.Detach(contentID(c)); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) StartDownload(c echo.Context) error {
	v, err := h.svc.Download(contentID(c), queryBool(c, "fallback", true))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, viewJSON(v))
}

func (h *Handler) CancelDownload(c echo.Context) error {
	v, err := h.svc.CancelDownload(contentID(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, viewJSON(v))
}

// Upload reads the request body as the content to send. The body is held in
// memory, so it is bounded by the maximum blob size.
func (h *Handler) Upload(c echo.Context) error {
	id := contentID(c)
	if c.Request().ContentLength > h.cfg.MaxBlobBytes {
		return mapServiceError(service.ErrTooLarge)
	}
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, h.cfg.MaxBlobBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body")
	}

	handle := blob.ContentHandle{
		ID:       id,
		Filename: strings.TrimSpace(c.QueryParam("filename")),
	}
	if claims, ok := auth.GetClaims(c); ok {
		handle.Owner = claims.Subject
	}
	v, err := h.svc.Send(c.Request().Context(), handle, blob.BytesContent(data))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, viewJSON(v))
}

func (h *Handler) CancelUpload(c echo.Context) error {
	v, err := h.svc.CancelUpload(contentID(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, viewJSON(v))
}

// PauseTransfer holds the running download, or upload with ?upload=true.
func (h *Handler) PauseTransfer(c echo.Context) error {
	v, err := h.svc.Pause(contentID(c), direction(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, viewJSON(v))
}

func (h *Handler) ResumeTransfer(c echo.Context) error {
	v, err := h.svc.Resume(contentID(c), direction(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, viewJSON(v))
}

// PurgeObject releases the exposed object but keeps the content attached.
func (h *Handler) PurgeObject(c echo.Context) error {
	v, err := h.svc.Purge(contentID(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, viewJSON(v))
}

func (h *Handler) GetCatalogEntry(c echo.Context) error {
	item, err := h.svc.GetContent(c.Request().Context(), contentID(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, contentJSON(item))
}

func (h *Handler) ListTransfers(c echo.Context) error {
	limit := parseLimit(c, 20, 100)
	items, err := h.svc.Transfers(c.Request().Context(), contentID(c), limit)
	if err != nil {
		return mapServiceError(err)
	}
	out := make([]map[string]any, 0, len(items))
	for _, t := range items {
		out = append(out, transferJSON(t))
	}
	return c.JSON(http.StatusOK, map[string]any{"items": out})
}

func contentID(c echo.Context) string {
	return strings.TrimSpace(c.Param("id"))
}

func direction(c echo.Context) blob.Direction {
	if queryBool(c, "upload", false) {
		return blob.DirectionUpload
	}
	return blob.DirectionDownload
}
