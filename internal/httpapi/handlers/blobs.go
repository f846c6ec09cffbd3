package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// GetBlob streams locally stored content to a peer.
func (h *Handler) GetBlob(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	f, err := h.node.Open(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	defer f.Close()

	if f.Size() >= 0 {
		c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(f.Size(), 10))
	}
	return c.Stream(http.StatusOK, echo.MIMEOctetStream, f)
}

func (h *Handler) HeadBlob(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	ok, err := h.node.Has(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}
	return c.NoContent(http.StatusOK)
}

// PutBlob stores content pushed by a peer. Waiting controllers are notified
// through the node's availability hooks.
func (h *Handler) PutBlob(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content id required")
	}
	if c.Request().ContentLength > h.cfg.MaxBlobBytes {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "content exceeds maximum blob size")
	}

	body := http.MaxBytesReader(c.Response(), c.Request().Body, h.cfg.MaxBlobBytes)
	digest, size, err := h.node.Put(c.Request().Context(), id, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "content exceeds maximum blob size")
		}
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"id":     id,
		"digest": digest,
		"size":   size,
	})
}
