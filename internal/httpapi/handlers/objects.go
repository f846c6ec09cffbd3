package handlers

import (
	"mime"
	"net/http"
	"strconv"
	"strings"

	"blobxfer/internal/blob"

	"github.com/labstack/echo/v4"
)

// GetObject serves an exposed object. Renderable images are served inline,
// everything else as a download.
func (h *Handler) GetObject(c echo.Context) error {
	obj, err := h.svc.Object(strings.TrimSpace(c.Param("id")))
	if err != nil {
		return mapServiceError(err)
	}
	rc, err := obj.Open()
	if err != nil {
		return mapServiceError(err)
	}
	defer rc.Close()

	contentType := obj.MimeType
	disposition := "inline"
	if contentType == blob.MimeAttachment {
		contentType = echo.MIMEOctetStream
		disposition = "attachment"
	}
	header := c.Response().Header()
	if obj.Name != "" {
		header.Set(echo.HeaderContentDisposition, mime.FormatMediaType(disposition, map[string]string{"filename": obj.Name}))
	}
	header.Set(echo.HeaderContentLength, strconv.FormatInt(obj.Size(), 10))
	return c.Stream(http.StatusOK, contentType, rc)
}
