package handlers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"blobxfer/internal/service"
	"blobxfer/internal/storage"

	"github.com/labstack/echo/v4"
)

func mapServiceError(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// page is the limit and offset of a paginated list request. The offset
// travels as an opaque cursor so clients never build it themselves.
type page struct {
	Limit  int
	Offset int
}

func parsePage(c echo.Context, defaultLimit, maxLimit int) (page, error) {
	offset, err := decodeCursor(c.QueryParam("cursor"))
	if err != nil {
		return page{}, err
	}
	return page{Limit: parseLimit(c, defaultLimit, maxLimit), Offset: offset}, nil
}

// parseLimit reads the limit query param clamped to [1, maxLimit]. A missing
// or malformed value yields defaultLimit.
func parseLimit(c echo.Context, defaultLimit, maxLimit int) int {
	raw := strings.TrimSpace(c.QueryParam("limit"))
	if raw == "" {
		return defaultLimit
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultLimit
	}
	return min(max(v, 1), maxLimit)
}

// next returns the cursor of the following page, or nil when a short page
// of n items shows the list is exhausted.
func (p page) next(n int) *string {
	if n < p.Limit {
		return nil
	}
	cur := encodeCursor(p.Offset + n)
	return &cur
}

func queryBool(c echo.Context, key string, fallback bool) bool {
	raw := strings.TrimSpace(c.QueryParam(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte("o:" + strconv.Itoa(offset)))
}

func decodeCursor(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor: %w", err)
	}
	digits, ok := strings.CutPrefix(string(data), "o:")
	if !ok {
		return 0, errors.New("invalid cursor")
	}
	offset, err := strconv.Atoi(digits)
	if err != nil || offset < 0 {
		return 0, errors.New("invalid cursor")
	}
	return offset, nil
}
