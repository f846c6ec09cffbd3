package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"blobxfer/internal/service"

	"github.com/labstack/echo/v4"
)

// keepAlive is how often an idle event stream is written to, and how often
// it checks that the content is still attached.
const keepAlive = 15 * time.Second

// WatchContent streams the view of an attached content as server-sent
// events, starting with its current state and then one "view" event per
// change. Bursts of changes are coalesced into the latest view. The stream
// ends when the client goes away or the content is detached.
func (h *Handler) WatchContent(c echo.Context) error {
	id := contentID(c)

	var (
		mu     sync.Mutex
		latest service.View
	)
	changed := make(chan struct{}, 1)
	unsubscribe, err := h.svc.Subscribe(id, func(v service.View) {
		mu.Lock()
		latest = v
		mu.Unlock()
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return mapServiceError(err)
	}
	defer unsubscribe()

	v, err := h.svc.Status(id)
	if err != nil {
		return mapServiceError(err)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// the server's write timeout would otherwise end long watches
	rc := http.NewResponseController(w)
	extend := func() { _ = rc.SetWriteDeadline(time.Now().Add(2 * keepAlive)) }

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		extend()
		b, err := json.Marshal(viewJSON(v))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: view\ndata: %s\n\n", b); err != nil {
			return nil
		}
		w.Flush()

		for next := false; !next; {
			select {
			case <-ctx.Done():
				return nil
			case <-changed:
				mu.Lock()
				v = latest
				mu.Unlock()
				next = true
			case <-ticker.C:
				if _, err := h.svc.Status(id); err != nil {
					return nil
				}
				extend()
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return nil
				}
				w.Flush()
			}
		}
	}
}
