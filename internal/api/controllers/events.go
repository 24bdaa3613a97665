package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/grabd/grabd/internal/engine"
	"github.com/labstack/echo/v5"
)

type EventsController struct {
	Manager *engine.QueueManager
}

// Stream pushes job transitions and progress samples as server-sent
// events until the client disconnects.
func (ctrl *EventsController) Stream(c *echo.Context) error {
	sub := ctrl.Manager.Subscribe()
	defer ctrl.Manager.Unsubscribe(sub)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				// Manager shut down.
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
				return nil
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
