package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"media-vault/internal/logging"
)

// streamEvents forwards bus events to the client as server-sent events.
// The subscription lasts until the client disconnects.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink, cancel := s.bus.Subscribe()
	defer cancel()

	logging.Debug("event stream opened for %s", r.RemoteAddr)
	for {
		select {
		case event, open := <-sink:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				logging.Warn("failed to marshal event %s: %v", event.Name, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			logging.Debug("event stream closed for %s", r.RemoteAddr)
			return
		}
	}
}
