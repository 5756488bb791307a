package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// handleEventStream serves the engine's event hub over SSE. Clients may
// resume with Last-Event-ID; the hub's ring buffer replays what it still
// holds.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var lastID int64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastID = n
		}
	}

	hub := s.engine.Hub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	// Replay buffered events before streaming live ones.
	for _, ev := range hub.SnapshotSince(lastID) {
		writeSSE(w, ev.ID, ev.Type, ev.Data)
		lastID = ev.ID
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= lastID {
				continue
			}
			writeSSE(w, ev.ID, ev.Type, ev.Data)
			lastID = ev.ID
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, id int64, eventType string, data json.RawMessage) {
	fmt.Fprintf(w, "id: %d\n", id)
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
