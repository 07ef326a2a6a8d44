// Package sse streams appended session records as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

// Handler fans published records out to connected clients.
type Handler struct {
	mu      sync.RWMutex
	clients map[chan events.Record]struct{}
}

// NewHandler creates a handler with no clients.
func NewHandler() *Handler {
	return &Handler{clients: make(map[chan events.Record]struct{})}
}

// Publish sends r to every client. Slow clients miss records rather than
// blocking the publisher.
func (h *Handler) Publish(r events.Record) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- r:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (h *Handler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP streams records until the client disconnects. The query
// parameters types (comma separated) and stream narrow what is sent.
// Internal events are only sent when named in types.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	typeFilter := make(map[session.EventType]bool)
	if types := r.URL.Query().Get("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			typeFilter[session.EventType(strings.TrimSpace(t))] = true
		}
	}
	stream := r.URL.Query().Get("stream")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := make(chan events.Record, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-ch:
			if stream != "" && rec.StreamID != stream {
				continue
			}
			if len(typeFilter) > 0 {
				if !typeFilter[rec.Type] {
					continue
				}
			} else if rec.Type.IsInternal() {
				continue
			}

			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "id: %s:%d\n", rec.StreamID, rec.Version)
			_, _ = fmt.Fprintf(w, "event: %s\n", rec.Type)
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
