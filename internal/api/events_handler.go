package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tom-gora/jsoon-bridge/internal/events"
)

const sseKeepAlive = 15 * time.Second

// handleEvents handles GET /events: a Server-Sent Events stream of
// invocation lifecycle events. Clients resume with Last-Event-ID (or
// ?since=N) and may narrow the stream with ?type=invocation.failed,...
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	if lastID == 0 {
		lastID = parseLastEventID(r.URL.Query().Get("since"))
	}
	wanted := parseTypeFilter(r.URL.Query().Get("type"))

	// Subscribe before the snapshot so nothing published in between is lost.
	ch, cancel := s.events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Send buffered events first for late clients.
	for _, ev := range s.events.SnapshotSince(lastID) {
		if !wanted.match(ev.Type) {
			lastID = ev.ID
			continue
		}
		if err := writeSSE(w, ev); err != nil {
			return
		}
		lastID = ev.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= lastID || !wanted.match(ev.Type) {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			lastID = ev.ID
			flusher.Flush()
		case <-keepAlive.C:
			// SSE comment line as keep-alive.
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type typeFilter map[string]struct{}

func parseTypeFilter(v string) typeFilter {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	f := typeFilter{}
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			f[t] = struct{}{}
		}
	}
	return f
}

func (f typeFilter) match(eventType string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[eventType]
	return ok
}

func parseLastEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	// SSE framing: https://html.spec.whatwg.org/multipage/server-sent-events.html
	if _, err := fmt.Fprintf(w, "id: %d\n", ev.ID); err != nil {
		return err
	}
	if ev.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
			return err
		}
	}
	// Payloads are single-line JSON.
	if _, err := fmt.Fprintf(w, "data: %s\n\n", ev.Data); err != nil {
		return err
	}
	return nil
}
