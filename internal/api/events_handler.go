package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/agentbridge/internal/events"
)

const keepAliveInterval = 15 * time.Second

// streamFilter selects which hub events a client receives. An empty
// conversation matches everything.
type streamFilter struct {
	conversation string
}

func (f streamFilter) match(ev events.Event) bool {
	if f.conversation == "" {
		return true
	}
	var probe struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(ev.Data, &probe); err != nil {
		return false
	}
	return probe.ConversationID == f.conversation
}

// handleEvents streams hub events as SSE. Last-Event-ID replays buffered
// events newer than the given id; ?conversation= narrows the stream to one chat.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	filter := streamFilter{conversation: r.URL.Query().Get("conversation")}

	// Subscribe first: events published during the replay arrive on ch.
	ch, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	cursor := parseLastEventID(r.Header.Get("Last-Event-ID"))
	send := func(ev events.Event) bool {
		if ev.ID <= cursor {
			return true
		}
		cursor = ev.ID
		if !filter.match(ev) {
			return true
		}
		return writeSSE(w, ev) == nil
	}

	for _, ev := range s.events.SnapshotSince(cursor) {
		if !send(ev) {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok || !send(ev) {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
