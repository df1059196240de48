package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cuemby/orchestrator/pkg/events"
)

// handleEvents serves GET /events: a single subscription streams every
// topic as server-sent events, optionally filtered by repeated ?topic=
// query parameters.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, CodeInternal, "streaming unsupported")
		return
	}

	var topics []events.Topic
	for _, t := range r.URL.Query()["topic"] {
		topics = append(topics, events.Topic(t))
	}

	sub := s.engine.Broker.Subscribe(topics...)
	defer s.engine.Broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Topic, data)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
