package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/teranos/etlpulse/logger"
)

// handleJobEvents streams job updates as server-sent events until the
// client goes away or the server starts draining.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch := s.queue.Subscribe()
	defer s.queue.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.draining:
			return
		case job, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(job)
			if err != nil {
				s.logger.Warnw("Failed to encode job event", logger.FieldJobID, job.ID, logger.FieldError, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: job\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
