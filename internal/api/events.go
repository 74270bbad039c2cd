package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nomenclature-crawler/internal/progress"
)

// streamEvents writes one SSE frame per hub event, carrying the status as of
// delivery. A comment line is sent every heartbeat to keep proxies open.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	events, cancel := s.events.Subscribe(0)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := s.writeFrame(w, "status", eventPayload{
		Stage:  string(progress.StageStateChanged),
		TS:     time.Now().UTC().Format(time.RFC3339Nano),
		Status: s.ctrl.Status(),
	}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			payload := eventPayload{
				Stage:  string(evt.Stage),
				RunID:  evt.RunUUID().String(),
				TS:     evt.TS.UTC().Format(time.RFC3339Nano),
				Note:   evt.Note,
				Status: s.ctrl.Status(),
			}
			if err := s.writeFrame(w, "status", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) writeFrame(w http.ResponseWriter, name string, payload eventPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("encode event failed", zap.Error(err))
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
