package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ShayCichocki/teamlead/internal/notify"
)

// streamEvents serves the notification hub as server-sent events. The first
// event is a snapshot. ?session=<id> filters session-scoped events.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Hub == nil {
		writeError(w, http.StatusNotFound, "event stream is not configured")
		return
	}
	rc := http.NewResponseController(w)
	filter := r.URL.Query().Get("session")

	sub := s.opts.Hub.Subscribe(0)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("event stream cannot flush", "error", err)
		return
	}

	keepAlive := time.NewTicker(s.opts.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			if filter != "" && e.Type != notify.EventSnapshot && e.SessionID != "" && e.SessionID != filter {
				continue
			}
			if err := writeEvent(w, e); err != nil {
				s.logger.Debug("event stream closed", "error", err)
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, e notify.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, e.Type, data)
	return err
}
