package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	// sseQueryInterval is how often the run report is polled.
	sseQueryInterval = 2 * time.Second
	// sseMaxDuration is the maximum time an SSE stream may remain open.
	sseMaxDuration = 4 * time.Hour
)

// sseEvent represents an event sent via SSE.
type sseEvent struct {
	EventType string          `json:"event_type"`
	Status    *statusResponse `json:"status,omitempty"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

// streamStatus handles GET /status/stream (SSE). It emits the run report on
// every poll until the run reaches a terminal state.
func (s *Server) streamStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusNotFound, "no run attached")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	report := s.status.Report()
	if report.State.Terminal() {
		resp := newStatusResponse(report)
		sendSSEEvent(w, flusher, sseEvent{
			EventType: "completed",
			Status:    &resp,
			Message:   "run is in terminal state: " + string(report.State),
			Timestamp: time.Now(),
		})
		return
	}

	resp := newStatusResponse(report)
	sendSSEEvent(w, flusher, sseEvent{
		EventType: "stream_started",
		Status:    &resp,
		Message:   "progress stream started",
		Timestamp: time.Now(),
	})

	deadlineTimer := time.NewTimer(sseMaxDuration)
	defer deadlineTimer.Stop()
	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-deadlineTimer.C:
			sendSSEEvent(w, flusher, sseEvent{
				EventType: "timeout",
				Message:   "stream max duration exceeded",
				Timestamp: time.Now(),
			})
			return

		case <-ticker.C:
			current := s.status.Report()
			resp := newStatusResponse(current)
			if current.State.Terminal() {
				sendSSEEvent(w, flusher, sseEvent{
					EventType: "completed",
					Status:    &resp,
					Message:   "run finished with state: " + string(current.State),
					Timestamp: time.Now(),
				})
				return
			}
			sendSSEEvent(w, flusher, sseEvent{
				EventType: "progress_update",
				Status:    &resp,
				Message:   "state: " + string(current.State),
				Timestamp: time.Now(),
			})
		}
	}
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event sseEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
	flusher.Flush()
}
