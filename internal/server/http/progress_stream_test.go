package httpserver

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/helixir/pubmed-harvester/internal/pipeline"
)

type parsedSSEEvent struct {
	eventType string
	data      string
}

func parseSSEEvents(t *testing.T, body string) []parsedSSEEvent {
	t.Helper()
	var events []parsedSSEEvent
	var current parsedSSEEvent

	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.eventType != "" {
				events = append(events, current)
			}
			current = parsedSSEEvent{}
		}
	}
	return events
}

func TestStreamStatus_TerminalRun(t *testing.T) {
	status := &scriptedStatus{reports: []pipeline.RunReport{{
		RunID:    "run-1",
		State:    pipeline.StateDone,
		Inserted: 45,
		Failed:   5,
	}}}
	srv := newTestServer(healthy, status)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/status/stream", nil))

	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected Content-Type text/event-stream, got %q", ct)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected Cache-Control no-cache, got %q", cc)
	}
	if xab := rr.Header().Get("X-Accel-Buffering"); xab != "no" {
		t.Errorf("expected X-Accel-Buffering no, got %q", xab)
	}

	events := parseSSEEvents(t, rr.Body.String())
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 SSE event, got %d", len(events))
	}
	if events[0].eventType != "completed" {
		t.Errorf("expected event type completed, got %q", events[0].eventType)
	}

	var evt sseEvent
	if err := json.Unmarshal([]byte(events[0].data), &evt); err != nil {
		t.Fatalf("failed to parse SSE data JSON: %v", err)
	}
	if evt.Status == nil {
		t.Fatal("expected status to be set")
	}
	if evt.Status.Inserted != 45 || evt.Status.Failed != 5 {
		t.Errorf("unexpected counters: inserted=%d failed=%d", evt.Status.Inserted, evt.Status.Failed)
	}
}

func TestStreamStatus_ProgressUntilDone(t *testing.T) {
	status := &scriptedStatus{reports: []pipeline.RunReport{
		{RunID: "run-1", State: pipeline.StateSearching},
		{RunID: "run-1", State: pipeline.StatePaging, TotalPages: 2, PagesFetched: 1},
		{RunID: "run-1", State: pipeline.StateDone, TotalPages: 2, PagesFetched: 2},
	}}
	srv := newTestServer(healthy, status, WithStreamInterval(5*time.Millisecond))

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/status/stream", nil))

	events := parseSSEEvents(t, rr.Body.String())
	var types []string
	for _, e := range events {
		types = append(types, e.eventType)
	}
	want := []string{"stream_started", "progress_update", "completed"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("expected events %v, got %v", want, types)
	}

	var last sseEvent
	if err := json.Unmarshal([]byte(events[2].data), &last); err != nil {
		t.Fatalf("failed to parse SSE data JSON: %v", err)
	}
	if last.Status.Progress != 1 {
		t.Errorf("expected progress 1, got %v", last.Status.Progress)
	}
}

func TestStreamStatus_NoRun(t *testing.T) {
	rr := serveHTTP(newTestServer(healthy, nil), httptest.NewRequest(http.MethodGet, "/status/stream", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
