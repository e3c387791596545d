package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmreiter/foreman/internal/engine"
	"github.com/dmreiter/foreman/internal/model"
)

type sseFrame struct {
	event string
	data  string
}

// readSSEFrames parses event/data pairs from body until a frame with the
// given event name arrives (inclusive) or the stream ends.
func readSSEFrames(t *testing.T, body io.Reader, until string) []sseFrame {
	t.Helper()
	scanner := bufio.NewScanner(body)
	var frames []sseFrame
	var cur sseFrame
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.event == "" {
				continue
			}
			frames = append(frames, cur)
			if cur.event == until {
				return frames
			}
			cur = sseFrame{}
		}
	}
	return frames
}

func TestStreamEventsNotFound(t *testing.T) {
	env := newTestServer(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/commands/nonexistent/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamEventsLifecycle(t *testing.T) {
	env := newTestServerWith(t, engine.Options{
		MaxQueueSize: 4,
		NumWorkers:   1,
		RemovalTime:  time.Hour,
	}, nil)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	ack := submitCommand(t, ts, `{"type":"step"}`)
	env.awaitStarted(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/v1/commands/"+ack.CommandID+"/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	close(env.release)

	frames := readSSEFrames(t, resp.Body, "done")
	if len(frames) != 5 {
		t.Fatalf("got %d frames, want 5: %+v", len(frames), frames)
	}

	// Snapshot first, then the live updates in mutation order.
	var st statusEventData
	if err := json.Unmarshal([]byte(frames[0].data), &st); err != nil {
		t.Fatalf("decode snapshot frame: %v", err)
	}
	if frames[0].event != "status" || st.Status != model.StatusInProgress {
		t.Errorf("frame[0] = %+v, want in_progress status snapshot", frames[0])
	}

	var pg progressEventData
	if frames[1].event != "progress" {
		t.Fatalf("frame[1] = %+v, want progress", frames[1])
	}
	if err := json.Unmarshal([]byte(frames[1].data), &pg); err != nil {
		t.Fatalf("decode progress frame: %v", err)
	}
	if pg.Progress != 42 {
		t.Errorf("progress = %d, want 42", pg.Progress)
	}

	if err := json.Unmarshal([]byte(frames[2].data), &st); err != nil {
		t.Fatalf("decode status frame: %v", err)
	}
	if frames[2].event != "status" || st.Status != model.StatusCompleted {
		t.Errorf("frame[2] = %+v, want completed status", frames[2])
	}

	var res resultEventData
	if frames[3].event != "result" {
		t.Fatalf("frame[3] = %+v, want result", frames[3])
	}
	if err := json.Unmarshal([]byte(frames[3].data), &res); err != nil {
		t.Fatalf("decode result frame: %v", err)
	}
	if res.Code != model.ResultOK || res.Message != "stepped" {
		t.Errorf("result = %+v, want (ok, stepped)", res)
	}

	if frames[4].event != "done" {
		t.Errorf("frame[4] = %+v, want done", frames[4])
	}
}

func TestStreamEventsFinishedCommand(t *testing.T) {
	env := newTestServer(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	ack := submitCommand(t, ts, `{"type":"add","params":{"a":1,"b":1}}`)
	awaitCommandStatus(t, ts, ack.CommandID, model.StatusCompleted)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/v1/commands/"+ack.CommandID+"/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	// A finished command yields its final state snapshot and an immediate done.
	frames := readSSEFrames(t, resp.Body, "done")
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3: %+v", len(frames), frames)
	}
	var st statusEventData
	if err := json.Unmarshal([]byte(frames[0].data), &st); err != nil {
		t.Fatalf("decode status frame: %v", err)
	}
	if frames[0].event != "status" || st.Status != model.StatusCompleted {
		t.Errorf("frame[0] = %+v, want completed snapshot", frames[0])
	}
	var res resultEventData
	if frames[1].event != "result" {
		t.Fatalf("frame[1] = %+v, want result", frames[1])
	}
	if err := json.Unmarshal([]byte(frames[1].data), &res); err != nil {
		t.Fatalf("decode result frame: %v", err)
	}
	if res.Message != "2" {
		t.Errorf("result message = %q, want 2", res.Message)
	}
	if frames[2].event != "done" {
		t.Errorf("frame[2] = %+v, want done", frames[2])
	}
}

func TestStreamEventsFailureCarriesException(t *testing.T) {
	env := newTestServer(t)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	ack := submitCommand(t, ts, `{"type":"fail"}`)
	awaitCommandStatus(t, ts, ack.CommandID, model.StatusFailed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/v1/commands/"+ack.CommandID+"/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	frames := readSSEFrames(t, resp.Body, "done")
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4: %+v", len(frames), frames)
	}
	if frames[2].event != "exception" {
		t.Fatalf("frame[2] = %+v, want exception", frames[2])
	}
	var exc exceptionEventData
	if err := json.Unmarshal([]byte(frames[2].data), &exc); err != nil {
		t.Fatalf("decode exception frame: %v", err)
	}
	if exc.Error != "boom" {
		t.Errorf("exception error = %q, want boom", exc.Error)
	}
}
