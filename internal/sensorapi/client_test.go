package sensorapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	monitoring "geotech-monitor/internal/monitoring/domain"
)

const sampleBody = `[
  {"type": "health", "value": {}},
  {"type": "til90ReadingsV1", "value": {
    "readTimestamp": "2026-08-01T11:00:00Z",
    "readings": [{"channel": 0, "tilt": 0.5}]
  }},
  {"type": "til90ReadingsV1", "value": {
    "readTimestamp": "2026-08-01T12:00:00Z",
    "readings": [
      {"channel": 0, "tilt": 1.25},
      {"channel": 1, "tilt": -0.75},
      {"channel": 2, "tilt": 0.1},
      {"channel": 9, "tilt": 99}
    ]
  }}
]`

func testNode() monitoring.Node {
	return monitoring.Node{ID: "142939", Instrument: monitoring.InstrumentTiltmeter, Name: "Node 142939"}
}

func TestClient_FetchLatestPicksNewestRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/nodes/142939" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		username, password, ok := r.BasicAuth()
		if !ok || username != "user" || password != "pass" {
			t.Errorf("missing basic auth")
		}
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "user", "pass")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	reading, err := client.FetchLatest(context.Background(), testNode())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	want := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if !reading.Timestamp.Equal(want) {
		t.Fatalf("expected newest record timestamp %s, got %s", want, reading.Timestamp)
	}
	if len(reading.Channels) != 3 {
		t.Fatalf("expected 3 labeled channels, got %+v", reading.Channels)
	}
	if x, ok := reading.Value("x"); !ok || x != 1.25 {
		t.Fatalf("channel 0 should map to x=1.25, got %v %v", x, ok)
	}
	if y, ok := reading.Value("y"); !ok || y != -0.75 {
		t.Fatalf("channel 1 should map to y=-0.75, got %v %v", y, ok)
	}
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", "", WithBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if _, err := client.FetchLatest(context.Background(), testNode()); err != nil {
		t.Fatalf("fetch should succeed on third attempt: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClient_ExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", "", WithBackoff(time.Millisecond), WithAttempts(3))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.FetchLatest(context.Background(), testNode())
	if err == nil {
		t.Fatal("expected error after retry budget")
	}
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClient_PermanentFailureDoesNotRetry(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", "", WithBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.FetchLatest(context.Background(), testNode())
	if err == nil {
		t.Fatal("expected error for unknown node")
	}
	if IsTransient(err) {
		t.Fatalf("404 must be permanent, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestClient_MalformedResponseIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", "", WithBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.FetchLatest(context.Background(), testNode())
	if err == nil || IsTransient(err) {
		t.Fatalf("malformed body must be a permanent error, got %v", err)
	}
}

func TestClient_NoUsableRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"type": "health", "value": {}}]`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.FetchLatest(context.Background(), testNode())
	if err == nil || IsTransient(err) {
		t.Fatalf("empty record set must be a permanent error, got %v", err)
	}
}
