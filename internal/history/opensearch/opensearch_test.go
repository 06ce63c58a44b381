package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/everyd/internal/history"
	"github.com/loykin/everyd/internal/runner"
)

func testEvent() history.Event {
	now := time.Now().UTC()
	three := 3
	return history.Event{
		Type:       history.EventRun,
		OccurredAt: now,
		Record: runner.Record{
			Seq:        9,
			PID:        12345,
			StartedAt:  now.Add(-time.Second),
			FinishedAt: now,
			Duration:   time.Second,
			Outcome:    runner.OutcomeNonZeroExit,
			ExitCode:   &three,
			Error:      "exit status 3",
		},
	}
}

func TestOpenSearchSink_Send(t *testing.T) {
	var receivedBody []byte
	var receivedURL string
	var receivedMethod string

	// Create test server to mock OpenSearch
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		receivedBody = body

		// Mock successful response
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"test","_index":"everyd-runs","result":"created"}`))
	}))
	defer server.Close()

	// Create sink with test server URL
	sink := New(server.URL, "everyd-runs")

	ctx := context.Background()
	if err := sink.Send(ctx, testEvent()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Verify HTTP method
	if receivedMethod != "POST" {
		t.Errorf("Expected POST method, got: %s", receivedMethod)
	}

	// Verify URL path
	expectedPath := "/everyd-runs/_doc"
	if receivedURL != expectedPath {
		t.Errorf("Expected URL path %s, got: %s", expectedPath, receivedURL)
	}

	// Verify request body contains expected data
	var receivedEvent map[string]interface{}
	if err := json.Unmarshal(receivedBody, &receivedEvent); err != nil {
		t.Fatalf("Failed to parse received JSON: %v", err)
	}

	// Check event type
	if receivedEvent["type"] != string(history.EventRun) {
		t.Errorf("Expected type %s, got: %v", history.EventRun, receivedEvent["type"])
	}

	// Check record data
	record, ok := receivedEvent["record"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected record in event, got: %v", receivedEvent)
	}

	if record["outcome"] != "nonzero_exit" {
		t.Errorf("Expected outcome nonzero_exit, got: %v", record["outcome"])
	}

	if record["seq"] != float64(9) {
		t.Errorf("Expected seq 9, got: %v", record["seq"])
	}

	if record["exit_code"] != float64(3) {
		t.Errorf("Expected exit_code 3, got: %v", record["exit_code"])
	}
}

func TestOpenSearchSink_SendError(t *testing.T) {
	// Create test server that returns error
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	// Create sink with test server URL
	sink := New(server.URL, "everyd-runs")

	// Send event should return error
	ctx := context.Background()
	err := sink.Send(ctx, testEvent())
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	if !strings.Contains(err.Error(), "opensearch sink status 400") {
		t.Errorf("Expected status error message, got: %v", err)
	}
}

func TestOpenSearchSink_URLConstruction(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		index   string
	}{
		{
			name:    "Basic URL",
			baseURL: "http://localhost:9200",
			index:   "logs",
		},
		{
			name:    "URL with trailing slash",
			baseURL: "http://localhost:9200/",
			index:   "events",
		},
		{
			name:    "HTTPS URL",
			baseURL: "https://opensearch.example.com",
			index:   "everyd-runs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var receivedURL string

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				receivedURL = r.URL.String()
				w.WriteHeader(http.StatusCreated)
			}))
			defer server.Close()

			// Route the request at the test server, checking only path construction
			sink := New(tt.baseURL, tt.index)
			sink.baseURL = server.URL

			_ = sink.Send(context.Background(), testEvent())

			expectedPath := "/" + tt.index + "/_doc"
			if receivedURL != expectedPath {
				t.Errorf("Expected URL path %s, got: %s", expectedPath, receivedURL)
			}
		})
	}
}
