package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"osprey-eyes/mindseye/internal/dispatch"
	"osprey-eyes/mindseye/internal/httpclient"
	"osprey-eyes/mindseye/internal/tracker"
)

func TestStatusHandler(t *testing.T) {
	engine := tracker.NewEngine(nil, nil, nil, nil, nil, nil, tracker.Config{}, nil)
	set := dispatch.NewSet(httpclient.New(httpclient.Options{}), "http://127.0.0.1:1", dispatch.Options{}, nil)

	handler := StatusHandler(engine, set, time.Now().Add(-time.Minute))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	var resp struct {
		Uptime     string         `json:"uptime"`
		QueueDepth map[string]int `json:"queueDepth"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Uptime == "" {
		t.Error("Expected uptime in response")
	}
	for _, category := range []string{
		dispatch.CategoryNewAccount,
		dispatch.CategoryCallsignChange,
		dispatch.CategoryAircraftChange,
		dispatch.CategoryBotMention,
	} {
		if _, ok := resp.QueueDepth[category]; !ok {
			t.Errorf("Expected queue depth for %s", category)
		}
	}
}
