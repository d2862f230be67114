package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"chieftain/pkg/election"
	"chieftain/pkg/transport/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, apiKey string) (*Server, *election.Elector) {
	t.Helper()

	cfg := election.DefaultConfig()
	cfg.Channel = "api-test"
	cfg.HeartbeatInterval = 40 * time.Millisecond
	cfg.ElectionTimeout = 150 * time.Millisecond

	elector := election.New(memory.NewBus(), cfg)
	if err := elector.Start(); err != nil {
		t.Fatalf("failed to start elector: %v", err)
	}
	t.Cleanup(func() { elector.Stop() })

	// Alone on the bus, the node wins its own election.
	deadline := time.Now().Add(2 * time.Second)
	for !elector.IsChief() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !elector.IsChief() {
		t.Fatal("elector never became chief")
	}

	return NewServer(Config{Port: "0", APIKey: apiKey, Elector: elector}), elector
}

func TestStatusEndpoint(t *testing.T) {
	server, elector := newTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if body["id"] != elector.ID() {
		t.Errorf("expected id %q, got %v", elector.ID(), body["id"])
	}
	if body["is_chief"] != true {
		t.Errorf("expected is_chief true, got %v", body["is_chief"])
	}
	if body["state"] != "chief" {
		t.Errorf("expected state chief, got %v", body["state"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, "")

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestNodeEndpoint(t *testing.T) {
	server, _ := newTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/v1/node", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if body["cpu_cores"] == nil {
		t.Error("expected cpu_cores in response")
	}
}

func TestBroadcastEndpoint_RequiresKey(t *testing.T) {
	server, _ := newTestServer(t, "secret")

	req := httptest.NewRequest("POST", "/api/v1/broadcast",
		strings.NewReader(`{"payload":{"msg":"hello"}}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}

	req2 := httptest.NewRequest("POST", "/api/v1/broadcast",
		strings.NewReader(`{"payload":{"msg":"hello"}}`))
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("X-API-Key", "secret")
	w2 := httptest.NewRecorder()
	server.router.ServeHTTP(w2, req2)

	if w2.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with key, got %d", w2.Code)
	}
}

func TestBroadcastEndpoint_RejectsBadBody(t *testing.T) {
	server, _ := newTestServer(t, "")

	req := httptest.NewRequest("POST", "/api/v1/broadcast", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestBroadcastEndpoint_ConflictWhenStopped(t *testing.T) {
	server, elector := newTestServer(t, "")
	elector.Stop()

	req := httptest.NewRequest("POST", "/api/v1/broadcast",
		strings.NewReader(`{"payload":{"msg":"hello"}}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}
