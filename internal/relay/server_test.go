package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"recording-ingress-service/internal/models"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(NewServer(hub, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	return hub, srv
}

func TestHandleSend_MissingFields(t *testing.T) {
	_, srv := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing externalId", `{"message":{"type":"transcript"}}`},
		{"missing message", `{"externalId":"session-a"}`},
		{"invalid json", `{`},
		{"empty body", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/send", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestHandleSend_SuccessWithoutSubscribers(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/send", "application/json",
		strings.NewReader(`{"externalId":"session-a","message":{"type":"transcript"}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with no subscribers listening, got %d", resp.StatusCode)
	}

	var body map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body["success"] {
		t.Errorf("expected success=true, got %v", body)
	}
}

func TestSubscribeAndReceive(t *testing.T) {
	hub, srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?externalId=session-a"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the server side to register the connection.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Count() != 1 {
		t.Fatalf("expected 1 registered connection, got %d", hub.Count())
	}

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	resp, err := http.Post(srv.URL+"/send", "application/json", strings.NewReader(
		`{"externalId":"session-a","message":{"type":"transcript","payload":{"text":"hello","speaker":"Alice","timestamp":"2024-01-01T00:00:00Z"}}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg models.RelayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "transcript" || msg.Payload.Text != "hello" || msg.Payload.Speaker != "Alice" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if !msg.Payload.Timestamp.Equal(ts) {
		t.Errorf("unexpected timestamp: %v", msg.Payload.Timestamp)
	}
}

func TestSubscriberRemovedOnClose(t *testing.T) {
	hub, srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?externalId=session-a"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for hub.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Count() != 0 {
		t.Errorf("expected connection removed after close, got %d", hub.Count())
	}
}
