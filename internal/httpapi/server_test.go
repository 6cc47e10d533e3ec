package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/lia/internal/config"
	"github.com/ent0n29/lia/internal/intent"
	"github.com/ent0n29/lia/internal/observability"
	"github.com/ent0n29/lia/internal/pipeline"
	"github.com/ent0n29/lia/internal/protocol"
	"github.com/ent0n29/lia/internal/session"
)

type fakeAssistants struct {
	mu       sync.Mutex
	requests map[string][]string
	released []string
}

func (f *fakeAssistants) Process(_ context.Context, sessionID, request string) (pipeline.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requests == nil {
		f.requests = make(map[string][]string)
	}
	f.requests[sessionID] = append(f.requests[sessionID], request)
	return pipeline.Response{Text: "echo: " + request, Intent: intent.Conversation}, nil
}

func (f *fakeAssistants) Release(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, sessionID)
	return nil
}

func (f *fakeAssistants) count(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests[sessionID])
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager, *fakeAssistants) {
	t.Helper()
	cfg := config.Config{SessionInactivityTimeout: 2 * time.Minute}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry(), "test_httpapi")
	assistants := &fakeAssistants{}
	srv := New(cfg, sessions, assistants, metrics, nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, sessions, assistants
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(v)
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func createSession(t *testing.T, baseURL string) string {
	t.Helper()
	res := postJSON(t, baseURL+"/v1/sessions", map[string]string{"user_id": "user-1"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	return sessionID
}

func TestCreateAndEndSession(t *testing.T) {
	ts, sessions, assistants := newTestServer(t)
	sessionID := createSession(t, ts.URL)

	endRes := postJSON(t, ts.URL+"/v1/sessions/"+sessionID+"/end", nil)
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}
	got, err := sessions.Get(sessionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != session.StatusEnded {
		t.Fatalf("status = %q, want %q", got.Status, session.StatusEnded)
	}
	if len(assistants.released) != 1 || assistants.released[0] != sessionID {
		t.Fatalf("released = %v, want [%s]", assistants.released, sessionID)
	}

	missing := postJSON(t, ts.URL+"/v1/sessions/nope/end", nil)
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("end missing status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}
}

func TestChatCreatesSessionWhenMissing(t *testing.T) {
	ts, sessions, assistants := newTestServer(t)

	res := postJSON(t, ts.URL+"/api/chat", map[string]string{"message": "hello"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var out chatResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode chat response: %v", err)
	}
	if out.Response != "echo: hello" || out.Intent != "conversation" {
		t.Fatalf("chat response = %+v", out)
	}
	if out.SessionID == "" {
		t.Fatalf("chat response missing session_id")
	}
	if _, err := sessions.Get(out.SessionID); err != nil {
		t.Fatalf("session %s not registered: %v", out.SessionID, err)
	}

	again := postJSON(t, ts.URL+"/api/chat", map[string]string{"message": "again", "session_id": out.SessionID})
	if again.StatusCode != http.StatusOK {
		t.Fatalf("second chat status = %d, want %d", again.StatusCode, http.StatusOK)
	}
	if n := assistants.count(out.SessionID); n != 2 {
		t.Fatalf("requests for session = %d, want 2", n)
	}
}

func TestChatRejectsBadInput(t *testing.T) {
	ts, _, _ := newTestServer(t)

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"empty message", map[string]string{"message": "  "}, http.StatusBadRequest},
		{"unknown session", map[string]string{"message": "hi", "session_id": "missing"}, http.StatusNotFound},
		{"oversized", map[string]string{"message": strings.Repeat("a", protocol.MaxUserMessageBytes+1)}, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := postJSON(t, ts.URL+"/api/chat", tc.body)
			if res.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tc.want)
			}
		})
	}
}

func TestSessionMessageAfterEndConflicts(t *testing.T) {
	ts, _, _ := newTestServer(t)
	sessionID := createSession(t, ts.URL)

	res := postJSON(t, ts.URL+"/v1/sessions/"+sessionID+"/messages", map[string]string{"text": "hi", "request_id": "r1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("message status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var msg protocol.AssistantMessage
	if err := json.NewDecoder(res.Body).Decode(&msg); err != nil {
		t.Fatalf("decode message response: %v", err)
	}
	if msg.Type != protocol.TypeAssistantMessage || msg.RequestID != "r1" || msg.Text != "echo: hi" {
		t.Fatalf("assistant message = %+v", msg)
	}

	postJSON(t, ts.URL+"/v1/sessions/"+sessionID+"/end", nil)
	res = postJSON(t, ts.URL+"/v1/sessions/"+sessionID+"/messages", map[string]string{"text": "hi"})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("message after end status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestSessionWebSocketRoundTrip(t *testing.T) {
	ts, sessions, _ := newTestServer(t)
	sessionID := createSession(t, ts.URL)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/ws?session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(protocol.UserMessage{Type: protocol.TypeUserMessage, SessionID: sessionID, RequestID: "r1", Text: "hello"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var reply protocol.AssistantMessage
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if reply.Type != protocol.TypeAssistantMessage || reply.Text != "echo: hello" || reply.RequestID != "r1" {
		t.Fatalf("reply = %+v", reply)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	var errEvent protocol.ErrorEvent
	if err := conn.ReadJSON(&errEvent); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if errEvent.Type != protocol.TypeErrorEvent || errEvent.Code != "invalid_client_message" {
		t.Fatalf("error event = %+v", errEvent)
	}

	if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: sessionID, Action: protocol.ActionEnd}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var ended protocol.SystemEvent
	if err := conn.ReadJSON(&ended); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ended.Code != "session_ended" {
		t.Fatalf("system event = %+v", ended)
	}
	got, _ := sessions.Get(sessionID)
	if got.Status != session.StatusEnded {
		t.Fatalf("status = %q, want %q", got.Status, session.StatusEnded)
	}
}

func TestSessionWebSocketRequiresKnownSession(t *testing.T) {
	ts, _, _ := newTestServer(t)

	res, err := http.Get(ts.URL + "/v1/sessions/ws?session_id=missing")
	if err != nil {
		t.Fatalf("GET ws error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestHealthAndPerfRoutes(t *testing.T) {
	ts, _, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/perf/latency"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}
