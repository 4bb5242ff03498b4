package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/roomcast/internal/chat"
	"github.com/rickgao/roomcast/internal/hub"
	"github.com/rickgao/roomcast/internal/room"
	"github.com/rickgao/roomcast/internal/store"
	"github.com/rickgao/roomcast/internal/stream"
)

const testKey = "24336064"

type persistNow struct{ st store.Store }

func (p persistNow) Enqueue(r store.Record) bool {
	_, err := p.st.Append(context.Background(), r.Room, []store.Record{r})
	return err == nil
}

type testEnv struct {
	srv *httptest.Server
	hub *hub.Hub
	svc *chat.Service
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	resolver := room.NewResolver(room.Config{
		Keys:             map[string]string{testKey: "simplechat"},
		DefaultPartition: "public",
	})
	h := hub.New(hub.DefaultMonitorConfig(), nil, nil)
	st := store.NewMemoryStore(100)
	svc := chat.New(resolver, h, st, persistNow{st: st}, nil)

	cfg := Config{
		AllowOrigin: "*",
		Stream:      stream.Config{KeepaliveInterval: time.Hour, WriteTimeout: time.Second, BufferSize: 16},
	}
	srv := httptest.NewServer(New(cfg, svc, h, opts...).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, hub: h, svc: svc}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) getJSON(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

// sseEvent is one parsed event-stream frame.
type sseEvent struct {
	id, event, data string
}

type sseReader struct {
	r *bufio.Reader
}

func (s *sseReader) next(t *testing.T) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.event != "" || ev.data != "" {
				return ev
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			ev.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			ev.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data += strings.TrimPrefix(line, "data: ")
		}
	}
}

func (e *testEnv) subscribe(t *testing.T, roomKey, nickname string) (*sseReader, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		e.srv.URL+"/api/events?room="+roomKey+"&nickname="+nickname, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("subscribe failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		cancel()
		t.Fatalf("subscribe status = %d", resp.StatusCode)
	}
	stop := func() {
		cancel()
		resp.Body.Close()
	}
	t.Cleanup(stop)
	return &sseReader{r: bufio.NewReader(resp.Body)}, stop
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEvents_SubscribeAndReceive(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.subscribe(t, testKey, "alice")

	info := alice.next(t)
	if info.event != hub.EventInfo || !strings.Contains(info.data, `"type":"connected"`) {
		t.Fatalf("first event = %+v, want connected info", info)
	}
	if online := alice.next(t); online.event != hub.EventOnline || !strings.Contains(online.data, `"count":1`) {
		t.Fatalf("second event = %+v, want presence", online)
	}

	resp := env.postJSON(t, "/api/send", map[string]string{"room": testKey, "name": "bob", "message": "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d", resp.StatusCode)
	}
	var sent struct{ ID string }
	json.NewDecoder(resp.Body).Decode(&sent)

	msg := alice.next(t)
	if msg.event != hub.EventMessage || msg.id != sent.ID {
		t.Fatalf("message event = %+v, want id %s", msg, sent.ID)
	}
	var m chat.Message
	if err := json.Unmarshal([]byte(msg.data), &m); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if m.Name != "bob" || m.Message != "hello" || !strings.HasSuffix(m.Line, "] bob: hello") {
		t.Errorf("message = %+v", m)
	}
}

func TestEvents_DisconnectUpdatesPresence(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.subscribe(t, testKey, "alice")
	alice.next(t)
	alice.next(t)

	_, stopBob := env.subscribe(t, testKey, "bob")
	if ev := alice.next(t); !strings.Contains(ev.data, `"count":2`) {
		t.Fatalf("presence after bob joined = %+v", ev)
	}

	stopBob()
	if ev := alice.next(t); ev.event != hub.EventOnline || !strings.Contains(ev.data, `"count":1`) {
		t.Fatalf("presence after bob left = %+v", ev)
	}
}

func TestEvents_RejectsUnknownRoom(t *testing.T) {
	env := newTestEnv(t)

	var body errorResponse
	if status := env.getJSON(t, "/api/events?room=bogus&nickname=x", &body); status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", status)
	}
	if body.Error == "" {
		t.Error("missing error message")
	}
	if env.hub.Registry.Total() != 0 {
		t.Error("rejected subscribe mutated the registry")
	}
}

func TestSend_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing message", map[string]string{"room": testKey, "name": "bob"}, http.StatusBadRequest},
		{"bad room", map[string]string{"room": "nope", "name": "bob", "message": "hi"}, http.StatusForbidden},
		{"malformed json", "not an object", http.StatusBadRequest},
		{"default room", map[string]string{"name": "bob", "message": "hi"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := env.postJSON(t, "/api/send", tt.body); resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestOnlinePingLeave(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.subscribe(t, testKey, "alice")
	alice.next(t)

	var p hub.Presence
	env.getJSON(t, "/api/online?room="+testKey, &p)
	if p.Count != 1 || p.Users[0] != "alice" {
		t.Errorf("presence = %+v", p)
	}

	var ping memberResponse
	json.NewDecoder(env.postJSON(t, "/api/ping", memberRequest{Room: testKey, Nickname: "alice"}).Body).Decode(&ping)
	if ping.Count != 1 {
		t.Errorf("ping matched %d, want 1", ping.Count)
	}

	var leave memberResponse
	json.NewDecoder(env.postJSON(t, "/api/leave", memberRequest{Room: testKey, Nickname: "alice"}).Body).Decode(&leave)
	if leave.Count != 1 {
		t.Errorf("leave removed %d, want 1", leave.Count)
	}

	// The stream ends once the subscriber is removed.
	waitFor(t, func() bool { return env.hub.Registry.Total() == 0 })
	for {
		if _, err := alice.r.ReadString('\n'); err != nil {
			if !errors.Is(err, io.EOF) && !strings.Contains(err.Error(), "closed") {
				t.Errorf("unexpected read error: %v", err)
			}
			break
		}
	}
}

func TestLeaveAndPingAnonymous(t *testing.T) {
	env := newTestEnv(t)
	viewer, _ := env.subscribe(t, testKey, "")
	info := viewer.next(t)
	var connected struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(info.data), &connected); err != nil || connected.ID == "" {
		t.Fatalf("connected event %q carries no id: %v", info.data, err)
	}

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"leave without nickname", "/api/leave", memberRequest{Room: testKey}, http.StatusBadRequest},
		{"leave empty body", "/api/leave", nil, http.StatusBadRequest},
		{"ping without nickname", "/api/ping", memberRequest{Room: testKey}, http.StatusBadRequest},
		{"ping bad id", "/api/ping", memberRequest{Room: testKey, ID: "nope"}, http.StatusBadRequest},
		{"ping by id", "/api/ping", memberRequest{Room: testKey, ID: connected.ID}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.postJSON(t, tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}

	if got := env.hub.Registry.Total(); got != 1 {
		t.Errorf("registry has %d subscribers, want the anonymous viewer", got)
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	for _, text := range []string{"one", "two", "three"} {
		env.postJSON(t, "/api/send", map[string]string{"room": testKey, "name": "bob", "message": text})
	}

	var page chat.HistoryPage
	if status := env.getJSON(t, "/api/history?room="+testKey+"&limit=2", &page); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if page.Total != 3 || !page.HasMore || len(page.Messages) != 2 || page.Messages[1].Message != "three" {
		t.Errorf("page = %+v", page)
	}

	var since struct{ Messages []chat.Message }
	env.getJSON(t, "/api/history?room="+testKey+"&since=0", &since)
	if len(since.Messages) != 3 {
		t.Errorf("since returned %d messages, want 3", len(since.Messages))
	}

	if status := env.getJSON(t, "/api/history?room="+testKey+"&since=yesterday", nil); status != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", status)
	}
}

func TestStatusAndHealth(t *testing.T) {
	failing := errors.New("db down")
	env := newTestEnv(t, WithHealthCheck("database", func(context.Context) error { return failing }))

	var st chat.Status
	env.getJSON(t, "/api/status", &st)
	if st.Uptime == "" || st.Build.Version == "" {
		t.Errorf("status = %+v", st)
	}

	var health struct {
		Status     string
		Components map[string]any
	}
	if code := env.getJSON(t, "/health", &health); code != http.StatusServiceUnavailable {
		t.Errorf("health status code = %d, want 503", code)
	}
	if health.Status != "unhealthy" || health.Components["hub"] == nil {
		t.Errorf("health = %+v", health)
	}
}

func TestCORSAndMethods(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/send", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing Access-Control-Allow-Origin")
	}

	resp, err = http.Get(env.srv.URL + "/api/send")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/send status = %d, want 405", resp.StatusCode)
	}
}

func TestWebSocket(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/ws?room=" + testKey + "&nickname=carol"

	if _, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(env.srv.URL, "http")+"/api/ws?room=bogus", nil); err == nil {
		t.Fatal("expected dial to a rejected room to fail")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("rejected dial response = %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	type frame struct {
		ID   string          `json:"id"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	read := func() frame {
		var f frame
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("ReadJSON failed: %v", err)
		}
		return f
	}

	if f := read(); f.Type != hub.EventInfo {
		t.Fatalf("first frame type = %q, want info", f.Type)
	}
	if f := read(); f.Type != hub.EventOnline {
		t.Fatalf("second frame type = %q, want online", f.Type)
	}

	env.postJSON(t, "/api/send", map[string]string{"room": testKey, "name": "dave", "message": "yo"})
	f := read()
	var m chat.Message
	json.Unmarshal(f.Data, &m)
	if f.Type != hub.EventMessage || m.Message != "yo" {
		t.Errorf("message frame = %+v", f)
	}

	conn.Close()
	waitFor(t, func() bool { return env.hub.Registry.Total() == 0 })
}
