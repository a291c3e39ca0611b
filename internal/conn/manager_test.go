package conn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wpagent/workbench/internal/errors"
)

// wsServer is a minimal WebSocket backend for Manager tests. It
// records upgraded connections and their request paths.
type wsServer struct {
	t   *testing.T
	srv *httptest.Server

	// frames receives every message a client sends to the server.
	frames chan []byte

	mu    sync.Mutex
	conns []*websocket.Conn
	paths []string
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{t: t, frames: make(chan []byte, 16)}
	upgrader := websocket.Upgrader{}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, ws)
		s.paths = append(s.paths, r.URL.Path)
		s.mu.Unlock()

		// Service the read side so close handshakes complete.
		go func() {
			for {
				_, data, err := ws.ReadMessage()
				if err != nil {
					return
				}
				select {
				case s.frames <- data:
				default:
				}
			}
		}()
	}))
	t.Cleanup(s.srv.Close)
	return s
}

// url returns the ws:// endpoint of the test server.
func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *wsServer) lastConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

func (s *wsServer) lastPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.paths) == 0 {
		return ""
	}
	return s.paths[len(s.paths)-1]
}

// fastConfig returns a Config with timings short enough for tests.
func fastConfig(serverURL string) Config {
	return Config{
		ServerURL:            serverURL,
		ConnectTimeout:       2 * time.Second,
		PingInterval:         time.Hour,
		HealthCheckInterval:  time.Hour,
		ReconnectBaseDelay:   5 * time.Millisecond,
		ReconnectMaxDelay:    20 * time.Millisecond,
		MaxReconnectAttempts: 2,
	}
}

func TestConnectDeliversInboundFrames(t *testing.T) {
	srv := newWSServer(t)

	frames := make(chan string, 1)
	cfg := fastConfig(srv.url())
	cfg.OnFrame = func(data []byte) { frames <- string(data) }

	m := NewManager(cfg)
	defer m.Disconnect()

	if err := m.Connect(context.Background(), "ws-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !m.IsConnectedTo("ws-1") {
		t.Fatal("expected manager bound to ws-1")
	}
	if got := srv.lastPath(); got != "/ws-1" {
		t.Errorf("expected workspace id in path, got %s", got)
	}

	if err := srv.lastConn().WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	select {
	case f := <-frames:
		if f != `{"type":"pong"}` {
			t.Errorf("unexpected frame %s", f)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the inbound frame delivered")
	}
}

func TestConnectEmptyWorkspaceRejected(t *testing.T) {
	m := NewManager(fastConfig("ws://127.0.0.1:1/ws"))
	err := m.Connect(context.Background(), "")
	if !errors.IsCode(err, errors.CodeConnInvalidWorkspace) {
		t.Errorf("expected conn.invalid_workspace, got %v", err)
	}
}

func TestConnectIdempotentForSameWorkspace(t *testing.T) {
	srv := newWSServer(t)
	m := NewManager(fastConfig(srv.url()))
	defer m.Disconnect()

	if err := m.Connect(context.Background(), "ws-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.Connect(context.Background(), "ws-1"); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if srv.connCount() != 1 {
		t.Errorf("expected one transport for repeated connects, got %d", srv.connCount())
	}
}

func TestConnectSwitchesWorkspace(t *testing.T) {
	srv := newWSServer(t)
	m := NewManager(fastConfig(srv.url()))
	defer m.Disconnect()

	if err := m.Connect(context.Background(), "ws-a"); err != nil {
		t.Fatalf("connect ws-a: %v", err)
	}
	if err := m.Connect(context.Background(), "ws-b"); err != nil {
		t.Fatalf("connect ws-b: %v", err)
	}

	if !m.IsConnectedTo("ws-b") {
		t.Error("expected manager bound to ws-b")
	}
	if m.IsConnectedTo("ws-a") {
		t.Error("expected old workspace binding released")
	}
	if got := srv.lastPath(); got != "/ws-b" {
		t.Errorf("expected dial for ws-b, got %s", got)
	}
}

func TestConnectSupersededWhileDialing(t *testing.T) {
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})

	var mu sync.Mutex
	var upgraded int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws-a" {
			// Hold the handshake open so the first connect stays in
			// flight until it is superseded.
			<-release
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		upgraded++
		mu.Unlock()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := fastConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	cfg.ConnectTimeout = 200 * time.Millisecond
	m := NewManager(cfg)
	defer m.Disconnect()

	errA := make(chan error, 1)
	go func() { errA <- m.Connect(context.Background(), "ws-a") }()

	deadline := time.Now().Add(time.Second)
	for m.Status() != StatusConnecting {
		if time.Now().After(deadline) {
			t.Fatal("first connect never started")
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := m.Connect(context.Background(), "ws-b"); err != nil {
		t.Fatalf("connect ws-b: %v", err)
	}

	// The first connect must settle with an error, not hang or panic.
	select {
	case err := <-errA:
		if !errors.IsCode(err, errors.CodeConnClosed) {
			t.Errorf("expected the superseded connect to settle with conn.closed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected the superseded connect to settle")
	}

	if !m.IsConnectedTo("ws-b") {
		t.Error("expected manager bound to ws-b")
	}
	mu.Lock()
	got := upgraded
	mu.Unlock()
	if got != 1 {
		t.Errorf("expected exactly one live transport, got %d", got)
	}
}

func TestDisconnectDoesNotReconnect(t *testing.T) {
	srv := newWSServer(t)
	m := NewManager(fastConfig(srv.url()))

	if err := m.Connect(context.Background(), "ws-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	m.Disconnect()

	time.Sleep(100 * time.Millisecond)
	if srv.connCount() != 1 {
		t.Errorf("expected no redial after intentional disconnect, got %d connections", srv.connCount())
	}
	if m.Status() != StatusDisconnected {
		t.Errorf("expected disconnected status, got %s", m.Status())
	}
	if m.WorkspaceID() != "" {
		t.Error("expected workspace binding cleared")
	}
}

func TestAbnormalCloseTriggersReconnect(t *testing.T) {
	srv := newWSServer(t)
	m := NewManager(fastConfig(srv.url()))
	defer m.Disconnect()

	if err := m.Connect(context.Background(), "ws-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Drop the underlying TCP connection without a close frame.
	srv.lastConn().UnderlyingConn().Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.connCount() >= 2 && m.IsConnectedTo("ws-1") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected automatic reconnect, saw %d connections, status %s", srv.connCount(), m.Status())
}

func TestReconnectBudgetExhaustion(t *testing.T) {
	srv := newWSServer(t)

	failed := make(chan int, 1)
	cfg := fastConfig(srv.url())
	cfg.OnReconnectFailed = func(workspaceID string, attempts int) {
		if workspaceID != "ws-1" {
			t.Errorf("unexpected workspace in terminal callback: %s", workspaceID)
		}
		failed <- attempts
	}

	m := NewManager(cfg)
	if err := m.Connect(context.Background(), "ws-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Sever the live socket first; closing the test server alone does
	// not tear down hijacked WebSocket connections. Then take the
	// backend away entirely so every redial fails.
	srv.lastConn().UnderlyingConn().Close()
	srv.srv.Close()

	select {
	case attempts := <-failed:
		if attempts != cfg.MaxReconnectAttempts {
			t.Errorf("expected %d attempts, got %d", cfg.MaxReconnectAttempts, attempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected the terminal reconnect_failed callback")
	}

	if m.Status() != StatusError {
		t.Errorf("expected error status after exhaustion, got %s", m.Status())
	}
	if m.WorkspaceID() != "" {
		t.Error("expected binding dropped so no further retries happen")
	}

	// The callback fires exactly once; no second one may arrive.
	select {
	case <-failed:
		t.Error("terminal callback fired more than once")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSendWithoutConnection(t *testing.T) {
	m := NewManager(fastConfig("ws://127.0.0.1:1/ws"))
	if m.Send(map[string]string{"type": "ping"}) {
		t.Error("expected best-effort send to report failure when disconnected")
	}
}

func TestSendTrackedLifecycle(t *testing.T) {
	srv := newWSServer(t)
	m := NewManager(fastConfig(srv.url()))
	defer m.Disconnect()

	if err := m.Connect(context.Background(), "ws-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	opID, ok := m.SendTracked(map[string]string{"type": "ping", "operation_id": "op1"}, "op1", OpPing, time.Hour)
	if !ok || opID != "op1" {
		t.Fatalf("expected tracked send to succeed, got id=%s ok=%v", opID, ok)
	}
	if m.PendingOperations() != 1 {
		t.Errorf("expected 1 pending operation, got %d", m.PendingOperations())
	}

	if !m.CompleteOperation("op1") {
		t.Error("expected completion to find the operation")
	}
	if m.CompleteOperation("op1") {
		t.Error("expected duplicate completion to be a no-op")
	}
	if m.PendingOperations() != 0 {
		t.Errorf("expected empty pending table, got %d", m.PendingOperations())
	}
}

func TestKeepalivePingCarriesOperationID(t *testing.T) {
	srv := newWSServer(t)

	cfg := fastConfig(srv.url())
	cfg.PingInterval = 20 * time.Millisecond

	m := NewManager(cfg)
	defer m.Disconnect()

	if err := m.Connect(context.Background(), "ws-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	select {
	case data := <-srv.frames:
		if !strings.Contains(string(data), `"type":"ping"`) || !strings.Contains(string(data), "operation_id") {
			t.Errorf("unexpected ping frame %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a keepalive ping")
	}
}
