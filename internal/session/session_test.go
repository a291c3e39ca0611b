package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wpagent/workbench/internal/errors"
	"github.com/wpagent/workbench/internal/protocol"
)

// agentStub is a scripted agent backend for session tests.
type agentStub struct {
	srv    *httptest.Server
	frames chan map[string]any

	mu   sync.Mutex
	conn *websocket.Conn
}

func newAgentStub(t *testing.T) *agentStub {
	t.Helper()
	s := &agentStub{frames: make(chan map[string]any, 16)}
	upgrader := websocket.Upgrader{}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = ws
		s.mu.Unlock()

		go func() {
			for {
				_, data, err := ws.ReadMessage()
				if err != nil {
					return
				}
				var frame map[string]any
				if json.Unmarshal(data, &frame) == nil {
					select {
					case s.frames <- frame:
					default:
					}
				}
			}
		}()
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *agentStub) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// push sends a frame from the agent to the client.
func (s *agentStub) push(t *testing.T, frame string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		t.Fatal("no client connected")
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("stub write: %v", err)
	}
}

// awaitFrame waits for an outbound frame of the given type.
func (s *agentStub) awaitFrame(t *testing.T, frameType string) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-s.frames:
			if f["type"] == frameType {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", frameType)
		}
	}
}

func newConnectedSession(t *testing.T, stub *agentStub) *Session {
	t.Helper()
	sess := NewSession(Config{ServerURL: stub.url()})
	sess.Start()
	t.Cleanup(sess.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Connect(ctx, "ws-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return sess
}

func TestSendUserMessageEmitsFrameAndOptimisticState(t *testing.T) {
	stub := newAgentStub(t)
	sess := newConnectedSession(t, stub)

	m, err := sess.SendUserMessage("build me a plugin")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	frame := stub.awaitFrame(t, "user_message")
	if frame["message"] != "build me a plugin" || frame["workspace_id"] != "ws-1" {
		t.Errorf("unexpected frame %v", frame)
	}
	if frame["message_id"] != m.ID {
		t.Errorf("expected frame to carry the local message id")
	}

	snap := sess.Snapshot()
	if !snap.IsProcessing {
		t.Error("expected processing after send")
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Content != "build me a plugin" {
		t.Error("expected optimistic local append")
	}
}

func TestInboundEventsReachTheReducer(t *testing.T) {
	stub := newAgentStub(t)
	sess := newConnectedSession(t, stub)

	stub.push(t, `{"type":"new_message","message_id":"a1","sender":"assistant","content":"Here you go."}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := sess.Snapshot().Messages; len(msgs) == 1 && msgs[0].ID == "a1" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the pushed message in the snapshot")
}

func TestExecuteToolTrackedAndCompletedByResponse(t *testing.T) {
	stub := newAgentStub(t)
	sess := newConnectedSession(t, stub)

	toolID, err := sess.ExecuteTool("create_plugin", map[string]any{"name": "demo"})
	if err != nil {
		t.Fatalf("execute tool: %v", err)
	}

	frame := stub.awaitFrame(t, "tool_name")
	if frame["tool_id"] != toolID {
		t.Errorf("expected dispatched tool id %s, got %v", toolID, frame["tool_id"])
	}

	stub.push(t, `{"type":"tool_response","tool_id":"`+toolID+`","result":"created"}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tc, ok := sess.Snapshot().ToolCalls[toolID]
		if ok && tc.Status == protocol.ToolCompleted && tc.Result == "created" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected tool call completed by its response")
}

func TestRateLimiterRejectsFloods(t *testing.T) {
	stub := newAgentStub(t)
	sess := newConnectedSession(t, stub)

	var limited bool
	for i := 0; i < intentBurst+2; i++ {
		if _, err := sess.SendUserMessage("spam"); err != nil {
			if !errors.IsCode(err, errors.CodeSessionRateLimited) {
				t.Fatalf("unexpected error %v", err)
			}
			limited = true
			break
		}
	}
	if !limited {
		t.Error("expected the flood limiter to reject rapid sends")
	}
}

func TestReconnectRequiresKnownWorkspace(t *testing.T) {
	sess := NewSession(Config{ServerURL: "ws://127.0.0.1:1/ws"})
	err := sess.Reconnect(context.Background())
	if !errors.IsCode(err, errors.CodeConnInvalidWorkspace) {
		t.Errorf("expected invalid workspace error before first connect, got %v", err)
	}
}
