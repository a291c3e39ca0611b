package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wpagent/workbench/internal/conn"
	"github.com/wpagent/workbench/internal/dispatch"
	"github.com/wpagent/workbench/internal/errors"
	"github.com/wpagent/workbench/internal/protocol"
)

const (
	// toolTimeout bounds how long a dispatched tool may stay pending
	// before it times out.
	toolTimeout = 30 * time.Second

	// intentInterval and intentBurst shape the outbound rate limit.
	// Rapid repeated sends beyond the burst are rejected locally
	// instead of flooding the agent.
	intentInterval = 300 * time.Millisecond
	intentBurst    = 5
)

// Config holds what a Session needs to reach a backend.
type Config struct {
	// ServerURL is the WebSocket endpoint, e.g. "wss://host/ws".
	ServerURL string

	// Token authenticates the connection. Optional.
	Token string
}

// Session ties the connection manager, event dispatch, and the state
// reducer together and exposes the outbound intent surface. One
// Session serves one workspace at a time.
type Session struct {
	manager *conn.Manager
	bus     *dispatch.Bus
	reducer *Reducer
	limiter *rate.Limiter

	events    <-chan protocol.Event
	cancelAll dispatch.Unsubscribe

	mu          sync.Mutex
	workspaceID string
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewSession wires a session for the given backend. Call Start to
// begin processing events and Connect to bind a workspace.
func NewSession(cfg Config) *Session {
	s := &Session{
		bus:     dispatch.NewBus(),
		reducer: NewReducer(),
		limiter: rate.NewLimiter(rate.Every(intentInterval), intentBurst),
	}

	s.manager = conn.NewManager(conn.Config{
		ServerURL: cfg.ServerURL,
		Token:     cfg.Token,
		OnFrame:   s.bus.Dispatch,
		OnStatus: func(status conn.Status) {
			s.reducer.SetConnectionStatus(string(status))
		},
		OnReconnectFailed: func(workspaceID string, attempts int) {
			log.Printf("[session] reconnect budget exhausted for workspace %s after %d attempts", workspaceID, attempts)
			s.reducer.SetReconnectExhausted()
		},
		OnOperationTimeout: func(opID string, kind conn.OpKind) {
			s.reducer.SetOperationTimeout(opID, kind == conn.OpTool)
		},
	})

	s.reducer.SetFileContentRequestFunc(func(path string) {
		s.manager.Send(protocol.NewFileContentRequestFrame(s.WorkspaceID(), path))
	})

	return s
}

// Reducer exposes the session's state reducer.
func (s *Session) Reducer() *Reducer { return s.reducer }

// Bus exposes the event bus for additional observers.
func (s *Session) Bus() *dispatch.Bus { return s.bus }

// WorkspaceID returns the workspace this session targets.
func (s *Session) WorkspaceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspaceID
}

// Snapshot returns the current canonical state.
func (s *Session) Snapshot() State { return s.reducer.Snapshot() }

// Start begins consuming events. Safe to call once per session.
func (s *Session) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.events, s.cancelAll = s.bus.SubscribeAll()
	s.mu.Unlock()

	go s.loop()
}

// Stop ends event processing and tears down the connection.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	cancel := s.cancelAll
	done := s.doneCh
	s.mu.Unlock()

	cancel()
	<-done
	s.manager.Disconnect()
}

func (s *Session) loop() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			s.handle(ev)
		}
	}
}

// handle settles pending operations before the reducer sees the
// event, so a tool response both completes its tracked send and
// updates tool state.
func (s *Session) handle(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.Pong:
		s.manager.CompleteOperation(e.OperationID)
		return
	case protocol.ToolResponse:
		s.manager.CompleteOperation(e.ToolID)
	}
	s.reducer.Apply(ev)
}

// Connect binds the session to a workspace, replacing any previous
// binding.
func (s *Session) Connect(ctx context.Context, workspaceID string) error {
	if err := s.manager.Connect(ctx, workspaceID); err != nil {
		return err
	}
	s.mu.Lock()
	s.workspaceID = workspaceID
	s.mu.Unlock()
	return nil
}

// SendUserMessage appends the message locally, marks the session
// processing, and sends it to the agent. The send is best-effort: a
// currently broken transport does not fail the call, the message is
// already part of local state and delivery is confirmed by events.
func (s *Session) SendUserMessage(text string) (Message, error) {
	if text == "" {
		return Message{}, errors.Internal("empty message", nil)
	}
	if !s.limiter.Allow() {
		return Message{}, errors.RateLimited("message sends")
	}

	m := s.reducer.AppendUserMessage(text)
	frame := protocol.NewUserMessageFrame(s.WorkspaceID(), m.ID, text)
	if !s.manager.Send(frame) {
		log.Printf("[session] user message %s queued locally, transport unavailable", m.ID)
	}
	return m, nil
}

// ExecuteTool dispatches a named tool with parameters and returns the
// correlation id. The dispatch is tracked; a missing response times
// out and surfaces in the snapshot.
func (s *Session) ExecuteTool(name string, params map[string]any) (string, error) {
	if name == "" {
		return "", errors.Internal("empty tool name", nil)
	}
	if !s.limiter.Allow() {
		return "", errors.RateLimited("tool dispatches")
	}

	toolID := uuid.NewString()
	s.reducer.RegisterToolCall(toolID, name, params)

	frame := protocol.NewToolFrame(toolID, name, params)
	if _, ok := s.manager.SendTracked(frame, toolID, conn.OpTool, toolTimeout); !ok {
		return toolID, errors.NotConnected()
	}
	return toolID, nil
}

// QueryAgent asks the agent to re-evaluate the current workspace
// state, typically after a reconnect.
func (s *Session) QueryAgent() bool {
	return s.manager.Send(protocol.NewQueryAgentFrame(s.WorkspaceID()))
}

// Reconnect re-dials the current workspace. Used after the automatic
// reconnect budget is exhausted, which requires this explicit call.
func (s *Session) Reconnect(ctx context.Context) error {
	workspaceID := s.WorkspaceID()
	if workspaceID == "" {
		return errors.InvalidWorkspace("")
	}
	return s.manager.Connect(ctx, workspaceID)
}

// ClearSession wipes the conversation, tool calls, buffers, and file
// tree. The connection stays up.
func (s *Session) ClearSession() {
	s.reducer.Clear()
}
