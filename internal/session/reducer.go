package session

import (
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wpagent/workbench/internal/extract"
	"github.com/wpagent/workbench/internal/files"
	"github.com/wpagent/workbench/internal/protocol"
	"github.com/wpagent/workbench/internal/stream"
)

const (
	// dedupWindow is how far apart two messages with the same content
	// and sender may arrive and still count as the same message.
	dedupWindow = 5 * time.Second

	// suppressWindow is how far back a consolidated message reaches to
	// absorb streaming fragments of the same sender.
	suppressWindow = 10 * time.Second
)

// statusRank orders tool statuses so transitions only move forward.
var statusRank = map[protocol.ToolStatus]int{
	protocol.ToolPending:   0,
	protocol.ToolRunning:   1,
	protocol.ToolCompleted: 2,
	protocol.ToolFailed:    2,
}

// Reducer owns the canonical session state. Every mutation happens
// under its lock; readers get copies via Snapshot.
type Reducer struct {
	mu sync.Mutex

	workspaceID        string
	connectionStatus   string
	isProcessing       bool
	reconnectExhausted bool
	lastError          string

	messages  []Message
	toolCalls map[string]*ToolCall

	thinking *stream.ThinkingAggregator
	tracker  *stream.Tracker
	files    *files.Tracker

	// onFileContentNeeded fires when a file action arrives without
	// inline content and the body must be requested separately.
	onFileContentNeeded func(path string)

	// onChange fires after every applied mutation.
	onChange func()

	now func() time.Time
}

// NewReducer returns a reducer with empty state.
func NewReducer() *Reducer {
	r := &Reducer{
		toolCalls: make(map[string]*ToolCall),
		thinking:  stream.NewThinkingAggregator(),
		tracker:   stream.NewTracker(),
		files:     files.NewTracker(),
		now:       time.Now,
	}
	r.files.SetChangeCallback(func() { r.notify() })
	return r
}

// Files exposes the reducer's file tracker for persistence and
// preview building.
func (r *Reducer) Files() *files.Tracker { return r.files }

// SetFileContentRequestFunc registers the callback used to fetch file
// bodies the backend did not inline.
func (r *Reducer) SetFileContentRequestFunc(fn func(path string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFileContentNeeded = fn
}

// SetChangeCallback registers a function invoked after every state
// change. Called without the reducer lock held.
func (r *Reducer) SetChangeCallback(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

func (r *Reducer) notify() {
	r.mu.Lock()
	cb := r.onChange
	r.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// SetConnectionStatus records the transport state for snapshots. A
// move into "connected" clears the exhausted-reconnect flag.
func (r *Reducer) SetConnectionStatus(status string) {
	r.mu.Lock()
	r.connectionStatus = status
	if status == "connected" {
		r.reconnectExhausted = false
	}
	r.mu.Unlock()
	r.notify()
}

// SetOperationTimeout records that a tracked outbound operation never
// got its acknowledgement. Tool operations also mark the matching
// tool call failed.
func (r *Reducer) SetOperationTimeout(opID string, isTool bool) {
	r.mu.Lock()
	r.lastError = "operation " + opID + " timed out"
	if isTool {
		if tc, ok := r.toolCalls[opID]; ok && statusRank[tc.Status] < statusRank[protocol.ToolFailed] {
			tc.Status = protocol.ToolFailed
			tc.Error = "timed out waiting for a response"
			tc.EndedAt = r.now()
		}
	}
	r.mu.Unlock()
	r.notify()
}

// SetReconnectExhausted marks the connection as beyond its retry
// budget. Only an explicit reconnect clears it.
func (r *Reducer) SetReconnectExhausted() {
	r.mu.Lock()
	r.reconnectExhausted = true
	r.isProcessing = false
	r.mu.Unlock()
	r.notify()
}

// Apply folds one inbound event into the state. Events that carry no
// session meaning (pong, unrecognized types) are ignored here.
func (r *Reducer) Apply(ev protocol.Event) {
	r.mu.Lock()

	switch e := ev.(type) {
	case protocol.ConnectionEstablished:
		if e.WorkspaceID != "" {
			r.workspaceID = e.WorkspaceID
		}

	case protocol.ProcessingStatus:
		switch strings.ToLower(e.Status) {
		case "complete", "completed", "done", "idle":
			r.isProcessing = false
		case "processing", "started", "working":
			r.isProcessing = true
		}

	case protocol.ThinkingUpdate:
		r.thinking.Append(e.MessageID, e.Thinking)

	case protocol.TextChunk:
		r.tracker.Add(e.MessageID, e.Content)

	case protocol.NewMessage:
		r.ingestLocked(messageFromEvent(e, r.now()))
		for _, id := range e.ToolCallIDs {
			if _, ok := r.toolCalls[id]; !ok {
				r.toolCalls[id] = &ToolCall{
					ID:        id,
					MessageID: e.MessageID,
					Status:    protocol.ToolPending,
					StartedAt: r.now(),
				}
			}
		}

	case protocol.StreamComplete:
		r.finishStreamLocked(e.MessageID)
		r.isProcessing = false

	case protocol.ErrorEvent:
		msg := sanitizeError(e.Message)
		r.lastError = msg
		r.isProcessing = false
		r.tracker.Reset()
		// Errors join the conversation; lastError only mirrors the
		// most recent one for the status line.
		r.ingestLocked(Message{
			Sender:    protocol.SenderSystem,
			Content:   msg,
			Timestamp: r.now(),
		})

	case protocol.FileUpdate:
		content := e.Content
		r.files.Apply("update", e.Path, false, &content)

	case protocol.FileActionBroadcast:
		var content *string
		if e.HasContent {
			content = &e.Content
		}
		r.files.Apply(string(e.ActionType), e.Path, e.IsFolder, content)
		needFetch := !e.HasContent && !e.IsFolder &&
			(e.ActionType == protocol.FileActionCreate || e.ActionType == protocol.FileActionUpdate)
		if needFetch && r.onFileContentNeeded != nil {
			fn := r.onFileContentNeeded
			path := e.Path
			defer fn(path)
		}

	case protocol.ToolStatusUpdate:
		r.updateToolLocked(e.ToolID, e.Status, e.Result, e.Error)

	case protocol.ToolRequest:
		if _, ok := r.toolCalls[e.ToolID]; !ok {
			r.toolCalls[e.ToolID] = &ToolCall{
				ID:         e.ToolID,
				Name:       e.ToolName,
				Status:     protocol.ToolRunning,
				Parameters: e.Parameters,
				StartedAt:  r.now(),
			}
		}

	case protocol.ToolResponse:
		status := protocol.ToolCompleted
		if e.Error != "" {
			status = protocol.ToolFailed
		}
		r.updateToolLocked(e.ToolID, status, e.Result, e.Error)
	}

	r.mu.Unlock()
	r.notify()
}

// messageFromEvent maps a wire message, substituting arrival time for
// a missing timestamp and a generated id for a missing id.
func messageFromEvent(e protocol.NewMessage, now time.Time) Message {
	m := Message{
		ID:          e.MessageID,
		Sender:      e.Sender,
		Content:     e.Content,
		Thinking:    e.Thinking,
		Timestamp:   e.Timestamp,
		ToolCallIDs: e.ToolCallIDs,
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	return m
}

// ingestLocked appends a message unless it is a duplicate, then
// removes streaming fragments the new message supersedes. A complete
// assistant message also ends processing and the active stream.
func (r *Reducer) ingestLocked(m Message) {
	if r.isDuplicateLocked(m) {
		return
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Thinking == "" {
		m.Thinking = r.thinking.Take(m.ID)
	}

	r.suppressFragmentsLocked(m)
	r.messages = append(r.messages, m)

	if m.Sender == protocol.SenderAssistant {
		r.isProcessing = false
		// The stream this message finalizes is done; drop it rather
		// than materializing the same text twice.
		if s := r.tracker.Snapshot(); r.tracker.Active() &&
			(s.MessageID == m.ID || strings.Contains(m.Content, s.Content)) {
			r.tracker.Reset()
		}
		r.harvestFilesLocked(m.Content)
	}
}

// harvestFilesLocked pulls inline file payloads out of assistant prose
// and folds them into the file tree. Some backends embed generated
// files in the message body instead of broadcasting file actions.
// Path-only matches (tree listings) are skipped; without content they
// would shadow a later broadcast.
func (r *Reducer) harvestFilesLocked(prose string) {
	for _, f := range extract.Files(prose) {
		if f.Content == "" {
			continue
		}
		content := f.Content
		r.files.Apply("update", f.Path, false, &content)
	}
}

// isDuplicateLocked reports whether m matches an existing message by
// id, or by identical content and sender within the dedup window.
func (r *Reducer) isDuplicateLocked(m Message) bool {
	for i := len(r.messages) - 1; i >= 0; i-- {
		prev := r.messages[i]
		if m.ID != "" && prev.ID == m.ID {
			return true
		}
		if prev.Sender == m.Sender && prev.Content == m.Content {
			if absDuration(m.Timestamp.Sub(prev.Timestamp)) <= dedupWindow {
				return true
			}
		}
	}
	return false
}

// suppressFragmentsLocked removes recent same-sender messages whose
// content is a strict substring of the consolidated message m. Those
// entries were transient streaming fragments.
func (r *Reducer) suppressFragmentsLocked(m Message) {
	if m.Content == "" {
		return
	}
	kept := r.messages[:0]
	for _, prev := range r.messages {
		isFragment := prev.Sender == m.Sender &&
			prev.Content != "" &&
			prev.Content != m.Content &&
			strings.Contains(m.Content, prev.Content) &&
			m.Timestamp.Sub(prev.Timestamp) >= 0 &&
			m.Timestamp.Sub(prev.Timestamp) <= suppressWindow
		if isFragment {
			log.Printf("[session] absorbing streaming fragment %s into consolidated message", prev.ID)
			continue
		}
		kept = append(kept, prev)
	}
	r.messages = kept
}

// finishStreamLocked materializes the active stream into a permanent
// assistant message. No-op when nothing is streaming or the stream is
// empty.
func (r *Reducer) finishStreamLocked(messageID string) {
	s, ok := r.tracker.Finish()
	if !ok || s.Content == "" {
		return
	}
	id := s.MessageID
	if id == "" {
		id = messageID
	}
	r.ingestLocked(Message{
		ID:        id,
		Sender:    protocol.SenderAssistant,
		Content:   s.Content,
		Thinking:  r.thinking.Take(id),
		Timestamp: r.now(),
	})
}

// updateToolLocked applies a status transition by id. Unknown ids and
// backward transitions are ignored.
func (r *Reducer) updateToolLocked(id string, status protocol.ToolStatus, result, errMsg string) {
	tc, ok := r.toolCalls[id]
	if !ok {
		return
	}
	newRank, known := statusRank[status]
	if !known || newRank <= statusRank[tc.Status] {
		return
	}
	tc.Status = status
	if result != "" {
		tc.Result = result
	}
	if errMsg != "" {
		tc.Error = errMsg
	}
	if status == protocol.ToolCompleted || status == protocol.ToolFailed {
		tc.EndedAt = r.now()
	}
}

// AppendUserMessage records a locally sent user message. If an answer
// stream is active with accumulated content, that partial answer is
// first materialized so it is not lost to the interruption. Returns
// the stored message, whose id accompanies the outbound frame.
func (r *Reducer) AppendUserMessage(text string) Message {
	r.mu.Lock()

	if r.tracker.Active() {
		if s := r.tracker.Snapshot(); s.Content != "" {
			r.finishStreamLocked("")
		} else {
			r.tracker.Reset()
		}
	}

	m := Message{
		ID:        uuid.NewString(),
		Sender:    protocol.SenderUser,
		Content:   text,
		Timestamp: r.now(),
	}
	// A locally typed message is new by construction. Sending the same
	// text twice is a deliberate resend, so it skips the inbound dedup
	// path; the backend echoes still dedup against these on arrival.
	r.messages = append(r.messages, m)
	r.isProcessing = true
	r.lastError = ""

	r.mu.Unlock()
	r.notify()
	return m
}

// RegisterToolCall records a locally dispatched tool invocation.
func (r *Reducer) RegisterToolCall(id, name string, params map[string]any) {
	r.mu.Lock()
	r.toolCalls[id] = &ToolCall{
		ID:         id,
		Name:       name,
		Status:     protocol.ToolPending,
		Parameters: params,
		StartedAt:  r.now(),
	}
	r.mu.Unlock()
	r.notify()
}

// MergeHistory folds previously persisted messages into the session
// through the normal dedup path, then restores timestamp order.
func (r *Reducer) MergeHistory(history []Message) {
	r.mu.Lock()
	for _, m := range history {
		r.ingestLocked(m)
	}
	sort.SliceStable(r.messages, func(i, j int) bool {
		return r.messages[i].Timestamp.Before(r.messages[j].Timestamp)
	})
	r.mu.Unlock()
	r.notify()
}

// Clear resets the session to empty. The file tree, tool calls,
// buffers, and conversation all go; connection status stays.
func (r *Reducer) Clear() {
	r.mu.Lock()
	r.messages = nil
	r.toolCalls = make(map[string]*ToolCall)
	r.isProcessing = false
	r.lastError = ""
	r.thinking.Clear()
	r.tracker.Reset()
	r.files.Reset()
	r.mu.Unlock()
	r.notify()
}

// Thinking returns the accumulated thinking trace for a message id.
func (r *Reducer) Thinking(messageID string) string {
	return r.thinking.Get(messageID)
}

// Snapshot returns a copy of the current state.
func (r *Reducer) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := make([]Message, len(r.messages))
	copy(msgs, r.messages)

	tools := make(map[string]ToolCall, len(r.toolCalls))
	for id, tc := range r.toolCalls {
		tools[id] = *tc
	}

	s := r.tracker.Snapshot()
	view := StreamView{
		Active:    r.tracker.Active(),
		MessageID: s.MessageID,
		Content:   s.Content,
		Paused:    r.tracker.IsPaused(),
	}

	return State{
		WorkspaceID:        r.workspaceID,
		ConnectionStatus:   r.connectionStatus,
		IsProcessing:       r.isProcessing,
		Messages:           msgs,
		ToolCalls:          tools,
		Stream:             view,
		Files:              r.files.Entries(),
		LastError:          r.lastError,
		ReconnectExhausted: r.reconnectExhausted,
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// credentialRe spots secrets a backend error might echo back, such as
// bearer tokens or key=value credential pairs.
var credentialRe = regexp.MustCompile(`(?i)((?:api[_-]?key|secret|token|password|authorization|bearer)["']?\s*[:=]\s*)\S+|sk-[A-Za-z0-9_-]{8,}`)

// sanitizeError rewrites credential material out of a backend error
// before it is stored for display.
func sanitizeError(msg string) string {
	return credentialRe.ReplaceAllStringFunc(msg, func(m string) string {
		sub := credentialRe.FindStringSubmatch(m)
		if len(sub) > 1 && sub[1] != "" {
			return sub[1] + "[redacted]"
		}
		return "[redacted]"
	})
}
