// Package conn owns the persistent WebSocket connection to the agent backend.
// A Manager holds at most one live transport, bound to exactly one workspace
// id at a time. It handles the connect/disconnect lifecycle, keepalive pings,
// stale-liveness health checks, pending-operation timeouts, and automatic
// reconnection with capped exponential backoff.
//
// The Manager is an explicit instance owned by the session layer and passed
// by reference - never a process-wide singleton - so multiple sessions and
// tests run in isolation.
package conn

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wpagent/workbench/internal/errors"
)

// Status is the externally visible connection state.
// It is always rendered by the UI, so the user is never left uncertain.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Default timing values. All are overridable via Config.
const (
	defaultConnectTimeout       = 10 * time.Second
	defaultPingInterval         = 30 * time.Second
	defaultPingTimeout          = 10 * time.Second
	defaultHealthCheckInterval  = 45 * time.Second
	defaultStaleThreshold       = 60 * time.Second
	defaultReconnectBaseDelay   = 1 * time.Second
	defaultReconnectMaxDelay    = 30 * time.Second
	defaultMaxReconnectAttempts = 10

	// maxFrameSize caps inbound frame size. Matches the read limit the
	// backend enforces on its side.
	maxFrameSize = 512 * 1024
)

// Config holds Manager configuration. ServerURL is required; zero-valued
// timing fields fall back to the defaults above.
type Config struct {
	// ServerURL is the base WebSocket endpoint, e.g. "wss://host/ws".
	// The workspace id is appended as a path segment at connect time.
	ServerURL string

	// Token, when non-empty, is appended as a query parameter at connect
	// time. Token acquisition is the caller's responsibility.
	Token string

	ConnectTimeout      time.Duration
	PingInterval        time.Duration
	PingTimeout         time.Duration
	HealthCheckInterval time.Duration
	StaleThreshold      time.Duration

	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	// OnFrame receives every inbound frame. Called from the read loop;
	// implementations must not block for long.
	OnFrame func(data []byte)

	// OnStatus is called on every status transition.
	OnStatus func(status Status)

	// OnReconnectFailed is called exactly once when the reconnect budget
	// is exhausted. The Manager stops retrying; recovery requires an
	// explicit Connect from the caller.
	OnReconnectFailed func(workspaceID string, attempts int)

	// OnOperationTimeout is called when a tracked non-ping operation
	// expires without a correlated response.
	OnOperationTimeout func(opID string, kind OpKind)
}

// transport bundles one live WebSocket with its stop channel.
// Goroutines hold a *transport and compare it against the Manager's
// current one before acting, so a superseded connection's loops cannot
// touch a newer connection's state.
type transport struct {
	ws     *websocket.Conn
	stopCh chan struct{}

	// writeMu serializes writes; gorilla permits one concurrent writer.
	writeMu sync.Mutex
}

// connectAttempt is an in-flight Connect shared by concurrent callers.
// A second Connect for the same workspace id while one is in flight
// waits on done and reuses err instead of opening a second transport.
type connectAttempt struct {
	workspaceID string
	done        chan struct{}
	err         error
	settled     bool
}

// settleLocked records the attempt outcome and releases its waiters.
// An attempt can be settled by its owner or by a superseding Connect
// or Disconnect; only the first outcome sticks. Caller must hold the
// manager mutex.
func (a *connectAttempt) settleLocked(err error) {
	if a.settled {
		return
	}
	a.settled = true
	a.err = err
	close(a.done)
}

// Manager owns one transport connection per logical workspace id.
type Manager struct {
	config Config

	mu sync.Mutex

	// workspaceID is the id this Manager is currently bound to (or
	// reconnecting toward). Empty after an intentional disconnect.
	workspaceID string

	tr       *transport
	status   Status
	inflight *connectAttempt

	// attempts counts consecutive failed reconnects. Reset to zero on
	// every successful open.
	attempts int

	// lastInbound is the arrival time of the most recent frame or pong.
	lastInbound time.Time

	// reconnectPending marks a scheduled reconnect timer so abnormal
	// closes observed while waiting don't stack additional timers.
	reconnectPending bool

	// intentional marks a caller-initiated disconnect so the read loop
	// does not schedule a reconnect for the resulting close.
	intentional bool

	backoff *backoff.ExponentialBackOff
	pending *pendingOps
}

// NewManager creates a Manager with the given configuration.
// No connection is opened until Connect is called.
func NewManager(config Config) *Manager {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaultConnectTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaultPingInterval
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = defaultPingTimeout
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = defaultHealthCheckInterval
	}
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = defaultStaleThreshold
	}
	if config.ReconnectBaseDelay <= 0 {
		config.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if config.ReconnectMaxDelay <= 0 {
		config.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if config.MaxReconnectAttempts <= 0 {
		config.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.ReconnectBaseDelay
	b.MaxInterval = config.ReconnectMaxDelay
	b.Multiplier = 2
	// The attempt cap is enforced by counting, not by elapsed time.
	b.MaxElapsedTime = 0

	m := &Manager{
		config:  config,
		status:  StatusDisconnected,
		backoff: b,
	}
	m.pending = newPendingOps(func(opID string, kind OpKind) {
		if config.OnOperationTimeout != nil {
			config.OnOperationTimeout(opID, kind)
		}
	})
	return m
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// WorkspaceID returns the workspace id the Manager is bound to.
// Empty when disconnected by intent.
func (m *Manager) WorkspaceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workspaceID
}

// IsConnectedTo reports whether the transport is open AND bound to
// exactly the given workspace id. This guards against stale checks
// during an in-flight switch to a different workspace.
func (m *Manager) IsConnectedTo(workspaceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tr != nil && m.status == StatusConnected && m.workspaceID == workspaceID
}

// PendingOperations returns the number of tracked in-flight operations.
func (m *Manager) PendingOperations() int {
	return m.pending.count()
}

// Connect opens (or reuses) the connection for the given workspace id.
// It returns once the transport reaches the open state, or with an error
// on invalid id, handshake failure, or timeout.
//
// Calling Connect twice concurrently for the same id joins the same
// in-flight attempt rather than opening two transports. Calling it for
// a different id tears down the prior connection first. Connect-time
// failures are not retried automatically; the caller decides.
func (m *Manager) Connect(ctx context.Context, workspaceID string) error {
	if workspaceID == "" {
		return errors.InvalidWorkspace(workspaceID)
	}

	m.mu.Lock()

	// Already open and bound to this id: nothing to do.
	if m.tr != nil && m.status == StatusConnected && m.workspaceID == workspaceID {
		m.mu.Unlock()
		return nil
	}

	// Join an in-flight attempt for the same id.
	if m.inflight != nil && m.inflight.workspaceID == workspaceID {
		attempt := m.inflight
		m.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return errors.Wrap(errors.CodeConnTimeout, "connect canceled", ctx.Err())
		}
	}

	// Switching workspaces: tear down whatever exists for the old id.
	// An in-flight attempt for another id is superseded; its waiters
	// settle with an error rather than leaking a second live socket.
	if m.inflight != nil {
		superseded := m.inflight
		m.inflight = nil
		superseded.settleLocked(errors.New(errors.CodeConnClosed,
			"connect superseded by connect to workspace "+workspaceID))
	}
	m.closeTransportLocked(websocket.CloseNormalClosure)

	attempt := &connectAttempt{
		workspaceID: workspaceID,
		done:        make(chan struct{}),
	}
	m.inflight = attempt
	m.workspaceID = workspaceID
	m.intentional = false
	m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()

	err := m.dial(ctx, workspaceID, attempt)

	m.mu.Lock()
	if m.inflight == attempt {
		m.inflight = nil
	}
	// A superseding Connect or Disconnect may have settled the attempt
	// already; in that case its outcome wins.
	attempt.settleLocked(err)
	err = attempt.err
	m.mu.Unlock()
	return err
}

// dial performs one handshake for the attempt and installs the transport
// on success. Returns the settle error for the attempt.
func (m *Manager) dial(ctx context.Context, workspaceID string, attempt *connectAttempt) error {
	endpoint, err := m.endpointURL(workspaceID)
	if err != nil {
		m.fail(attempt)
		return errors.Wrap(errors.CodeConnInvalidWorkspace, "bad endpoint", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		m.fail(attempt)
		if dialCtx.Err() != nil {
			return errors.ConnectTimeout(workspaceID)
		}
		return errors.DialFailed(endpoint, err)
	}

	tr := &transport{
		ws:     ws,
		stopCh: make(chan struct{}),
	}

	m.mu.Lock()
	// The attempt may have been superseded while dialing (Connect to a
	// different id, or Disconnect). Close the fresh socket instead of
	// installing it - at most one live transport per Manager.
	if m.inflight != attempt {
		err := attempt.err
		m.mu.Unlock()
		ws.Close()
		if err != nil {
			return err
		}
		return errors.New(errors.CodeConnClosed, "connect superseded")
	}

	ws.SetReadLimit(maxFrameSize)
	m.tr = tr
	m.attempts = 0
	m.backoff.Reset()
	m.lastInbound = time.Now()
	m.setStatusLocked(StatusConnected)
	m.mu.Unlock()

	go m.readLoop(tr)
	go m.keepaliveLoop(tr)
	return nil
}

// fail records a failed connect attempt's status without touching the
// workspace binding, so a later Reconnect still knows its target.
func (m *Manager) fail(attempt *connectAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight == attempt {
		m.setStatusLocked(StatusError)
	}
}

// Disconnect closes the transport cleanly, cancels the keepalive and
// health timers, clears pending operations, and resets the workspace
// binding. A clean close never triggers reconnection.
func (m *Manager) Disconnect() {
	m.disconnect(true)
}

// disconnect implements Disconnect. resetIdentity=false preserves the
// target workspace id, used internally while cycling the transport
// during a reconnect.
func (m *Manager) disconnect(resetIdentity bool) {
	m.mu.Lock()
	m.intentional = true
	if resetIdentity {
		m.workspaceID = ""
	}
	if m.inflight != nil {
		superseded := m.inflight
		m.inflight = nil
		superseded.settleLocked(errors.New(errors.CodeConnClosed, "disconnected"))
	}
	m.closeTransportLocked(websocket.CloseNormalClosure)
	m.setStatusLocked(StatusDisconnected)
	m.mu.Unlock()

	m.pending.clear()
}

// Send marshals payload to JSON and writes it to the transport.
// Best-effort: returns false (and opportunistically schedules a
// reconnect) if the transport is not open. Never queues.
func (m *Manager) Send(payload any) bool {
	m.mu.Lock()
	tr := m.tr
	open := tr != nil && m.status == StatusConnected
	m.mu.Unlock()

	if !open {
		m.maybeScheduleReconnect()
		return false
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("conn: failed to marshal outbound frame: %v", err)
		return false
	}

	tr.writeMu.Lock()
	tr.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err = tr.ws.WriteMessage(websocket.TextMessage, data)
	tr.writeMu.Unlock()

	if err != nil {
		log.Printf("conn: write error: %v", err)
		return false
	}
	return true
}

// SendTracked sends a payload and registers a pending operation that
// auto-times-out. If opID is empty, a fresh id is generated. Returns the
// operation id and whether the send succeeded; on send failure nothing
// is tracked.
func (m *Manager) SendTracked(payload any, opID string, kind OpKind, timeout time.Duration) (string, bool) {
	if opID == "" {
		opID = uuid.NewString()
	}
	if timeout <= 0 {
		timeout = m.config.PingTimeout
	}

	m.pending.track(opID, kind, timeout)
	if !m.Send(payload) {
		m.pending.complete(opID)
		return opID, false
	}
	return opID, true
}

// CompleteOperation resolves a tracked operation when its correlated
// response arrives. Unknown ids are tolerated as no-ops (duplicate or
// late responses).
func (m *Manager) CompleteOperation(opID string) bool {
	return m.pending.complete(opID)
}

// readLoop reads frames until the transport fails or is superseded.
// Frame delivery order is arrival order; there is no reordering buffer.
func (m *Manager) readLoop(tr *transport) {
	for {
		_, data, err := tr.ws.ReadMessage()
		if err != nil {
			m.handleClose(tr, err)
			return
		}

		m.mu.Lock()
		if m.tr != tr {
			// Superseded while reading; drop the tail.
			m.mu.Unlock()
			return
		}
		m.lastInbound = time.Now()
		onFrame := m.config.OnFrame
		m.mu.Unlock()

		if onFrame != nil {
			onFrame(data)
		}
	}
}

// handleClose reacts to a read failure: clean closes and intentional
// disconnects end quietly, everything else schedules a reconnect.
func (m *Manager) handleClose(tr *transport, err error) {
	m.mu.Lock()
	if m.tr != tr {
		m.mu.Unlock()
		return
	}
	m.closeTransportLocked(0)

	clean := m.intentional ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	if clean {
		m.setStatusLocked(StatusDisconnected)
		m.mu.Unlock()
		return
	}

	log.Printf("conn: connection lost: %v", err)
	m.setStatusLocked(StatusError)
	m.mu.Unlock()

	m.maybeScheduleReconnect()
}

// keepaliveLoop owns the two liveness timers for one transport:
// a keepalive ping on a fixed interval, and a slower health check that
// inspects time-since-last-inbound. Both stop with the transport.
// Timer ownership lives here, not in any UI lifecycle, so connection
// liveness is independent of what is currently rendered.
func (m *Manager) keepaliveLoop(tr *transport) {
	ping := time.NewTicker(m.config.PingInterval)
	health := time.NewTicker(m.config.HealthCheckInterval)
	defer ping.Stop()
	defer health.Stop()

	for {
		select {
		case <-tr.stopCh:
			return

		case <-ping.C:
			m.sendPing(tr)

		case <-health.C:
			m.healthCheck(tr)
		}
	}
}

// sendPing issues a tracked protocol-level ping. A timed-out ping is
// silently dropped by the pending table; liveness failures are caught
// by the health check instead.
func (m *Manager) sendPing(tr *transport) {
	m.mu.Lock()
	current := m.tr == tr && m.status == StatusConnected
	m.mu.Unlock()
	if !current {
		return
	}

	opID := uuid.NewString()
	frame := map[string]string{"type": "ping", "operation_id": opID}
	m.SendTracked(frame, opID, OpPing, m.config.PingTimeout)
}

// healthCheck probes a connection whose inbound side has gone quiet.
// Transports do not always surface half-open failures promptly, so if
// the link is stale beyond the threshold we ping proactively, and if
// the transport is no longer usable we force a reconnect rather than
// waiting for a close event that may never come.
func (m *Manager) healthCheck(tr *transport) {
	m.mu.Lock()
	if m.tr != tr {
		m.mu.Unlock()
		return
	}
	stale := time.Since(m.lastInbound) > m.config.StaleThreshold
	open := m.status == StatusConnected
	m.mu.Unlock()

	if !stale {
		return
	}

	if !open {
		m.maybeScheduleReconnect()
		return
	}

	log.Printf("conn: no inbound traffic for %s, probing", m.config.StaleThreshold)
	m.sendPing(tr)

	// A stale link whose write side also fails will error out in the
	// read loop; a stale link that is silently half-open is forced
	// down here so the reconnect path can take over.
	if time.Since(m.lastInboundTime()) > 2*m.config.StaleThreshold {
		m.mu.Lock()
		if m.tr == tr {
			m.closeTransportLocked(0)
			m.setStatusLocked(StatusError)
			m.mu.Unlock()
			m.maybeScheduleReconnect()
			return
		}
		m.mu.Unlock()
	}
}

func (m *Manager) lastInboundTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastInbound
}

// maybeScheduleReconnect schedules a reconnect attempt with exponential
// backoff and jitter, unless one is already pending, the disconnect was
// intentional, or the attempt budget is exhausted. Exhausting the budget
// emits a single terminal reconnect_failed callback and stops; further
// recovery requires an explicit Connect.
func (m *Manager) maybeScheduleReconnect() {
	m.mu.Lock()
	if m.intentional || m.workspaceID == "" || m.reconnectPending || m.inflight != nil {
		m.mu.Unlock()
		return
	}

	if m.attempts >= m.config.MaxReconnectAttempts {
		workspaceID := m.workspaceID
		attempts := m.attempts
		m.setStatusLocked(StatusError)
		onFailed := m.config.OnReconnectFailed
		// Drop the binding so stray close events cannot restart the
		// cycle; the terminal state requires caller intervention.
		m.workspaceID = ""
		m.mu.Unlock()

		log.Printf("conn: reconnect budget exhausted for workspace %s", workspaceID)
		if onFailed != nil {
			onFailed(workspaceID, attempts)
		}
		return
	}

	m.attempts++
	m.reconnectPending = true
	attempt := m.attempts
	workspaceID := m.workspaceID
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = m.config.ReconnectMaxDelay
	}
	m.setStatusLocked(StatusConnecting)
	m.mu.Unlock()

	log.Printf("conn: reconnect attempt %d for workspace %s in %s", attempt, workspaceID, delay)
	time.AfterFunc(delay, func() {
		m.reconnectNow(workspaceID)
	})
}

// reconnectNow performs one scheduled reconnect attempt. Unlike a
// caller-initiated Connect, a failed attempt feeds back into the
// backoff scheduler instead of settling with an error.
func (m *Manager) reconnectNow(workspaceID string) {
	m.mu.Lock()
	m.reconnectPending = false
	if m.intentional || m.workspaceID != workspaceID {
		// Disconnected or retargeted while waiting.
		m.mu.Unlock()
		return
	}
	attempt := &connectAttempt{
		workspaceID: workspaceID,
		done:        make(chan struct{}),
	}
	m.inflight = attempt
	m.mu.Unlock()

	err := m.dial(context.Background(), workspaceID, attempt)

	m.mu.Lock()
	if m.inflight == attempt {
		m.inflight = nil
	}
	attempt.settleLocked(err)
	m.mu.Unlock()

	if err != nil {
		m.maybeScheduleReconnect()
	}
}

// closeTransportLocked tears down the current transport, if any.
// closeCode > 0 sends a close frame with that code first, marking the
// close as clean for the peer. Caller must hold m.mu.
func (m *Manager) closeTransportLocked(closeCode int) {
	tr := m.tr
	if tr == nil {
		return
	}
	m.tr = nil

	close(tr.stopCh)
	if closeCode > 0 {
		tr.writeMu.Lock()
		tr.ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
		tr.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeCode, ""))
		tr.writeMu.Unlock()
	}
	tr.ws.Close()
}

// setStatusLocked updates status and fires the callback on change.
// Caller must hold m.mu; the callback is invoked without the lock.
func (m *Manager) setStatusLocked(status Status) {
	if m.status == status {
		return
	}
	m.status = status
	onStatus := m.config.OnStatus
	if onStatus != nil {
		go onStatus(status)
	}
}

// endpointURL builds the workspace-addressed WebSocket URL, appending
// the bearer token as a query parameter when configured.
func (m *Manager) endpointURL(workspaceID string) (string, error) {
	u, err := url.Parse(m.config.ServerURL)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + url.PathEscape(workspaceID)
	if m.config.Token != "" {
		q := u.Query()
		q.Set("token", m.config.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
