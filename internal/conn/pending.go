package conn

import (
	"sync"
	"time"
)

// OpKind classifies a tracked outbound operation. Ping timeouts are
// diagnostic-only and never surfaced; all other kinds emit a timeout
// callback when their deadline passes without a correlated response.
type OpKind string

const (
	OpPing      OpKind = "ping"
	OpTool      OpKind = "tool"
	OpFileWrite OpKind = "file_write"
	OpGeneric   OpKind = "generic"
)

// pendingOp tracks one outbound request awaiting a correlated response.
type pendingOp struct {
	id      string
	kind    OpKind
	started time.Time
	timer   *time.Timer
}

// pendingOps is the table of in-flight tracked operations.
// Every entry either completes (removed on response) or times out
// (removed by its timer); nothing stays tracked indefinitely.
type pendingOps struct {
	mu sync.Mutex

	ops map[string]*pendingOp

	// onTimeout is called outside the lock when a non-ping operation
	// expires. Ping expirations are dropped silently.
	onTimeout func(opID string, kind OpKind)
}

func newPendingOps(onTimeout func(opID string, kind OpKind)) *pendingOps {
	return &pendingOps{
		ops:       make(map[string]*pendingOp),
		onTimeout: onTimeout,
	}
}

// track registers an operation with a timeout. If an operation with the
// same id is already tracked, its timer is replaced.
func (p *pendingOps) track(opID string, kind OpKind, timeout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.ops[opID]; ok {
		prev.timer.Stop()
	}

	op := &pendingOp{
		id:      opID,
		kind:    kind,
		started: time.Now(),
	}
	op.timer = time.AfterFunc(timeout, func() {
		p.expire(opID)
	})
	p.ops[opID] = op
}

// complete removes a tracked operation after its response arrived.
// Returns false if the operation was not tracked (already completed,
// timed out, or never tracked) - callers treat that as a no-op.
func (p *pendingOps) complete(opID string) bool {
	p.mu.Lock()
	op, ok := p.ops[opID]
	if ok {
		op.timer.Stop()
		delete(p.ops, opID)
	}
	p.mu.Unlock()
	return ok
}

// expire removes a timed-out operation and reports it.
// Ping timeouts are swallowed: they are a liveness probe detail, and
// surfacing them produced noisy false alarms on slow links.
func (p *pendingOps) expire(opID string) {
	p.mu.Lock()
	op, ok := p.ops[opID]
	if ok {
		delete(p.ops, opID)
	}
	onTimeout := p.onTimeout
	p.mu.Unlock()

	if !ok || op.kind == OpPing {
		return
	}
	if onTimeout != nil {
		onTimeout(opID, op.kind)
	}
}

// clear cancels and removes all tracked operations without reporting
// timeouts. Used when the connection is torn down.
func (p *pendingOps) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, op := range p.ops {
		op.timer.Stop()
		delete(p.ops, id)
	}
}

// count returns the number of tracked operations.
func (p *pendingOps) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ops)
}
