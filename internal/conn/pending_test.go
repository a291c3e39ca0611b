package conn

import (
	"sync"
	"testing"
	"time"
)

func TestPendingCompleteBeforeTimeout(t *testing.T) {
	fired := make(chan string, 1)
	p := newPendingOps(func(opID string, kind OpKind) { fired <- opID })

	p.track("op1", OpTool, 50*time.Millisecond)
	if !p.complete("op1") {
		t.Fatal("expected complete to find the tracked operation")
	}
	if p.count() != 0 {
		t.Errorf("expected empty table, got %d", p.count())
	}

	select {
	case id := <-fired:
		t.Errorf("unexpected timeout for completed operation %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPendingTimeoutFiresForNonPing(t *testing.T) {
	fired := make(chan OpKind, 1)
	p := newPendingOps(func(opID string, kind OpKind) { fired <- kind })

	p.track("op1", OpTool, 10*time.Millisecond)

	select {
	case kind := <-fired:
		if kind != OpTool {
			t.Errorf("expected tool timeout, got %s", kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a timeout callback")
	}
	if p.count() != 0 {
		t.Errorf("expected expired operation removed, got %d", p.count())
	}
}

func TestPendingPingTimeoutSilent(t *testing.T) {
	var mu sync.Mutex
	var fired []string
	p := newPendingOps(func(opID string, kind OpKind) {
		mu.Lock()
		fired = append(fired, opID)
		mu.Unlock()
	})

	p.track("ping1", OpPing, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 0 {
		t.Errorf("expected ping timeout swallowed, got callbacks for %v", fired)
	}
	if p.count() != 0 {
		t.Errorf("expected ping removed from the table, got %d", p.count())
	}
}

func TestPendingCompleteUnknownIsNoOp(t *testing.T) {
	p := newPendingOps(nil)
	if p.complete("never-tracked") {
		t.Error("expected unknown id to report not found")
	}
}

func TestPendingClearCancelsWithoutReporting(t *testing.T) {
	fired := make(chan string, 2)
	p := newPendingOps(func(opID string, kind OpKind) { fired <- opID })

	p.track("op1", OpTool, 20*time.Millisecond)
	p.track("op2", OpGeneric, 20*time.Millisecond)
	p.clear()

	select {
	case id := <-fired:
		t.Errorf("unexpected timeout after clear: %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}
