package stream

import (
	"strings"
	"sync"
	"time"
)

// stallThreshold is how long the answer stream may go without a chunk
// before it is reported as paused.
const stallThreshold = 3 * time.Second

// Snapshot is a point-in-time view of the active answer stream.
type Snapshot struct {
	// MessageID is the id the backend assigned to the in-progress
	// message, or "" if no chunk carried one yet.
	MessageID string

	// Content is the text accumulated so far.
	Content string

	// Chunks is how many chunks have arrived.
	Chunks int

	// StartedAt is when the first chunk arrived.
	StartedAt time.Time

	// LastChunkAt is when the most recent chunk arrived.
	LastChunkAt time.Time

	// WordsPerMinute is the observed generation rate. Zero until
	// enough time has passed to measure.
	WordsPerMinute float64
}

// Tracker accumulates the single in-progress answer stream for a
// workspace. There is at most one active stream at a time; a new
// stream implicitly replaces a finished one.
type Tracker struct {
	mu sync.Mutex

	active  bool
	id      string
	content strings.Builder
	chunks  int
	started time.Time
	last    time.Time

	// now is swapped out in tests.
	now func() time.Time
}

// NewTracker returns an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Add appends a chunk to the active stream, starting one if idle. A
// non-empty messageID on any chunk pins the stream's id; later chunks
// with an empty id still belong to the same stream.
func (t *Tracker) Add(messageID, chunk string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.active {
		t.active = true
		t.started = now
		t.chunks = 0
		t.content.Reset()
		t.id = ""
	}
	if messageID != "" {
		t.id = messageID
	}
	t.content.WriteString(chunk)
	t.chunks++
	t.last = now
}

// Active reports whether a stream is in progress.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// IsPaused reports whether the active stream has gone quiet: no chunk
// for longer than the stall threshold. An idle tracker is not paused.
func (t *Tracker) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return false
	}
	return t.now().Sub(t.last) > stallThreshold
}

// Snapshot returns the current stream state without ending it.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{
		MessageID:   t.id,
		Content:     t.content.String(),
		Chunks:      t.chunks,
		StartedAt:   t.started,
		LastChunkAt: t.last,
	}
	if elapsed := t.last.Sub(t.started); elapsed > 0 {
		words := len(strings.Fields(s.Content))
		s.WordsPerMinute = float64(words) / elapsed.Minutes()
	}
	return s
}

// Finish ends the active stream and returns its final state. The
// second return is false if no stream was active, which happens when a
// stream_complete arrives after the stream was already materialized.
func (t *Tracker) Finish() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return Snapshot{}, false
	}
	s := t.snapshotLocked()
	t.resetLocked()
	return s, true
}

// Reset discards any in-progress stream.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Tracker) resetLocked() {
	t.active = false
	t.id = ""
	t.content.Reset()
	t.chunks = 0
	t.started = time.Time{}
	t.last = time.Time{}
}
