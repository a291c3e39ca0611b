// Package stream accumulates incremental model output between frames:
// thinking traces keyed by message id, and the single in-progress
// answer stream for a workspace.
package stream

import (
	"log"
	"sync"
)

// maxThinkingBytes caps each per-message thinking buffer. When a chunk
// would push a buffer past the cap, the oldest text is discarded so the
// tail of the trace is always retained.
const maxThinkingBytes = 100 * 1024

// ThinkingAggregator collects incremental thinking-trace chunks keyed
// by message id. Buffers are independent; overflow in one never affects
// another.
type ThinkingAggregator struct {
	mu      sync.Mutex
	buffers map[string]*thinkingBuffer
}

type thinkingBuffer struct {
	data      []byte
	truncated bool
}

// NewThinkingAggregator returns an aggregator with no buffers.
func NewThinkingAggregator() *ThinkingAggregator {
	return &ThinkingAggregator{buffers: make(map[string]*thinkingBuffer)}
}

// Append adds a chunk to the buffer for messageID, creating the buffer
// on first use. If the buffer would exceed the cap, the oldest bytes
// are dropped; the first drop for a message is logged.
func (a *ThinkingAggregator) Append(messageID, chunk string) {
	if chunk == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	buf, ok := a.buffers[messageID]
	if !ok {
		buf = &thinkingBuffer{}
		a.buffers[messageID] = buf
	}

	buf.data = append(buf.data, chunk...)
	if len(buf.data) > maxThinkingBytes {
		if !buf.truncated {
			buf.truncated = true
			log.Printf("[stream] thinking buffer for message %s exceeded %d bytes, dropping oldest", messageID, maxThinkingBytes)
		}
		buf.data = buf.data[len(buf.data)-maxThinkingBytes:]
	}
}

// Get returns the accumulated trace for messageID, or "" if none.
func (a *ThinkingAggregator) Get(messageID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if buf, ok := a.buffers[messageID]; ok {
		return string(buf.data)
	}
	return ""
}

// Truncated reports whether the buffer for messageID has ever dropped
// text to stay under the cap.
func (a *ThinkingAggregator) Truncated(messageID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if buf, ok := a.buffers[messageID]; ok {
		return buf.truncated
	}
	return false
}

// Take returns the accumulated trace for messageID and removes the
// buffer. Used when a completed message absorbs its thinking trace.
func (a *ThinkingAggregator) Take(messageID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	buf, ok := a.buffers[messageID]
	if !ok {
		return ""
	}
	delete(a.buffers, messageID)
	return string(buf.data)
}

// Clear removes every buffer.
func (a *ThinkingAggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffers = make(map[string]*thinkingBuffer)
}

// Len reports how many message buffers currently exist.
func (a *ThinkingAggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}
