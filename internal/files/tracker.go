// Package files mirrors the workspace file tree as reported by
// file_action_broadcast frames. Actions land in a transient state
// (creating, updating, deleting) and settle into their final state
// after a short delay, so consumers see in-progress activity without
// the tree flickering on rapid bursts.
package files

import (
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// defaultSettleDelay is how long a transient status is displayed
// before the entry settles.
const defaultSettleDelay = 1500 * time.Millisecond

// Status describes where a file is in its action lifecycle.
type Status string

const (
	StatusCreating Status = "creating"
	StatusCreated  Status = "created"
	StatusUpdating Status = "updating"
	StatusUpdated  Status = "updated"
	StatusDeleting Status = "deleting"
)

// Entry is one file or folder in the mirrored tree.
type Entry struct {
	// Path is the normalized workspace-relative path.
	Path string

	// IsFolder marks directory entries.
	IsFolder bool

	// Status is the entry's current lifecycle state.
	Status Status

	// Content is the file body if the broadcast carried one. Folders
	// and content-less broadcasts leave it nil.
	Content *string

	// UpdatedAt is when the most recent action touched this entry.
	UpdatedAt time.Time
}

// Notification records one applied file action, newest last.
type Notification struct {
	Path     string
	Action   string
	IsFolder bool
	At       time.Time
}

// maxNotifications bounds the activity log.
const maxNotifications = 200

// Tracker applies file actions to an in-memory tree.
type Tracker struct {
	mu            sync.Mutex
	entries       map[string]*Entry
	timers        map[string]*time.Timer
	notifications []Notification
	settleDelay   time.Duration

	// onChange, when set, fires when a settle timer changes an entry
	// after the fact. Immediate changes are visible to the caller of
	// Apply already. Called without the lock held.
	onChange func()

	now func() time.Time
}

// NewTracker returns an empty tracker using the default settle delay.
func NewTracker() *Tracker {
	return &Tracker{
		entries:     make(map[string]*Entry),
		timers:      make(map[string]*time.Timer),
		settleDelay: defaultSettleDelay,
		now:         time.Now,
	}
}

// SetSettleDelay overrides the transient-to-settled delay. Only
// affects actions applied after the call.
func (t *Tracker) SetSettleDelay(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settleDelay = d
}

// SetChangeCallback registers a function invoked when a delayed
// settle changes an entry.
func (t *Tracker) SetChangeCallback(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// normalizePath cleans a wire path to its canonical map key: forward
// slashes, no leading slash, no trailing slash.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.Trim(p, "/")
}

// Apply records one file action. Create and update place the entry in
// a transient status that settles after the delay; delete marks the
// entry deleting and removes it when the delay elapses. Deleting a
// path the tracker has never seen is a no-op. content is nil when the
// broadcast omitted the file body.
func (t *Tracker) Apply(action string, rawPath string, isFolder bool, content *string) {
	key := normalizePath(rawPath)
	if key == "" {
		return
	}

	t.mu.Lock()
	now := t.now()

	switch action {
	case "create":
		t.upsertLocked(key, isFolder, content, StatusCreating, now)
	case "update":
		if _, ok := t.entries[key]; !ok {
			// An update for a file created before we connected.
			t.upsertLocked(key, isFolder, content, StatusCreating, now)
		} else {
			t.upsertLocked(key, isFolder, content, StatusUpdating, now)
		}
	case "delete":
		entry, ok := t.entries[key]
		if !ok {
			t.mu.Unlock()
			return
		}
		entry.Status = StatusDeleting
		entry.UpdatedAt = now
		t.scheduleLocked(key, func() {
			delete(t.entries, key)
		})
	default:
		t.mu.Unlock()
		return
	}

	t.notifications = append(t.notifications, Notification{
		Path:     key,
		Action:   action,
		IsFolder: isFolder,
		At:       now,
	})
	if len(t.notifications) > maxNotifications {
		t.notifications = t.notifications[len(t.notifications)-maxNotifications:]
	}
	t.mu.Unlock()
}

func (t *Tracker) upsertLocked(key string, isFolder bool, content *string, status Status, now time.Time) {
	entry, ok := t.entries[key]
	if !ok {
		entry = &Entry{Path: key}
		t.entries[key] = entry
	}
	entry.IsFolder = isFolder
	entry.Status = status
	entry.UpdatedAt = now
	if content != nil {
		entry.Content = content
	}

	settled := StatusCreated
	if status == StatusUpdating {
		settled = StatusUpdated
	}
	t.scheduleLocked(key, func() {
		if e, ok := t.entries[key]; ok && e.Status == status {
			e.Status = settled
		}
	})
}

// scheduleLocked arms the settle timer for key, replacing any pending
// one so only the latest action settles.
func (t *Tracker) scheduleLocked(key string, fn func()) {
	if old, ok := t.timers[key]; ok {
		old.Stop()
	}
	t.timers[key] = time.AfterFunc(t.settleDelay, func() {
		t.mu.Lock()
		delete(t.timers, key)
		fn()
		cb := t.onChange
		t.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
}

// Get returns a copy of the entry at rawPath, if present.
func (t *Tracker) Get(rawPath string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[normalizePath(rawPath)]; ok {
		return *entry, true
	}
	return Entry{}, false
}

// SetContent stores a fetched file body for an existing entry. Used
// when the broadcast omitted content and it was requested separately.
func (t *Tracker) SetContent(rawPath, content string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[normalizePath(rawPath)]
	if !ok {
		return false
	}
	entry.Content = &content
	return true
}

// Entries returns copies of every entry, sorted by path.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Children returns the entries directly under a folder path, sorted by
// path. An empty prefix lists the tree root.
func (t *Tracker) Children(prefix string) []Entry {
	dir := normalizePath(prefix)

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	for key, e := range t.entries {
		var rest string
		if dir == "" {
			rest = key
		} else if strings.HasPrefix(key, dir+"/") {
			rest = key[len(dir)+1:]
		} else {
			continue
		}
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Notifications returns the recorded activity log, oldest first.
func (t *Tracker) Notifications() []Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Notification(nil), t.notifications...)
}

// Reset drops all entries, pending timers, and notifications.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, timer := range t.timers {
		timer.Stop()
	}
	t.timers = make(map[string]*time.Timer)
	t.entries = make(map[string]*Entry)
	t.notifications = nil
}
