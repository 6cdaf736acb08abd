package presence

import (
	"sort"
	"sync"
)

// Notifier receives the full online set after every Mark call.
type Notifier interface {
	PresenceChanged(users []string)
}

// Mirror copies presence changes to an external system. It is called
// outside the tracker lock, in the order the changes were made.
type Mirror interface {
	Online(username string, users []string)
	Offline(username string, users []string)
}

// Tracker is the set of currently connected usernames.
// FUNCTIONAL DISCOVERY: Marks are idempotent, and every Mark call notifies,
// even when the set did not change. A second tab for the same user still
// needs a fresh userUpdate.
type Tracker struct {
	mu       sync.RWMutex
	online   map[string]struct{}
	notifier Notifier
	mirror   Mirror
}

// NewTracker creates an empty tracker. notifier and mirror may be nil.
func NewTracker(notifier Notifier, mirror Mirror) *Tracker {
	return &Tracker{
		online:   make(map[string]struct{}),
		notifier: notifier,
		mirror:   mirror,
	}
}

// SetNotifier replaces the notifier. Used during wiring when the notifier is
// built after the tracker.
func (t *Tracker) SetNotifier(n Notifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifier = n
}

// MarkOnline adds username and reports whether the set changed.
func (t *Tracker) MarkOnline(username string) bool {
	t.mu.Lock()
	_, present := t.online[username]
	t.online[username] = struct{}{}
	users, notifier := t.sortedLocked(), t.notifier
	t.mu.Unlock()

	if t.mirror != nil && !present {
		t.mirror.Online(username, users)
	}
	if notifier != nil {
		notifier.PresenceChanged(users)
	}
	return !present
}

// MarkOffline removes username and reports whether the set changed.
func (t *Tracker) MarkOffline(username string) bool {
	t.mu.Lock()
	_, present := t.online[username]
	delete(t.online, username)
	users, notifier := t.sortedLocked(), t.notifier
	t.mu.Unlock()

	if t.mirror != nil && present {
		t.mirror.Offline(username, users)
	}
	if notifier != nil {
		notifier.PresenceChanged(users)
	}
	return present
}

func (t *Tracker) IsOnline(username string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[username]
	return ok
}

// ListOnline returns the online usernames sorted.
func (t *Tracker) ListOnline() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sortedLocked()
}

func (t *Tracker) sortedLocked() []string {
	users := make([]string, 0, len(t.online))
	for u := range t.online {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}
