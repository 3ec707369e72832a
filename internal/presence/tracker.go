package presence

import (
	"sync"
	"time"
)

// Tracker is the process-wide registry of live connection handles per user.
// A user is online iff at least one handle is connected. Connect/disconnect
// for the same handle may arrive out of order; each operation carries a
// monotonic per-handle sequence number and only the highest sequence wins,
// so the set converges regardless of arrival order.
type Tracker struct {
	mu    sync.RWMutex
	users map[string]map[string]handleState
}

type handleState struct {
	seq        uint64
	connected  bool
	sawConnect bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{users: make(map[string]map[string]handleState)}
}

// Connect registers a handle for the user. It returns true when this brought
// the user from offline to online; adding a second device returns false.
func (t *Tracker) Connect(userID, handle string, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	handles, ok := t.users[userID]
	if !ok {
		handles = make(map[string]handleState)
		t.users[userID] = handles
	}

	wasOnline := anyConnected(handles)
	if state, ok := handles[handle]; ok && state.seq >= seq {
		if !state.connected {
			// The disconnect for this handle already won. Both of its
			// operations have now been observed, so the tombstone has done
			// its job and can go.
			delete(handles, handle)
			if len(handles) == 0 {
				delete(t.users, userID)
			}
		}
		return false
	}
	handles[handle] = handleState{seq: seq, connected: true, sawConnect: true}
	return !wasOnline
}

// Disconnect removes a handle. It returns true plus the offline timestamp when
// this emptied the user's connection set. Disconnecting an unknown or
// already-disconnected handle is a no-op. A disconnect that arrives before its
// matching connect leaves a tombstone so the late connect cannot resurrect the
// handle.
func (t *Tracker) Disconnect(userID, handle string, seq uint64) (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	handles, ok := t.users[userID]
	if !ok {
		handles = make(map[string]handleState)
		t.users[userID] = handles
	}

	wasOnline := anyConnected(handles)
	state, known := handles[handle]
	if known && state.seq >= seq {
		return false, time.Time{}
	}
	handles[handle] = handleState{seq: seq, sawConnect: known && state.sawConnect}

	if wasOnline && !anyConnected(handles) {
		// The whole set went dark. Handles whose connect was already applied
		// are fully settled and can go; a tombstone whose connect is still in
		// flight must stay, or the late connect would resurrect the handle.
		for h, s := range handles {
			if s.sawConnect {
				delete(handles, h)
			}
		}
		if len(handles) == 0 {
			delete(t.users, userID)
		}
		return true, time.Now()
	}
	return false, time.Time{}
}

// Connections lists the connected handles of a user. An empty result means
// offline; callers fan out to zero targets rather than failing.
func (t *Tracker) Connections(userID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for handle, state := range t.users[userID] {
		if state.connected {
			out = append(out, handle)
		}
	}
	return out
}

// IsOnline reports whether the user has at least one connected handle.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return anyConnected(t.users[userID])
}

func anyConnected(handles map[string]handleState) bool {
	for _, state := range handles {
		if state.connected {
			return true
		}
	}
	return false
}
