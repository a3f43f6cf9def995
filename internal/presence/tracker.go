package presence

import (
	"sync"
	"time"

	"github.com/RustamovAkrom/minichat/internal/domain"
	"github.com/RustamovAkrom/minichat/internal/metrics"
)

// Tracker keeps per-user online state. A user may hold several simultaneous
// connections; the externally observed state is boolean, but internally a
// connection count decides the transitions: only the first connect reports
// online, only the last disconnect reports offline.
type Tracker struct {
	mu    sync.RWMutex
	users map[string]*userState
}

// userState holds one user's counter behind its own lock so presence
// mutations for different users never contend.
type userState struct {
	mu       sync.Mutex
	conns    int
	lastSeen time.Time
}

func NewTracker() *Tracker {
	return &Tracker{users: make(map[string]*userState)}
}

func (t *Tracker) user(userID string) *userState {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	if !ok {
		u = &userState{}
		t.users[userID] = u
	}
	return u
}

// SetOnline registers a connection for the user. The returned flag is true
// only on the offline-to-online transition; repeated connects are silent so
// a room never sees duplicate online broadcasts.
func (t *Tracker) SetOnline(userID string) (domain.PresenceState, bool) {
	u := t.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	u.conns++
	if u.conns == 1 {
		metrics.OnlineUsers.Inc()
		return domain.PresenceState{Online: true}, true
	}
	return domain.PresenceState{Online: true, LastSeen: u.lastSeen}, false
}

// SetOffline releases a connection for the user. The returned flag is true
// only when the last connection closed; the disconnect that actually flips
// the user offline must always be observable.
func (t *Tracker) SetOffline(userID string) (domain.PresenceState, bool) {
	u := t.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conns > 0 {
		u.conns--
	}
	u.lastSeen = time.Now().UTC()
	if u.conns == 0 {
		metrics.OnlineUsers.Dec()
		return domain.PresenceState{Online: false, LastSeen: u.lastSeen}, true
	}
	return domain.PresenceState{Online: true, LastSeen: u.lastSeen}, false
}

// State returns the externally observable presence of a user.
func (t *Tracker) State(userID string) domain.PresenceState {
	t.mu.RLock()
	u, ok := t.users[userID]
	t.mu.RUnlock()
	if !ok {
		return domain.PresenceState{}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return domain.PresenceState{Online: u.conns > 0, LastSeen: u.lastSeen}
}
