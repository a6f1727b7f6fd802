package battle

import (
	"sync"
	"time"

	"quiz-battle-service/internal/domain"
	"github.com/google/uuid"
)

// Registry is the process-wide directory of active rooms. It guarantees
// at most one Room per identifier even under concurrent creation and
// evicts terminal rooms after a retention window.
type Registry struct {
	settings  Settings
	clock     Clock
	scoring   ScoringEngine
	retention time.Duration

	mu     sync.RWMutex
	rooms  map[string]*Room
	evicts map[string]Timer
	closed bool
}

func NewRegistry(settings Settings, clock Clock, scoring ScoringEngine, retention time.Duration) *Registry {
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	return &Registry{
		settings:  settings,
		clock:     clock,
		scoring:   scoring,
		retention: retention,
		rooms:     make(map[string]*Room),
		evicts:    make(map[string]Timer),
	}
}

// NewRoomID mints an identifier for transports that create rooms.
func NewRoomID() string {
	return uuid.NewString()
}

// GetOrCreate returns the room for id, creating it with the given question
// set if absent. Concurrent calls for a new id converge on one instance;
// the question set of the losing callers is ignored.
func (r *Registry) GetOrCreate(id string, set domain.QuestionSet) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, domain.ErrRoomNotFound
	}
	if room, ok := r.rooms[id]; ok {
		return room, nil
	}
	room := NewRoom(id, set, r.settings, r.clock, r.scoring)
	room.onTerminal = r.armEviction
	r.rooms[id] = room
	return room, nil
}

// Get returns the room for id or ErrRoomNotFound.
func (r *Registry) Get(id string) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// Restore inserts a room rebuilt from a snapshot, replacing nothing: a
// live room with the same id wins.
func (r *Registry) Restore(snap domain.RoomSnapshot, set domain.QuestionSet) (*Room, error) {
	room, err := RestoreRoom(snap, set, r.settings, r.clock, r.scoring)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, domain.ErrRoomNotFound
	}
	if existing, ok := r.rooms[snap.RoomID]; ok {
		return existing, nil
	}
	room.onTerminal = r.armEviction
	r.rooms[snap.RoomID] = room
	if snap.State.IsTerminal() {
		r.armEvictionLocked(snap.RoomID)
	}
	return room, nil
}

// Evict removes a terminal room immediately. Evicting a live room is
// refused so in-flight operations keep a valid target. Terminal states
// are absorbing, so the state check does not need to stay atomic with
// the removal.
func (r *Registry) Evict(id string) error {
	room, err := r.Get(id)
	if err != nil {
		return err
	}
	if !room.State().IsTerminal() {
		return domain.ErrRoomClosed
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[id]; !ok {
		return domain.ErrRoomNotFound
	}
	r.removeLocked(id)
	return nil
}

// ScheduleEviction arms the retention timer for a terminal room. Calling
// it for a live or unknown room is a no-op; calling it twice re-uses the
// first timer. Rooms created through the registry arm this themselves on
// their terminal transition, so explicit calls are only needed for
// belt-and-braces cleanup by callers that observed the terminal state.
func (r *Registry) ScheduleEviction(id string) {
	room, err := r.Get(id)
	if err != nil || !room.State().IsTerminal() {
		return
	}
	r.armEviction(id)
}

// armEviction is the room's terminal-transition callback. It runs while
// the room mutex is held, so it must not call back into the room; the
// caller already knows the room is terminal.
func (r *Registry) armEviction(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armEvictionLocked(id)
}

func (r *Registry) armEvictionLocked(id string) {
	if _, ok := r.rooms[id]; !ok {
		return
	}
	if _, armed := r.evicts[id]; armed {
		return
	}
	// Timers are armed for terminal rooms only and terminal states are
	// absorbing, so the callback can remove unconditionally.
	r.evicts[id] = r.clock.AfterFunc(r.retention, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.removeLocked(id)
	})
}

// Len reports the number of registered rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Close cancels every live room, stops eviction timers and drops all
// rooms. The registry refuses creations afterwards. Rooms are removed
// before being cancelled so their terminal callbacks find nothing to arm.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	rooms := make([]*Room, 0, len(r.rooms))
	for id, room := range r.rooms {
		rooms = append(rooms, room)
		r.removeLocked(id)
	}
	r.mu.Unlock()

	for _, room := range rooms {
		if !room.State().IsTerminal() {
			_ = room.Cancel()
		}
	}
}

func (r *Registry) removeLocked(id string) {
	if t, ok := r.evicts[id]; ok {
		t.Stop()
		delete(r.evicts, id)
	}
	delete(r.rooms, id)
}
