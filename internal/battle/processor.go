package battle

import (
	"context"
	"sync"

	"quiz-battle-service/internal/domain"
)

// Processor is the concurrency gateway for answer submissions. Arbitrarily
// many callers may invoke Submit; submissions for the same room are applied
// one at a time in the order they win the room's serialization lock, while
// different rooms proceed in parallel.
type Processor struct {
	registry *Registry

	mu    sync.Mutex
	locks map[string]*roomLock
}

// roomLock is a reference-counted serialization lock. The count keeps the
// map entry alive while any caller still holds or waits on the mutex, so
// two callers can never end up serialized on different instances.
type roomLock struct {
	mu   sync.Mutex
	refs int
}

func NewProcessor(registry *Registry) *Processor {
	return &Processor{
		registry: registry,
		locks:    make(map[string]*roomLock),
	}
}

// Submit serializes and applies one submission against its room. Policy
// rejections come back inside the result; ErrRoomNotFound and ErrRoomClosed
// surface as errors for transport translation.
func (p *Processor) Submit(ctx context.Context, roomID string, sub domain.Submission) (domain.SubmissionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.SubmissionResult{}, err
	}
	room, err := p.registry.Get(roomID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	lock := p.acquire(roomID)

	// Entry into this lock is the serialization point: a submission and a
	// deadline that logically coincide resolve in lock acquisition order.
	room.AdvanceIfDue()
	result, err := room.AcceptSubmission(sub)
	terminal := room.State().IsTerminal()
	if terminal {
		p.registry.ScheduleEviction(roomID)
	}
	p.release(roomID, lock, terminal)
	return result, err
}

func (p *Processor) acquire(roomID string) *roomLock {
	p.mu.Lock()
	lock, ok := p.locks[roomID]
	if !ok {
		lock = &roomLock{}
		p.locks[roomID] = lock
	}
	lock.refs++
	p.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// release unlocks the room lock and reaps the map entry once the room is
// terminal and no other caller holds a reference, so the map does not grow
// without bound.
func (p *Processor) release(roomID string, lock *roomLock, terminal bool) {
	lock.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	lock.refs--
	if terminal && lock.refs == 0 {
		delete(p.locks, roomID)
	}
}
