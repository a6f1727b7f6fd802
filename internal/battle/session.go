package battle

import (
	"sync/atomic"
	"time"

	"quiz-battle-service/internal/domain"
)

// ParticipantSession is one user's state inside a room. Score and the
// answered set are owned by the room and mutated only under the room
// mutex; the liveness flag is written by the transport's heartbeat path
// and read by the room, so it is kept atomic.
type ParticipantSession struct {
	id           string
	score        int
	answered     map[string]struct{} // question ids with an accepted submission
	joinedAt     time.Time
	lastScoredAt time.Time

	alive         atomic.Bool
	lastHeartbeat atomic.Int64 // unix nanos
}

func newParticipantSession(id string, now time.Time) *ParticipantSession {
	s := &ParticipantSession{
		id:       id,
		answered: make(map[string]struct{}),
		joinedAt: now,
	}
	s.alive.Store(true)
	s.lastHeartbeat.Store(now.UnixNano())
	return s
}

// ID returns the participant identifier.
func (s *ParticipantSession) ID() string { return s.id }

// Score returns the cumulative score. Callers outside the room should
// prefer Room.Participants for a consistent snapshot.
func (s *ParticipantSession) Score() int { return s.score }

// Alive reports connection liveness as last set by the heartbeat path.
func (s *ParticipantSession) Alive() bool { return s.alive.Load() }

// Heartbeat marks the participant live at now.
func (s *ParticipantSession) Heartbeat(now time.Time) {
	s.lastHeartbeat.Store(now.UnixNano())
	s.alive.Store(true)
}

// Disconnect marks the participant as gone.
func (s *ParticipantSession) Disconnect() {
	s.alive.Store(false)
}

// expireIfStale drops liveness when the last heartbeat is older than window.
func (s *ParticipantSession) expireIfStale(now time.Time, window time.Duration) {
	if window <= 0 || !s.alive.Load() {
		return
	}
	last := time.Unix(0, s.lastHeartbeat.Load())
	if now.Sub(last) > window {
		s.alive.Store(false)
	}
}

func (s *ParticipantSession) hasAnswered(questionID string) bool {
	_, ok := s.answered[questionID]
	return ok
}

func (s *ParticipantSession) recordAnswer(questionID string, delta int, now time.Time) {
	s.answered[questionID] = struct{}{}
	if delta > 0 {
		s.score += delta
		s.lastScoredAt = now
	}
}

func (s *ParticipantSession) view() domain.ParticipantView {
	return domain.ParticipantView{
		ParticipantID: s.id,
		Score:         s.score,
		Alive:         s.Alive(),
	}
}

func (s *ParticipantSession) snapshot() domain.ParticipantSnapshot {
	answered := make([]string, 0, len(s.answered))
	for id := range s.answered {
		answered = append(answered, id)
	}
	return domain.ParticipantSnapshot{
		ParticipantID: s.id,
		Score:         s.score,
		Answered:      answered,
		JoinedAt:      s.joinedAt,
		LastScoredAt:  s.lastScoredAt,
	}
}

func restoreParticipantSession(snap domain.ParticipantSnapshot, now time.Time) *ParticipantSession {
	s := newParticipantSession(snap.ParticipantID, now)
	s.joinedAt = snap.JoinedAt
	s.lastScoredAt = snap.LastScoredAt
	s.score = snap.Score
	for _, id := range snap.Answered {
		s.answered[id] = struct{}{}
	}
	return s
}
