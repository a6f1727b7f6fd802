package battle

import (
	"sort"
	"sync"
	"time"

	"quiz-battle-service/internal/domain"
)

// Settings are the per-room tunables. Zero values fall back to defaults.
type Settings struct {
	MinParticipants int
	MaxParticipants int
	WaitingTimeout  time.Duration // quorum deadline; starts the room instead if quorum is met
	ReadyCountdown  time.Duration // grace period between READY and IN_PROGRESS
	HeartbeatWindow time.Duration // liveness expiry for participants
}

func (s Settings) withDefaults() Settings {
	if s.MinParticipants <= 0 {
		s.MinParticipants = 2
	}
	if s.MaxParticipants <= 0 {
		s.MaxParticipants = 16
	}
	if s.WaitingTimeout <= 0 {
		s.WaitingTimeout = 2 * time.Minute
	}
	if s.ReadyCountdown < 0 {
		s.ReadyCountdown = 0
	}
	if s.HeartbeatWindow <= 0 {
		s.HeartbeatWindow = 15 * time.Second
	}
	return s
}

// Room is the state machine for one battle. All mutations go through the
// room mutex; the submission processor adds its own per-room serialization
// on top so submissions and timer callbacks are applied one at a time.
type Room struct {
	id       string
	set      domain.QuestionSet
	settings Settings
	clock    Clock
	scoring  ScoringEngine

	mu           sync.RWMutex
	state        domain.RoomState
	questionIdx  int
	deadline     time.Time
	participants map[string]*ParticipantSession
	subscribers  map[chan domain.Event]struct{}

	waitingTimer  Timer
	readyTimer    Timer
	questionTimer Timer

	// onTerminal fires once on the transition into FINISHED or CANCELLED,
	// while the room mutex is held. It must not call back into the room.
	onTerminal func(roomID string)
}

// NewRoom creates a room in the CREATED state with an immutable question set.
func NewRoom(id string, set domain.QuestionSet, settings Settings, clock Clock, scoring ScoringEngine) *Room {
	return &Room{
		id:           id,
		set:          set,
		settings:     settings.withDefaults(),
		clock:        clock,
		scoring:      scoring,
		state:        domain.RoomCreated,
		questionIdx:  -1,
		participants: make(map[string]*ParticipantSession),
		subscribers:  make(map[chan domain.Event]struct{}),
	}
}

// RestoreRoom rebuilds a room from a snapshot and its question set. The
// restored room behaves identically: same state, question index, scores
// and accepted-submission history. An in-progress room re-arms its
// question deadline timer for the remaining window.
func RestoreRoom(snap domain.RoomSnapshot, set domain.QuestionSet, settings Settings, clock Clock, scoring ScoringEngine) (*Room, error) {
	if snap.State == domain.RoomInProgress && (snap.QuestionIndex < 0 || snap.QuestionIndex >= len(set.Questions)) {
		return nil, domain.ErrEmptyQuestionSet
	}
	r := NewRoom(snap.RoomID, set, settings, clock, scoring)
	now := clock.Now()
	r.state = snap.State
	r.questionIdx = snap.QuestionIndex
	r.deadline = snap.Deadline
	for _, p := range snap.Participants {
		r.participants[p.ParticipantID] = restoreParticipantSession(p, now)
	}
	switch r.state {
	case domain.RoomInProgress:
		r.rearmQuestionTimerLocked(now)
	case domain.RoomWaiting:
		r.waitingTimer = clock.AfterFunc(r.settings.WaitingTimeout, r.onWaitingTimeout)
	case domain.RoomReady:
		r.readyTimer = clock.AfterFunc(r.settings.ReadyCountdown, r.onCountdownElapsed)
	}
	return r, nil
}

// ID returns the immutable room identifier.
func (r *Room) ID() string { return r.id }

// State returns the current lifecycle state.
func (r *Room) State() domain.RoomState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Join admits a participant. Membership is open in CREATED and WAITING
// only; the first join moves the room to WAITING and arms the quorum
// timeout.
func (r *Room) Join(participantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case domain.RoomCreated, domain.RoomWaiting:
	default:
		return domain.ErrRoomClosed
	}
	if _, ok := r.participants[participantID]; ok {
		return domain.ErrAlreadyJoined
	}
	if len(r.participants) >= r.settings.MaxParticipants {
		return domain.ErrRoomFull
	}

	r.participants[participantID] = newParticipantSession(participantID, r.clock.Now())
	if r.state == domain.RoomCreated {
		r.setStateLocked(domain.RoomWaiting)
		r.waitingTimer = r.clock.AfterFunc(r.settings.WaitingTimeout, r.onWaitingTimeout)
	}
	return nil
}

// Start moves a WAITING room with quorum to READY and arms the countdown
// to IN_PROGRESS. Any other state fails: terminal rooms with ErrRoomClosed,
// everything else with ErrQuorumNotMet.
func (r *Room) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.IsTerminal() {
		return domain.ErrRoomClosed
	}
	if r.state != domain.RoomWaiting || len(r.participants) < r.settings.MinParticipants {
		return domain.ErrQuorumNotMet
	}
	if len(r.set.Questions) == 0 {
		return domain.ErrEmptyQuestionSet
	}

	r.stopTimerLocked(&r.waitingTimer)
	r.setStateLocked(domain.RoomReady)
	if r.settings.ReadyCountdown == 0 {
		r.beginBattleLocked()
		return nil
	}
	r.readyTimer = r.clock.AfterFunc(r.settings.ReadyCountdown, r.onCountdownElapsed)
	return nil
}

// AcceptSubmission classifies one answer against the current question
// window and applies its score atomically. Late, duplicate and stale
// submissions come back rejected with a reason, never as an error; only a
// closed room or unknown participant is an error.
func (r *Room) AcceptSubmission(sub domain.Submission) (domain.SubmissionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != domain.RoomInProgress {
		return domain.SubmissionResult{Reason: domain.ReasonRoomClosed}, domain.ErrRoomClosed
	}
	session, ok := r.participants[sub.ParticipantID]
	if !ok {
		return domain.SubmissionResult{}, domain.ErrParticipantNotFound
	}

	now := r.clock.Now()
	question := r.set.Questions[r.questionIdx]
	result := r.classifyLocked(session, question, sub, now)

	r.emitLocked(domain.Event{
		Type:   domain.EventSubmissionScored,
		RoomID: r.id,
		Submission: &domain.SubmissionScored{
			ParticipantID: sub.ParticipantID,
			QuestionID:    sub.QuestionID,
			Accepted:      result.Accepted,
			ScoreDelta:    result.ScoreDelta,
			Reason:        result.Reason,
		},
	})

	// Opportunistic advance: the deadline may have passed, or this
	// submission may have been the last one outstanding.
	r.advanceIfDueLocked(now)
	return result, nil
}

func (r *Room) classifyLocked(session *ParticipantSession, question domain.Question, sub domain.Submission, now time.Time) domain.SubmissionResult {
	if sub.QuestionID != question.ID {
		return domain.SubmissionResult{Reason: domain.ReasonStaleQuestion, TotalScore: session.score}
	}
	if session.hasAnswered(question.ID) {
		return domain.SubmissionResult{Reason: domain.ReasonAlreadyAnswered, TotalScore: session.score}
	}
	// The deadline is authoritative even before the room mechanically advances.
	limit := r.scoring.LimitMillis(question)
	if !now.Before(r.deadline) || sub.ElapsedMillis >= limit {
		return domain.SubmissionResult{Reason: domain.ReasonDeadlineExceeded, TotalScore: session.score}
	}

	correct := sub.OptionID == question.CorrectOptionID()
	delta := r.scoring.Score(question, sub.OptionID, sub.ElapsedMillis)
	session.recordAnswer(question.ID, delta, now)
	return domain.SubmissionResult{
		Accepted:   true,
		Correct:    correct,
		ScoreDelta: delta,
		TotalScore: session.score,
	}
}

// AdvanceIfDue moves the room forward when the current question window has
// closed or everyone live has answered. Idempotent and safe to call from
// timer callbacks racing with submissions; entry order into the room mutex
// decides which side of the boundary a submission lands on.
func (r *Room) AdvanceIfDue() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanceIfDueLocked(r.clock.Now())
}

func (r *Room) advanceIfDueLocked(now time.Time) {
	if r.state != domain.RoomInProgress {
		return
	}

	live := 0
	for _, s := range r.participants {
		s.expireIfStale(now, r.settings.HeartbeatWindow)
		if s.Alive() {
			live++
		}
	}
	if live == 0 {
		r.cancelLocked()
		return
	}

	if now.Before(r.deadline) && !r.allLiveAnsweredLocked() {
		return
	}
	r.advanceQuestionLocked(now)
}

func (r *Room) allLiveAnsweredLocked() bool {
	questionID := r.set.Questions[r.questionIdx].ID
	for _, s := range r.participants {
		if s.Alive() && !s.hasAnswered(questionID) {
			return false
		}
	}
	return true
}

func (r *Room) advanceQuestionLocked(now time.Time) {
	r.stopTimerLocked(&r.questionTimer)
	if r.questionIdx+1 >= len(r.set.Questions) {
		r.finishLocked()
		return
	}
	r.questionIdx++
	r.armQuestionTimerLocked(now)
	question := r.set.Questions[r.questionIdx]
	r.emitLocked(domain.Event{
		Type:   domain.EventQuestionAdvanced,
		RoomID: r.id,
		Question: &domain.QuestionAdvanced{
			QuestionIndex: r.questionIdx,
			QuestionID:    question.ID,
			Deadline:      r.deadline,
		},
	})
}

func (r *Room) armQuestionTimerLocked(now time.Time) {
	limit := time.Duration(r.scoring.LimitMillis(r.set.Questions[r.questionIdx])) * time.Millisecond
	r.deadline = now.Add(limit)
	r.questionTimer = r.clock.AfterFunc(limit, r.AdvanceIfDue)
}

// rearmQuestionTimerLocked keeps a restored deadline and schedules the
// remaining window only.
func (r *Room) rearmQuestionTimerLocked(now time.Time) {
	remaining := r.deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	r.questionTimer = r.clock.AfterFunc(remaining, r.AdvanceIfDue)
}

// Heartbeat refreshes a participant's liveness.
func (r *Room) Heartbeat(participantID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state.IsTerminal() {
		return domain.ErrRoomClosed
	}
	session, ok := r.participants[participantID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	session.Heartbeat(r.clock.Now())
	return nil
}

// MarkDisconnected flips a participant's liveness off and, during a
// battle, cancels the room once nobody is left.
func (r *Room) MarkDisconnected(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.participants[participantID]
	if !ok {
		return
	}
	session.Disconnect()
	if r.state == domain.RoomInProgress {
		r.advanceIfDueLocked(r.clock.Now())
	}
}

// Cancel moves a non-terminal room to CANCELLED. Admitted submissions
// already holding the lock complete first; everything after gets
// ErrRoomClosed.
func (r *Room) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.IsTerminal() {
		return domain.ErrRoomClosed
	}
	r.cancelLocked()
	return nil
}

func (r *Room) cancelLocked() {
	r.stopAllTimersLocked()
	r.setStateLocked(domain.RoomCancelled)
}

func (r *Room) finishLocked() {
	r.stopAllTimersLocked()
	r.setStateLocked(domain.RoomFinished)
	r.emitLocked(domain.Event{
		Type:     domain.EventRoomFinished,
		RoomID:   r.id,
		Finished: &domain.RoomFinishedEvent{FinalScores: r.finalScoresLocked()},
	})
}

// FinalScores returns the ranking; fully populated once the room is terminal.
func (r *Room) FinalScores() []domain.FinalScore {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finalScoresLocked()
}

// finalScoresLocked ranks by score, breaking ties by who reached their
// score earlier, then by participant id.
func (r *Room) finalScoresLocked() []domain.FinalScore {
	sessions := make([]*ParticipantSession, 0, len(r.participants))
	for _, s := range r.participants {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].score != sessions[j].score {
			return sessions[i].score > sessions[j].score
		}
		if !sessions[i].lastScoredAt.Equal(sessions[j].lastScoredAt) {
			return sessions[i].lastScoredAt.Before(sessions[j].lastScoredAt)
		}
		return sessions[i].id < sessions[j].id
	})

	scores := make([]domain.FinalScore, len(sessions))
	for i, s := range sessions {
		scores[i] = domain.FinalScore{ParticipantID: s.id, Score: s.score, Rank: i + 1}
	}
	return scores
}

// Participants returns a consistent snapshot of every session.
func (r *Room) Participants() []domain.ParticipantView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	views := make([]domain.ParticipantView, 0, len(r.participants))
	for _, s := range r.participants {
		views = append(views, s.view())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ParticipantID < views[j].ParticipantID })
	return views
}

// CurrentQuestion returns the active question, its index and deadline.
// ok is false unless the room is IN_PROGRESS.
func (r *Room) CurrentQuestion() (domain.Question, int, time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != domain.RoomInProgress {
		return domain.Question{}, 0, time.Time{}, false
	}
	return r.set.Questions[r.questionIdx], r.questionIdx, r.deadline, true
}

// Snapshot captures the persistable room state under a consistent view.
func (r *Room) Snapshot() domain.RoomSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	participants := make([]domain.ParticipantSnapshot, 0, len(r.participants))
	for _, s := range r.participants {
		participants = append(participants, s.snapshot())
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].ParticipantID < participants[j].ParticipantID
	})
	return domain.RoomSnapshot{
		RoomID:        r.id,
		QuestionSetID: r.set.ID,
		State:         r.state,
		QuestionIndex: r.questionIdx,
		Deadline:      r.deadline,
		Participants:  participants,
		TakenAt:       r.clock.Now(),
	}
}

// Subscribe returns a channel receiving the room's lifecycle events. The
// cancel function must be called to release the subscription.
func (r *Room) Subscribe() (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 16)
	r.mu.Lock()
	r.subscribers[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subscribers[ch]; ok {
			delete(r.subscribers, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}

func (r *Room) beginBattleLocked() {
	r.stopTimerLocked(&r.readyTimer)
	r.setStateLocked(domain.RoomInProgress)
	r.questionIdx = 0
	r.armQuestionTimerLocked(r.clock.Now())
	question := r.set.Questions[0]
	r.emitLocked(domain.Event{
		Type:   domain.EventQuestionAdvanced,
		RoomID: r.id,
		Question: &domain.QuestionAdvanced{
			QuestionIndex: 0,
			QuestionID:    question.ID,
			Deadline:      r.deadline,
		},
	})
}

func (r *Room) onWaitingTimeout() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != domain.RoomWaiting {
		return
	}
	if len(r.participants) >= r.settings.MinParticipants {
		// Quorum was reached but nobody pressed start; the timer starts for them.
		r.setStateLocked(domain.RoomReady)
		if r.settings.ReadyCountdown == 0 {
			r.beginBattleLocked()
			return
		}
		r.readyTimer = r.clock.AfterFunc(r.settings.ReadyCountdown, r.onCountdownElapsed)
		return
	}
	r.cancelLocked()
}

func (r *Room) onCountdownElapsed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != domain.RoomReady {
		return
	}
	if len(r.set.Questions) == 0 {
		r.cancelLocked()
		return
	}
	r.beginBattleLocked()
}

func (r *Room) setStateLocked(state domain.RoomState) {
	r.state = state
	r.emitLocked(domain.Event{
		Type:         domain.EventRoomStateChanged,
		RoomID:       r.id,
		StateChanged: &domain.RoomStateChanged{NewState: state},
	})
	if state.IsTerminal() && r.onTerminal != nil {
		r.onTerminal(r.id)
	}
}

func (r *Room) emitLocked(event domain.Event) {
	for ch := range r.subscribers {
		select {
		case ch <- event:
		default:
			// Drop the oldest event rather than block room mutation on a
			// slow subscriber.
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
}

func (r *Room) stopTimerLocked(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (r *Room) stopAllTimersLocked() {
	r.stopTimerLocked(&r.waitingTimer)
	r.stopTimerLocked(&r.readyTimer)
	r.stopTimerLocked(&r.questionTimer)
}
