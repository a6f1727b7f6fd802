package domain

import "time"

// RoomState is the single authoritative lifecycle enum for a battle room.
type RoomState string

const (
	RoomCreated    RoomState = "CREATED"
	RoomWaiting    RoomState = "WAITING"
	RoomReady      RoomState = "READY"
	RoomInProgress RoomState = "IN_PROGRESS"
	RoomFinished   RoomState = "FINISHED"
	RoomCancelled  RoomState = "CANCELLED"
)

// IsTerminal reports whether the state permits no further mutation.
func (s RoomState) IsTerminal() bool {
	return s == RoomFinished || s == RoomCancelled
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Options     []Option `json:"options"`
	Points      int      `json:"points"`      // base value, defaults to 100 if zero
	LimitMillis int64    `json:"limitMillis"` // submission window, defaults from config if zero
}

// CorrectOptionID returns the id of the correct option, or "" if none is flagged.
func (q Question) CorrectOptionID() string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return ""
}

// QuestionSet is the immutable ordered question sequence assigned to a room.
type QuestionSet struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// Submission models one answer attempt from a participant.
type Submission struct {
	ParticipantID string
	QuestionID    string
	OptionID      string
	ElapsedMillis int64
}

// RejectReason classifies why a submission was not accepted.
type RejectReason string

const (
	ReasonNone             RejectReason = ""
	ReasonAlreadyAnswered  RejectReason = "ALREADY_ANSWERED"
	ReasonDeadlineExceeded RejectReason = "DEADLINE_EXCEEDED"
	ReasonStaleQuestion    RejectReason = "STALE_QUESTION"
	ReasonRoomClosed       RejectReason = "ROOM_CLOSED"
)

// SubmissionResult is the structured outcome of a submission. Policy
// rejections (late, duplicate, stale) are carried in Reason, not as errors.
type SubmissionResult struct {
	Accepted   bool         `json:"accepted"`
	Correct    bool         `json:"correct"`
	ScoreDelta int          `json:"scoreDelta"`
	TotalScore int          `json:"totalScore"`
	Reason     RejectReason `json:"reason,omitempty"`
}

// FinalScore is one row of a room's final ranking.
type FinalScore struct {
	ParticipantID string `json:"participantId"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
}

// ParticipantView is a read-only snapshot of a participant session.
type ParticipantView struct {
	ParticipantID string `json:"participantId"`
	Score         int    `json:"score"`
	Alive         bool   `json:"alive"`
}

// ParticipantSnapshot is the persisted form of one participant session.
type ParticipantSnapshot struct {
	ParticipantID string    `json:"participantId"`
	Score         int       `json:"score"`
	Answered      []string  `json:"answered"` // question ids with an accepted submission
	JoinedAt      time.Time `json:"joinedAt"`
	LastScoredAt  time.Time `json:"lastScoredAt"`
}

// RoomSnapshot captures everything needed to restore a room without
// losing invariants: state, question index, deadline, scores and the
// per-participant accepted-submission history.
type RoomSnapshot struct {
	RoomID        string                `json:"roomId"`
	QuestionSetID string                `json:"questionSetId"`
	State         RoomState             `json:"state"`
	QuestionIndex int                   `json:"questionIndex"`
	Deadline      time.Time             `json:"deadline"`
	Participants  []ParticipantSnapshot `json:"participants"`
	TakenAt       time.Time             `json:"takenAt"`
}
