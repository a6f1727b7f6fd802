package domain

import "time"

// EventType discriminates the lifecycle events a room emits.
type EventType string

const (
	EventRoomStateChanged EventType = "roomStateChanged"
	EventQuestionAdvanced EventType = "questionAdvanced"
	EventSubmissionScored EventType = "submissionScored"
	EventRoomFinished     EventType = "roomFinished"
)

// Event is the envelope delivered to broadcasters. Exactly one of the
// payload fields matching Type is populated.
type Event struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"roomId"`

	StateChanged *RoomStateChanged  `json:"stateChanged,omitempty"`
	Question     *QuestionAdvanced  `json:"question,omitempty"`
	Submission   *SubmissionScored  `json:"submission,omitempty"`
	Finished     *RoomFinishedEvent `json:"finished,omitempty"`
}

// RoomStateChanged announces a lifecycle transition.
type RoomStateChanged struct {
	NewState RoomState `json:"newState"`
}

// QuestionAdvanced announces the active question and its deadline.
type QuestionAdvanced struct {
	QuestionIndex int       `json:"questionIndex"`
	QuestionID    string    `json:"questionId"`
	Deadline      time.Time `json:"deadline"`
}

// SubmissionScored reports the outcome of one submission.
type SubmissionScored struct {
	ParticipantID string       `json:"participantId"`
	QuestionID    string       `json:"questionId"`
	Accepted      bool         `json:"accepted"`
	ScoreDelta    int          `json:"scoreDelta"`
	Reason        RejectReason `json:"reason,omitempty"`
}

// RoomFinishedEvent carries the final ranking.
type RoomFinishedEvent struct {
	FinalScores []FinalScore `json:"finalScores"`
}
