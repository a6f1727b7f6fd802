package domain

import "errors"

var (
	// ErrRoomNotFound is returned when a battle room id is unknown to the registry.
	ErrRoomNotFound = errors.New("battle room not found")
	// ErrRoomFull is returned when a join would exceed the room's capacity.
	ErrRoomFull = errors.New("battle room is full")
	// ErrRoomClosed is returned for any mutation attempted on a terminal room,
	// or a join once the battle is in progress.
	ErrRoomClosed = errors.New("battle room is closed")
	// ErrAlreadyJoined is returned when a participant joins the same room twice.
	ErrAlreadyJoined = errors.New("participant already joined")
	// ErrQuorumNotMet is returned when start is requested below the minimum participant count.
	ErrQuorumNotMet = errors.New("quorum not met")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrQuestionSetNotFound indicates the question content could not be loaded.
	ErrQuestionSetNotFound = errors.New("question set not found")
	// ErrEmptyQuestionSet indicates a room cannot start without questions.
	ErrEmptyQuestionSet = errors.New("question set has no questions")
)
