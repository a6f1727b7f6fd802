package app

import (
	"context"
	"log"

	"quiz-battle-service/internal/battle"
	"quiz-battle-service/internal/domain"
)

// QuestionRepository loads immutable question sets (from cache/backing store).
type QuestionRepository interface {
	GetQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// SnapshotStore is the optional persistence collaborator. Saving is
// best-effort; loading rebuilds rooms across restarts.
type SnapshotStore interface {
	Save(ctx context.Context, snap domain.RoomSnapshot) error
	Load(ctx context.Context, roomID string) (domain.RoomSnapshot, bool, error)
	Delete(ctx context.Context, roomID string) error
}

// BattleService is the use-case façade transports talk to. It owns the
// room registry lifecycle and wires questions, submissions and snapshots
// together.
type BattleService struct {
	registry  *battle.Registry
	processor *battle.Processor
	questions QuestionRepository
	snapshots SnapshotStore // nil when persistence is not configured
}

func NewBattleService(registry *battle.Registry, questions QuestionRepository, snapshots SnapshotStore) *BattleService {
	return &BattleService{
		registry:  registry,
		processor: battle.NewProcessor(registry),
		questions: questions,
		snapshots: snapshots,
	}
}

// JoinRoom admits a participant, creating the room on first join with the
// question set named by setID.
func (s *BattleService) JoinRoom(ctx context.Context, roomID, setID, participantID string) error {
	set, err := s.questions.GetQuestionSet(ctx, setID)
	if err != nil {
		return err
	}
	room, err := s.registry.GetOrCreate(roomID, set)
	if err != nil {
		return err
	}
	if err := room.Join(participantID); err != nil {
		return err
	}
	s.persist(ctx, room)
	return nil
}

// StartRoom requests the WAITING→READY transition.
func (s *BattleService) StartRoom(ctx context.Context, roomID string) error {
	room, err := s.registry.Get(roomID)
	if err != nil {
		return err
	}
	if err := room.Start(); err != nil {
		return err
	}
	s.persist(ctx, room)
	return nil
}

// SubmitAnswer pushes one submission through the serialization gateway.
func (s *BattleService) SubmitAnswer(ctx context.Context, roomID string, sub domain.Submission) (domain.SubmissionResult, error) {
	result, err := s.processor.Submit(ctx, roomID, sub)
	if err != nil {
		return result, err
	}
	if result.Accepted {
		if room, rerr := s.registry.Get(roomID); rerr == nil {
			s.persist(ctx, room)
		}
	}
	return result, nil
}

// Heartbeat refreshes a participant's liveness flag.
func (s *BattleService) Heartbeat(_ context.Context, roomID, participantID string) error {
	room, err := s.registry.Get(roomID)
	if err != nil {
		return err
	}
	return room.Heartbeat(participantID)
}

// LeaveRoom marks a participant disconnected; an in-progress room with
// nobody left cancels itself.
func (s *BattleService) LeaveRoom(_ context.Context, roomID, participantID string) {
	room, err := s.registry.Get(roomID)
	if err != nil {
		return
	}
	room.MarkDisconnected(participantID)
	if room.State().IsTerminal() {
		s.registry.ScheduleEviction(roomID)
	}
}

// CancelRoom cancels a room that has not finished.
func (s *BattleService) CancelRoom(ctx context.Context, roomID string) error {
	room, err := s.registry.Get(roomID)
	if err != nil {
		return err
	}
	if err := room.Cancel(); err != nil {
		return err
	}
	s.registry.ScheduleEviction(roomID)
	s.persist(ctx, room)
	return nil
}

// Subscribe returns the room's event channel. The caller must invoke the
// returned cancel function to avoid leaks.
func (s *BattleService) Subscribe(_ context.Context, roomID string) (<-chan domain.Event, func(), error) {
	room, err := s.registry.Get(roomID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := room.Subscribe()
	return ch, cancel, nil
}

// RoomStatus exposes a consistent read-only view for transports.
func (s *BattleService) RoomStatus(_ context.Context, roomID string) (domain.RoomState, []domain.ParticipantView, error) {
	room, err := s.registry.Get(roomID)
	if err != nil {
		return "", nil, err
	}
	return room.State(), room.Participants(), nil
}

// RestoreRoom rebuilds a room from its persisted snapshot, if one exists.
func (s *BattleService) RestoreRoom(ctx context.Context, roomID string) (*battle.Room, error) {
	if s.snapshots == nil {
		return nil, domain.ErrRoomNotFound
	}
	snap, ok, err := s.snapshots.Load(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	set, err := s.questions.GetQuestionSet(ctx, snap.QuestionSetID)
	if err != nil {
		return nil, err
	}
	return s.registry.Restore(snap, set)
}

// Close tears the registry down; rooms cancel and timers stop.
func (s *BattleService) Close() {
	s.registry.Close()
}

func (s *BattleService) persist(ctx context.Context, room *battle.Room) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Save(ctx, room.Snapshot()); err != nil {
		log.Printf("snapshot save failed for room %s: %v", room.ID(), err)
	}
}
