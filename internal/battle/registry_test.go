package battle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-battle-service/internal/domain"
)

func newRegistryWithClock() (*Registry, *FakeClock) {
	clock := NewFakeClock(time.Unix(1_700_000_000, 0))
	registry := NewRegistry(testSettings(), clock, NewScoringEngine(0.2, 10_000), 5*time.Minute)
	return registry, clock
}

func TestGetOrCreateConvergesUnderRaces(t *testing.T) {
	registry, _ := newRegistryWithClock()

	const callers = 32
	rooms := make([]*Room, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := registry.GetOrCreate("room-1", testSet())
			if err != nil {
				t.Errorf("getOrCreate: %v", err)
				return
			}
			rooms[i] = room
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if rooms[i] != rooms[0] {
			t.Fatalf("caller %d got a different room instance", i)
		}
	}
	if registry.Len() != 1 {
		t.Fatalf("expected one room, got %d", registry.Len())
	}
}

func TestGetUnknownRoom(t *testing.T) {
	registry, _ := newRegistryWithClock()
	if _, err := registry.Get("missing"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestEvictRequiresTerminalState(t *testing.T) {
	registry, _ := newRegistryWithClock()
	room, _ := registry.GetOrCreate("room-1", testSet())
	_ = room.Join("a")

	if err := registry.Evict("room-1"); !errors.Is(err, domain.ErrRoomClosed) {
		t.Fatalf("expected eviction of a live room to be refused, got %v", err)
	}
	if err := room.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := registry.Evict("room-1"); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if _, err := registry.Get("room-1"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room gone, got %v", err)
	}
}

func TestRetentionEvictsTerminalRooms(t *testing.T) {
	registry, clock := newRegistryWithClock()
	room, _ := registry.GetOrCreate("room-1", testSet())
	_ = room.Join("a")
	_ = room.Cancel()

	registry.ScheduleEviction("room-1")
	registry.ScheduleEviction("room-1") // second call re-uses the first timer

	clock.Advance(4 * time.Minute)
	if registry.Len() != 1 {
		t.Fatalf("room evicted before retention elapsed")
	}
	clock.Advance(time.Minute)
	if registry.Len() != 0 {
		t.Fatalf("expected room evicted after retention, got %d", registry.Len())
	}
}

func TestScheduleEvictionIgnoresLiveRooms(t *testing.T) {
	registry, _ := newRegistryWithClock()
	room, _ := registry.GetOrCreate("room-1", testSet())
	_ = room.Join("a")
	_ = room.Join("b")

	registry.ScheduleEviction("room-1")

	registry.mu.RLock()
	armed := len(registry.evicts)
	registry.mu.RUnlock()
	if armed != 0 {
		t.Fatalf("eviction timer armed for a live room")
	}
}

func TestRetentionAfterDeadlineDrivenFinish(t *testing.T) {
	registry, clock := newRegistryWithClock()
	room, _ := registry.GetOrCreate("room-1", testSet())
	_ = room.Join("a")
	_ = room.Join("b")
	if err := room.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Nobody answers; both question windows elapse through the clock alone.
	clock.Advance(10 * time.Second)
	clock.Advance(10 * time.Second)
	if got := room.State(); got != domain.RoomFinished {
		t.Fatalf("expected FINISHED after both deadlines, got %s", got)
	}
	if registry.Len() != 1 {
		t.Fatalf("room evicted before retention elapsed")
	}

	clock.Advance(5 * time.Minute)
	if registry.Len() != 0 {
		t.Fatalf("timer-finished room still registered after retention")
	}
}

func TestRetentionAfterWaitingTimeoutCancel(t *testing.T) {
	registry, clock := newRegistryWithClock()
	room, _ := registry.GetOrCreate("room-1", testSet())
	_ = room.Join("a")

	clock.Advance(2 * time.Minute)
	if got := room.State(); got != domain.RoomCancelled {
		t.Fatalf("expected CANCELLED without quorum, got %s", got)
	}
	if registry.Len() != 1 {
		t.Fatalf("room evicted before retention elapsed")
	}

	clock.Advance(5 * time.Minute)
	if registry.Len() != 0 {
		t.Fatalf("timer-cancelled room still registered after retention")
	}
}

func TestRestoreKeepsExistingRoom(t *testing.T) {
	registry, _ := newRegistryWithClock()
	room, _ := registry.GetOrCreate("room-1", testSet())

	snap := domain.RoomSnapshot{RoomID: "room-1", State: domain.RoomWaiting}
	restored, err := registry.Restore(snap, testSet())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored != room {
		t.Fatalf("expected the live room to win over the snapshot")
	}
}

func TestCloseCancelsEverything(t *testing.T) {
	registry, _ := newRegistryWithClock()
	room, _ := registry.GetOrCreate("room-1", testSet())
	_ = room.Join("a")

	registry.Close()
	if got := room.State(); got != domain.RoomCancelled {
		t.Fatalf("expected CANCELLED after close, got %s", got)
	}
	if registry.Len() != 0 {
		t.Fatalf("expected no rooms after close")
	}
	if _, err := registry.GetOrCreate("room-2", testSet()); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected creations refused after close, got %v", err)
	}
}

func TestNewRoomIDUnique(t *testing.T) {
	if NewRoomID() == NewRoomID() {
		t.Fatalf("expected unique room ids")
	}
}
