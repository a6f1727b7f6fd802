package battle

import (
	"testing"
	"time"
)

func TestSessionLivenessExpiry(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	session := newParticipantSession("u1", start)

	if !session.Alive() {
		t.Fatalf("expected new session live")
	}
	session.expireIfStale(start.Add(10*time.Second), 15*time.Second)
	if !session.Alive() {
		t.Fatalf("expected session live inside the window")
	}
	session.expireIfStale(start.Add(20*time.Second), 15*time.Second)
	if session.Alive() {
		t.Fatalf("expected session stale past the window")
	}

	session.Heartbeat(start.Add(21 * time.Second))
	if !session.Alive() {
		t.Fatalf("expected heartbeat to revive the session")
	}
}

func TestSessionSnapshotKeepsHistory(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	session := newParticipantSession("u1", start)
	session.recordAnswer("q1", 80, start.Add(2*time.Second))
	session.recordAnswer("q2", 0, start.Add(12*time.Second))

	snap := session.snapshot()
	if snap.Score != 80 || len(snap.Answered) != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	// A zero-delta answer must not move the scored-at tiebreaker.
	if !snap.LastScoredAt.Equal(start.Add(2 * time.Second)) {
		t.Fatalf("expected lastScoredAt unchanged by zero delta, got %v", snap.LastScoredAt)
	}

	restored := restoreParticipantSession(snap, start.Add(30*time.Second))
	if restored.Score() != 80 || !restored.hasAnswered("q1") || !restored.hasAnswered("q2") {
		t.Fatalf("restore lost history: %+v", restored)
	}
	if restored.hasAnswered("q3") {
		t.Fatalf("restore invented history")
	}
}
