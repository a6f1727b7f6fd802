package battle

import (
	"quiz-battle-service/internal/domain"
)

const (
	defaultBasePoints  = 100
	defaultFloorShare  = 0.2
	defaultLimitMillis = 10_000
)

// ScoringEngine computes score deltas from correctness and elapsed time.
// It holds configuration only, no mutable state, so concurrent use needs
// no synchronization.
type ScoringEngine struct {
	floor       float64 // fraction of base points kept at the deadline
	limitMillis int64   // fallback when a question carries no limit
}

func NewScoringEngine(floor float64, limitMillis int64) ScoringEngine {
	if floor <= 0 || floor > 1 {
		floor = defaultFloorShare
	}
	if limitMillis <= 0 {
		limitMillis = defaultLimitMillis
	}
	return ScoringEngine{floor: floor, limitMillis: limitMillis}
}

// LimitMillis resolves a question's submission window.
func (e ScoringEngine) LimitMillis(q domain.Question) int64 {
	if q.LimitMillis > 0 {
		return q.LimitMillis
	}
	return e.limitMillis
}

// Score returns the points awarded for answering q with optionID after
// elapsedMillis. Correct answers earn the base value scaled linearly with
// the time remaining, never dropping below the floor fraction of the base.
// Wrong answers and submissions at or past the limit earn zero.
func (e ScoringEngine) Score(q domain.Question, optionID string, elapsedMillis int64) int {
	limit := e.LimitMillis(q)
	if elapsedMillis < 0 || elapsedMillis >= limit {
		return 0
	}
	if optionID == "" || optionID != q.CorrectOptionID() {
		return 0
	}

	base := q.Points
	if base == 0 {
		base = defaultBasePoints
	}

	remaining := float64(limit-elapsedMillis) / float64(limit)
	awarded := int(float64(base) * remaining)
	if min := int(float64(base) * e.floor); awarded < min {
		awarded = min
	}
	if awarded < 1 {
		awarded = 1
	}
	return awarded
}
