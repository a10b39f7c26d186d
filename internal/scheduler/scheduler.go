// Package scheduler implements the SM-2 spaced repetition update rule.
//
// The package is pure: Review has no I/O and is deterministic given the
// card, the score and the clock. Persisting the updated card is the
// caller's job.
package scheduler

import (
	"math"
	"time"

	"recallsheet/internal/models"
)

// Score is the user's self-assessed recall quality on the 0-5 SM-2 scale.
type Score int

const (
	Blackout        Score = 0 // complete blackout
	Incorrect       Score = 1 // incorrect response; the correct one remembered
	IncorrectEasy   Score = 2 // incorrect response; the correct one seemed easy to recall
	CorrectHard     Score = 3 // correct response recalled with serious difficulty
	CorrectHesitant Score = 4 // correct response after a hesitation
	Perfect         Score = 5 // perfect response

	// PassThreshold is the lowest score counted as a successful recall.
	// Anything below it resets the streak.
	PassThreshold Score = 3
)

// Labels maps each score to its display description.
var Labels = map[Score]string{
	Blackout:        "complete blackout",
	Incorrect:       "incorrect response; the correct one remembered",
	IncorrectEasy:   "incorrect response; where the correct one seemed easy to recall",
	CorrectHard:     "correct response recalled with serious difficulty",
	CorrectHesitant: "correct response after a hesitation",
	Perfect:         "perfect response",
}

// ClampScore clamps an arbitrary integer to the valid score range.
func ClampScore(n int) Score {
	if n < 0 {
		return Blackout
	}
	if n > 5 {
		return Perfect
	}
	return Score(n)
}

// MinEasiness is the hard floor for the easiness factor.
const MinEasiness = 1.3

// DefaultSecondInterval is the interval in days assigned on the second
// consecutive pass. The upstream data has seen both 4 and 6 here; 4 is what
// existing decks were scheduled with, so it stays the default and the value
// is configurable for decks that want the textbook 6.
const DefaultSecondInterval = 4.0

// Scheduler computes a card's next review state.
// The zero value is not usable; call New.
type Scheduler struct {
	now            func() time.Time
	secondInterval float64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, for tests and replays.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSecondInterval overrides the streak-2 interval in days.
func WithSecondInterval(days float64) Option {
	return func(s *Scheduler) { s.secondInterval = days }
}

// New creates a Scheduler with the real clock and default intervals.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		now:            time.Now,
		secondInterval: DefaultSecondInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Review applies one review with the given score and returns the updated
// card. The input card is not modified. The score must already be in
// [0, 5]; use ClampScore at the input boundary.
func (s *Scheduler) Review(card models.Card, score Score) models.Card {
	now := s.now()

	if score < PassThreshold {
		card.Streak = 0
	} else {
		card.Streak++
	}

	// EF' = EF + 0.1 - (5 - q) * (0.08 + (5 - q) * 0.02), floored at 1.3.
	q := float64(score)
	card.Easiness = math.Max(MinEasiness,
		card.Easiness+0.1-(5-q)*(0.08+(5-q)*0.02))

	switch card.Streak {
	case 0:
		card.Interval = 0
	case 1:
		card.Interval = 1
	case 2:
		card.Interval = s.secondInterval
	default:
		card.Interval = card.Interval * card.Easiness
	}

	if card.FirstPractice.IsZero() {
		card.FirstPractice = now
	}
	card.NextPractice = now.Add(days(card.Interval))

	return card
}

func days(d float64) time.Duration {
	return time.Duration(d * 24 * float64(time.Hour))
}
