package narrator

import (
	"sync"
	"time"
)

// Mood is the presenter's emotional state, sent to clients verbatim.
type Mood string

const (
	Neutral    Mood = "neutral"
	Lonely     Mood = "lonely"
	Energized  Mood = "energized"
	Irritated  Mood = "irritated"
	Frustrated Mood = "frustrated"
	Confident  Mood = "confident"
	Excited    Mood = "excited"
)

// Signals is a snapshot of everything the mood depends on.
type Signals struct {
	ChatPerMinute float64
	Compliments   float64
	Insults       float64
	FailureStreak int
	SuccessStreak int
	ToolCalls     int
	WindowEmpty   bool
	SinceChat     time.Duration
}

// Thresholds for [Classify].
type Thresholds struct {
	FrustratedFailures int
	FloodRate          float64
	BusyRate           float64
	ConfidentSuccesses int
	RapidToolCalls     int
	LonelyAfter        time.Duration
}

// DefaultThresholds returns the stock thresholds with the given rapid
// tool-call count.
func DefaultThresholds(rapid int) Thresholds {
	return Thresholds{
		FrustratedFailures: 3,
		FloodRate:          15,
		BusyRate:           6,
		ConfidentSuccesses: 5,
		RapidToolCalls:     rapid,
		LonelyAfter:        5 * time.Minute,
	}
}

// Classify maps s to a mood. Rules are ordered; the first match wins.
func ClassifyMood(s Signals, t Thresholds) Mood {
	switch {
	case s.FailureStreak >= t.FrustratedFailures:
		return Frustrated
	case s.ChatPerMinute >= t.FloodRate,
		s.ChatPerMinute >= t.BusyRate && s.Insults > s.Compliments:
		return Irritated
	case s.ChatPerMinute >= t.BusyRate:
		return Excited
	case s.SuccessStreak >= t.ConfidentSuccesses:
		return Confident
	case t.RapidToolCalls > 0 && s.ToolCalls >= t.RapidToolCalls:
		return Energized
	case s.SinceChat >= t.LonelyAfter && s.WindowEmpty:
		return Lonely
	default:
		return Neutral
	}
}

// MoodMachine remembers the current mood and reports transitions.
// It is safe for concurrent use.
type MoodMachine struct {
	mu         sync.Mutex
	current    Mood
	thresholds Thresholds
}

// NewMoodMachine starts in [Neutral].
func NewMoodMachine(t Thresholds) *MoodMachine {
	return &MoodMachine{current: Neutral, thresholds: t}
}

// Current returns the current mood.
func (m *MoodMachine) Current() Mood {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Evaluate classifies s and moves to the result. It returns the new mood,
// the previous one, and whether they differ.
func (m *MoodMachine) Evaluate(s Signals) (mood, previous Mood, changed bool) {
	next := ClassifyMood(s, m.thresholds)
	m.mu.Lock()
	defer m.mu.Unlock()
	previous = m.current
	m.current = next
	return next, previous, next != previous
}
