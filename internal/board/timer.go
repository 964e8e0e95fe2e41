package board

import (
	"fmt"
	"time"

	"github.com/starford/stormboard/internal/models"
)

// Timer coordinates the single admin-controlled countdown gating note
// submission. The state is intentionally never persisted: an activity
// window is scoped to one meeting, so a server restart resets it.
//
// Expiry is cooperative. The server never auto-transitions to inactive
// when the end time passes; readers derive CanAddNotes from the clock
// and an admin must explicitly end or extend.
//
// Timer is not safe for concurrent use; the engine serializes access.
type Timer struct {
	state models.TimerState
	now   func() time.Time
}

// NewTimer returns an inactive timer using the real clock.
func NewTimer() *Timer {
	return &Timer{now: time.Now}
}

// Start activates the countdown for the given number of minutes.
// Only valid while inactive.
func (t *Timer) Start(minutes int, startedBy string) (models.TimerState, error) {
	if t.state.IsActive {
		return t.state, fmt.Errorf("timer already active")
	}
	if minutes <= 0 {
		return t.state, fmt.Errorf("minutes must be positive, got %d", minutes)
	}
	t.state = models.TimerState{
		IsActive:  true,
		EndTime:   t.now().Add(time.Duration(minutes) * time.Minute).UnixMilli(),
		StartedBy: startedBy,
	}
	return t.state, nil
}

// Extend adds minutes to the existing end time. It does not reset the
// window to now+minutes. Only valid while active.
func (t *Timer) Extend(minutes int) (models.TimerState, error) {
	if !t.state.IsActive {
		return t.state, fmt.Errorf("timer not active")
	}
	if minutes <= 0 {
		return t.state, fmt.Errorf("minutes must be positive, got %d", minutes)
	}
	t.state.EndTime += (time.Duration(minutes) * time.Minute).Milliseconds()
	return t.state, nil
}

// End forces the timer inactive. Valid in any state.
func (t *Timer) End() models.TimerState {
	t.state = models.TimerState{}
	return t.state
}

// State returns the current timer snapshot.
func (t *Timer) State() models.TimerState {
	return t.state
}

// CanAddNotes reports whether note submission is currently allowed.
func (t *Timer) CanAddNotes() bool {
	return t.state.CanAddNotes(t.now())
}
