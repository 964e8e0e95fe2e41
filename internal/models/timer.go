package models

import "time"

// TimerState is the admin-controlled countdown gating note submission.
// It is deliberately ephemeral: a server restart always resets it to
// inactive, since an activity window has no meaning across meetings.
type TimerState struct {
	IsActive  bool   `json:"isActive"`
	EndTime   int64  `json:"endTime"` // unix millis, 0 when inactive
	StartedBy string `json:"startedBy,omitempty"`
}

// CanAddNotes reports whether new notes may be submitted at the given
// time. Derived from IsActive and EndTime, never stored separately.
func (t TimerState) CanAddNotes(now time.Time) bool {
	return t.IsActive && t.EndTime > 0 && now.UnixMilli() < t.EndTime
}
