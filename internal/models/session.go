package models

import "time"

// Session lifecycle states.
const (
	SessionActive       = "active"
	SessionCompleted    = "completed"
	SessionForcedClosed = "forced_closed"
)

// Session is one operator's open work period at a station. ActiveStationID
// mirrors StationID while the session is active and is cleared on close; its
// unique index is the store-level guarantee that a station has at most one
// active session, so the loser of a claim race gets a duplicate-key error
// instead of a second row.
type Session struct {
	ID                   uint   `gorm:"primaryKey;autoIncrement"`
	WorkerID             string `gorm:"size:64;not null;index"`
	StationID            uint   `gorm:"not null;index"`
	JobID                uint   `gorm:"not null;index"`
	Status               string `gorm:"size:16;default:active;index"`
	ActiveStationID      *uint  `gorm:"uniqueIndex"`
	StartedAt            time.Time
	EndedAt              *time.Time
	ForcedClosedAt       *time.Time
	LastSeenAt           *time.Time `gorm:"index"`
	CurrentStatusEventID *uint

	Events []StatusEvent `gorm:"foreignKey:SessionID"`
}

// Terminal reports whether the session can accept no further transitions.
// Status is authoritative; the timestamps are checked as well so a row
// mid-close can never read as live.
func (s *Session) Terminal() bool {
	return s.Status != SessionActive || s.EndedAt != nil || s.ForcedClosedAt != nil
}

// LastSeen returns the heartbeat timestamp, falling back to the session
// start for sessions that never heartbeat.
func (s *Session) LastSeen() time.Time {
	if s.LastSeenAt != nil {
		return *s.LastSeenAt
	}
	return s.StartedAt
}

// StatusEvent is one interval of a session being in a given status. Per
// session the intervals are non-overlapping and ordered by StartedAt, and at
// most one has a nil EndedAt (the current interval of an open session).
// MachineState is stamped from the definition at creation so later edits to
// a definition never rewrite accounting history. Quantity counters accumulate
// on production intervals bound to a job item step.
type StatusEvent struct {
	ID                 uint         `gorm:"primaryKey;autoIncrement"`
	SessionID          uint         `gorm:"not null;index"`
	StatusDefinitionID uint         `gorm:"not null"`
	MachineState       MachineState `gorm:"size:16;not null"`
	JobItemID          *uint        `gorm:"index"`
	JobItemStepID      *uint        `gorm:"index"`
	StartedAt          time.Time    `gorm:"not null;index"`
	EndedAt            *time.Time
	QuantityGood       int `gorm:"not null;default:0"`
	QuantityScrap      int `gorm:"not null;default:0"`

	StatusDefinition StatusDefinition `gorm:"foreignKey:StatusDefinitionID"`
}

// Duration returns the interval length, measuring still-open intervals
// against now.
func (e *StatusEvent) Duration(now time.Time) time.Duration {
	end := now
	if e.EndedAt != nil {
		end = *e.EndedAt
	}
	return end.Sub(e.StartedAt)
}
