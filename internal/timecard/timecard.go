// Package timecard derives duration figures from a session's status
// interval history. All reads are pure: dashboards and streams re-invoke
// them with a fresh "now" instead of the core pushing state.
package timecard

import (
	"errors"
	"time"

	"github.com/zulandar/floorline/internal/fault"
	"github.com/zulandar/floorline/internal/models"
	"github.com/zulandar/floorline/internal/occupancy"
	"gorm.io/gorm"
)

// Interval describes the session's currently open status interval.
type Interval struct {
	EventID      uint
	Label        string
	MachineState models.MachineState
	StartedAt    time.Time
	Elapsed      time.Duration
}

// Summary buckets a session's time by machine state. Untracked is the span
// before the first status interval (a fresh session is statusless until the
// operator picks one); Setup + Production + Stoppage + Untracked always
// equals Total.
type Summary struct {
	Setup      time.Duration
	Production time.Duration
	Stoppage   time.Duration
	Untracked  time.Duration
	Total      time.Duration
	Current    *Interval
}

// Summarize computes the duration buckets for a session as of now. Open
// intervals are measured against now; a closed session measures against its
// end time.
func Summarize(db *gorm.DB, sessionID uint, now time.Time) (Summary, error) {
	var sess models.Session
	if err := db.First(&sess, sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Summary{}, fault.NotFoundf("timecard: session %d", sessionID)
		}
		return Summary{}, fault.Storef("timecard: load session %d: %v", sessionID, err)
	}

	var events []models.StatusEvent
	if err := db.Preload("StatusDefinition").
		Where("session_id = ?", sessionID).
		Order("started_at ASC").
		Find(&events).Error; err != nil {
		return Summary{}, fault.Storef("timecard: load intervals for session %d: %v", sessionID, err)
	}

	end := now
	if sess.EndedAt != nil {
		end = *sess.EndedAt
	}

	var sum Summary
	sum.Total = end.Sub(sess.StartedAt)

	for i := range events {
		e := &events[i]
		d := e.Duration(end)
		switch e.MachineState {
		case models.StateSetup:
			sum.Setup += d
		case models.StateProduction:
			sum.Production += d
		case models.StateStoppage:
			sum.Stoppage += d
		}
		if e.EndedAt == nil {
			sum.Current = &Interval{
				EventID:      e.ID,
				Label:        e.StatusDefinition.Label,
				MachineState: e.MachineState,
				StartedAt:    e.StartedAt,
				Elapsed:      d,
			}
		}
	}

	if len(events) > 0 {
		sum.Untracked = events[0].StartedAt.Sub(sess.StartedAt)
	} else {
		sum.Untracked = sum.Total
	}
	return sum, nil
}

// BoardRow is one station's live view for the dashboard.
type BoardRow struct {
	StationID       uint
	StationName     string
	Occupied        bool
	GracePeriod     bool
	WorkerID        string
	SessionID       uint
	CurrentStatus   string
	ResumeRemaining time.Duration
	Summary         *Summary
}

// StationBoard resolves occupancy and live durations for every active
// station as of a point in time.
func StationBoard(db *gorm.DB, asOf time.Time) ([]BoardRow, error) {
	var stations []models.Station
	if err := db.Where("active = ?", true).Order("name ASC").Find(&stations).Error; err != nil {
		return nil, fault.Storef("timecard: list stations: %v", err)
	}

	rows := make([]BoardRow, 0, len(stations))
	for _, st := range stations {
		row := BoardRow{StationID: st.ID, StationName: st.Name}

		occ, err := occupancy.Resolve(db, st.ID, "", asOf)
		if err != nil {
			return nil, err
		}
		if occ.SessionID != 0 {
			row.Occupied = occ.Occupied
			row.GracePeriod = occ.GracePeriod
			row.WorkerID = occ.WorkerID
			row.SessionID = occ.SessionID

			sum, err := Summarize(db, occ.SessionID, asOf)
			if err != nil {
				return nil, err
			}
			row.Summary = &sum
			if sum.Current != nil {
				row.CurrentStatus = sum.Current.Label
			}
			if occ.GracePeriod {
				var sess models.Session
				if err := db.First(&sess, occ.SessionID).Error; err == nil {
					row.ResumeRemaining = occupancy.ResumeRemaining(sess.LastSeen(), asOf)
				}
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
