// Package occupancy decides who holds a station. A station is held by its
// single active session; liveness comes from the session heartbeat and is
// evaluated lazily at read and claim time, never by a background timer.
package occupancy

import (
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/zulandar/floorline/internal/fault"
	"github.com/zulandar/floorline/internal/models"
	"gorm.io/gorm"
)

const (
	// HeartbeatGrace is how long a missed heartbeat is tolerated before
	// the occupant is flagged as possibly abandoned. The station stays
	// blocked; grace only changes how the occupancy reads.
	HeartbeatGrace = 30 * time.Second

	// ResumeWindow is the user-facing back-navigation countdown built on
	// the same heartbeat data. It is not a second timer: dashboards show
	// it, the claim decision never consults it.
	ResumeWindow = 5 * time.Minute
)

// State describes a station's occupancy as of a point in time.
type State struct {
	Occupied    bool
	GracePeriod bool
	WorkerID    string
	SessionID   uint
}

// Resolve reports the occupancy of a station as seen by viewerWorkerID.
// The occupant's own view reads Occupied=false so an operator can resume
// their session; SessionID still points at it.
func Resolve(db *gorm.DB, stationID uint, viewerWorkerID string, asOf time.Time) (State, error) {
	sess, err := activeSession(db, stationID)
	if err != nil {
		return State{}, err
	}
	if sess == nil {
		return State{}, nil
	}

	st := State{
		Occupied:    true,
		GracePeriod: asOf.Sub(sess.LastSeen()) > HeartbeatGrace,
		WorkerID:    sess.WorkerID,
		SessionID:   sess.ID,
	}
	if viewerWorkerID != "" && viewerWorkerID == sess.WorkerID {
		st.Occupied = false
	}
	return st, nil
}

// ResumeRemaining returns how much of the resume window is left for a
// session last seen at lastSeen, clamped at zero.
func ResumeRemaining(lastSeen, asOf time.Time) time.Duration {
	left := ResumeWindow - asOf.Sub(lastSeen)
	if left < 0 {
		return 0
	}
	return left
}

// Claim attempts to claim a station for a worker. If the worker already
// holds the only active session on the station, that session is returned
// (idempotent resume) with its heartbeat refreshed. A claim against another
// worker's active session fails with a conflict even inside the grace
// period; releasing an abandoned claim is an administrative action.
func Claim(db *gorm.DB, stationID uint, workerID string, jobID uint, asOf time.Time) (*models.Session, error) {
	if workerID == "" {
		return nil, fault.Validationf("occupancy: workerID is required")
	}

	var claimed *models.Session

	err := db.Transaction(func(tx *gorm.DB) error {
		var station models.Station
		if err := tx.First(&station, stationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fault.NotFoundf("occupancy: station %d", stationID)
			}
			return fault.Storef("occupancy: load station %d: %v", stationID, err)
		}

		existing, err := activeSession(tx, stationID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.WorkerID == workerID {
				// Same worker reclaiming: resume, refresh heartbeat.
				if err := tx.Model(existing).Update("last_seen_at", asOf).Error; err != nil {
					return fault.Storef("occupancy: refresh heartbeat %d: %v", existing.ID, err)
				}
				seen := asOf
				existing.LastSeenAt = &seen
				claimed = existing
				return nil
			}
			grace := asOf.Sub(existing.LastSeen()) > HeartbeatGrace
			return fault.Conflictf("occupancy: station %d held by %q (grace=%v)", stationID, existing.WorkerID, grace)
		}

		active := stationID
		sess := models.Session{
			WorkerID:        workerID,
			StationID:       stationID,
			JobID:           jobID,
			Status:          models.SessionActive,
			ActiveStationID: &active,
			StartedAt:       asOf,
		}
		seen := asOf
		sess.LastSeenAt = &seen
		if err := tx.Create(&sess).Error; err != nil {
			if isDuplicateKey(err) {
				// Lost the insert race on the active-station unique index.
				return fault.Conflictf("occupancy: station %d claimed concurrently", stationID)
			}
			return fault.Storef("occupancy: create session: %v", err)
		}
		claimed = &sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Heartbeat refreshes the last-seen timestamp of an active session.
// Failing to heartbeat for longer than HeartbeatGrace is the only signal
// used to treat a session as abandoned.
func Heartbeat(db *gorm.DB, sessionID uint, asOf time.Time) error {
	result := db.Model(&models.Session{}).
		Where("id = ? AND status = ?", sessionID, models.SessionActive).
		Update("last_seen_at", asOf)
	if result.Error != nil {
		return fault.Storef("occupancy: heartbeat %d: %v", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.NotFoundf("occupancy: heartbeat %d: no active session", sessionID)
	}
	return nil
}

// activeSession returns the station's active session, or nil when free.
func activeSession(db *gorm.DB, stationID uint) (*models.Session, error) {
	var sess models.Session
	err := db.Where("active_station_id = ?", stationID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Storef("occupancy: load active session for station %d: %v", stationID, err)
	}
	return &sess, nil
}

// isDuplicateKey recognizes a unique-index violation from either the GORM
// error translator or the raw MySQL driver (error 1062).
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	return false
}
