// Package session manages the work session lifecycle and its status state
// machine. A session moves active -> {completed, forced_closed}; while
// active it carries at most one open status interval, and closing the
// current interval and opening the next is a single transaction so no crash
// can leave zero or two open intervals behind.
package session

import (
	"errors"
	"time"

	"github.com/zulandar/floorline/internal/fault"
	"github.com/zulandar/floorline/internal/gate"
	"github.com/zulandar/floorline/internal/models"
	"github.com/zulandar/floorline/internal/occupancy"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Close reasons.
const (
	ReasonCompleted = "completed"
	ReasonForced    = "forced"
)

// Open claims the station for the worker and returns the session. The
// occupancy layer decides the claim; a same-worker reclaim resumes the
// existing session. The new session starts statusless until the operator
// picks a status.
func Open(db *gorm.DB, workerID string, stationID, jobID uint, asOf time.Time) (*models.Session, error) {
	return occupancy.Claim(db, stationID, workerID, jobID, asOf)
}

// Transition closes the session's current status interval and opens a new
// one atomically. A production status requires a step binding and a passing
// first-product gate; on rejection the previous interval stays open. The
// session row is locked for the duration so two concurrent transitions
// serialize instead of both succeeding.
func Transition(db *gorm.DB, sessionID, statusDefinitionID uint, jobItemStepID *uint, asOf time.Time) (*models.StatusEvent, error) {
	var opened models.StatusEvent

	err := db.Transaction(func(tx *gorm.DB) error {
		sess, err := lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if sess.Terminal() {
			return fault.Invariantf("session: %d is closed and rejects transitions", sessionID)
		}

		var def models.StatusDefinition
		if err := tx.First(&def, statusDefinitionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fault.NotFoundf("session: status definition %d", statusDefinitionID)
			}
			return fault.Storef("session: load status definition %d: %v", statusDefinitionID, err)
		}
		if !def.MachineState.Valid() {
			return fault.Validationf("session: status definition %d carries unknown machine state %q",
				statusDefinitionID, def.MachineState)
		}

		event := models.StatusEvent{
			SessionID:          sessionID,
			StatusDefinitionID: def.ID,
			MachineState:       def.MachineState,
			StartedAt:          asOf,
		}

		if def.MachineState == models.StateProduction {
			if jobItemStepID == nil {
				return fault.Validationf("session: production status requires a job item step")
			}
			var step models.JobItemStep
			if err := tx.First(&step, *jobItemStepID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fault.NotFoundf("session: step %d", *jobItemStepID)
				}
				return fault.Storef("session: load step %d: %v", *jobItemStepID, err)
			}
			if step.StationID != sess.StationID {
				return fault.Validationf("session: step %d is bound to station %d, session %d is at station %d",
					step.ID, step.StationID, sessionID, sess.StationID)
			}
			var item models.JobItem
			if err := tx.First(&item, step.JobItemID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fault.NotFoundf("session: job item %d", step.JobItemID)
				}
				return fault.Storef("session: load job item %d: %v", step.JobItemID, err)
			}
			if item.JobID != sess.JobID {
				return fault.Validationf("session: job item %d belongs to job %d, session %d works job %d",
					item.ID, item.JobID, sessionID, sess.JobID)
			}
			g, err := gate.Check(tx, step.ID)
			if err != nil {
				return err
			}
			if !g.Passed() {
				return fault.Invariantf("session: step %d requires first-product approval (status %s)", step.ID, g.Status)
			}
			event.JobItemStepID = jobItemStepID
			event.JobItemID = &step.JobItemID
		}

		if err := closeOpenEvent(tx, sessionID, asOf); err != nil {
			return err
		}
		if err := tx.Create(&event).Error; err != nil {
			return fault.Storef("session: open status interval: %v", err)
		}
		if err := tx.Model(&models.Session{}).Where("id = ?", sessionID).
			Update("current_status_event_id", event.ID).Error; err != nil {
			return fault.Storef("session: point at current interval: %v", err)
		}
		opened = event
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &opened, nil
}

// Close ends a session, closing its open status interval if one exists.
// ReasonForced additionally stamps ForcedClosedAt (administrative override
// or abandonment sweep). Closing a session that is already terminal fails.
func Close(db *gorm.DB, sessionID uint, reason string, asOf time.Time) error {
	if reason != ReasonCompleted && reason != ReasonForced {
		return fault.Validationf("session: unknown close reason %q", reason)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		sess, err := lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if sess.Terminal() {
			return fault.Invariantf("session: %d is already closed", sessionID)
		}

		if err := closeOpenEvent(tx, sessionID, asOf); err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":                  models.SessionCompleted,
			"ended_at":                asOf,
			"active_station_id":       nil,
			"current_status_event_id": nil,
		}
		if reason == ReasonForced {
			updates["status"] = models.SessionForcedClosed
			updates["forced_closed_at"] = asOf
		}
		if err := tx.Model(&models.Session{}).Where("id = ?", sessionID).
			Updates(updates).Error; err != nil {
			return fault.Storef("session: close %d: %v", sessionID, err)
		}
		return nil
	})
}

// ForceClose is the administrative override path: it terminates a session
// regardless of operator action, through the same transactional close.
func ForceClose(db *gorm.DB, sessionID uint, asOf time.Time) error {
	return Close(db, sessionID, ReasonForced, asOf)
}

// lockSession loads a session under a row lock.
func lockSession(tx *gorm.DB, sessionID uint) (*models.Session, error) {
	var sess models.Session
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sess, sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fault.NotFoundf("session: %d", sessionID)
	}
	if err != nil {
		return nil, fault.Storef("session: load %d: %v", sessionID, err)
	}
	return &sess, nil
}

// closeOpenEvent stamps EndedAt on the session's open interval, if any.
func closeOpenEvent(tx *gorm.DB, sessionID uint, asOf time.Time) error {
	err := tx.Model(&models.StatusEvent{}).
		Where("session_id = ? AND ended_at IS NULL", sessionID).
		Update("ended_at", asOf).Error
	if err != nil {
		return fault.Storef("session: close open interval: %v", err)
	}
	return nil
}
