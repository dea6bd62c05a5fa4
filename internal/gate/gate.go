// Package gate implements the first-product approval gate. Steps flagged as
// requiring approval block production intervals until a sign-off exists for
// the (job item, step) pair; once approved the result is permanent and every
// later session at the step passes without re-checking.
package gate

import (
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/zulandar/floorline/internal/fault"
	"github.com/zulandar/floorline/internal/models"
	"gorm.io/gorm"
)

// Gate status values.
const (
	StatusNone            = "none"
	StatusNeedsSubmission = "needs_submission"
	StatusPending         = "pending"
	StatusApproved        = "approved"
)

// Gate is the outcome of a gate check.
type Gate struct {
	Required bool
	Status   string
}

// Passed reports whether a production interval may open at the step.
func (g Gate) Passed() bool {
	return !g.Required || g.Status == StatusApproved
}

// Check evaluates the gate for a step. It runs synchronously inside status
// transitions as a precondition; it never mutates state.
func Check(db *gorm.DB, jobItemStepID uint) (Gate, error) {
	var step models.JobItemStep
	if err := db.First(&step, jobItemStepID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Gate{}, fault.NotFoundf("gate: step %d", jobItemStepID)
		}
		return Gate{}, fault.Storef("gate: load step %d: %v", jobItemStepID, err)
	}
	if !step.RequiresFirstProduct {
		return Gate{Required: false, Status: StatusNone}, nil
	}

	var approval models.FirstProductApproval
	err := db.Where("job_item_step_id = ?", jobItemStepID).First(&approval).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Gate{Required: true, Status: StatusNeedsSubmission}, nil
	}
	if err != nil {
		return Gate{}, fault.Storef("gate: load approval for step %d: %v", jobItemStepID, err)
	}
	if approval.Outcome == models.ApprovalApproved {
		return Gate{Required: true, Status: StatusApproved}, nil
	}
	return Gate{Required: true, Status: StatusPending}, nil
}

// Submit files a pending approval for a step from a session. A step that
// already has a pending or approved record rejects a second submission.
func Submit(db *gorm.DB, jobItemStepID, sessionID uint, evidence string) (*models.FirstProductApproval, error) {
	var approval models.FirstProductApproval

	err := db.Transaction(func(tx *gorm.DB) error {
		g, err := Check(tx, jobItemStepID)
		if err != nil {
			return err
		}
		if !g.Required {
			return fault.Validationf("gate: step %d does not require first-product approval", jobItemStepID)
		}
		if g.Status != StatusNeedsSubmission {
			return fault.Invariantf("gate: step %d already has a %s approval", jobItemStepID, g.Status)
		}

		approval = models.FirstProductApproval{
			JobItemStepID: jobItemStepID,
			SessionID:     sessionID,
			Outcome:       models.ApprovalPending,
			Evidence:      evidence,
		}
		if err := tx.Create(&approval).Error; err != nil {
			if isDuplicateKey(err) {
				// Lost the insert race on the step's unique index.
				return fault.Conflictf("gate: step %d approval submitted concurrently", jobItemStepID)
			}
			return fault.Storef("gate: create approval: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &approval, nil
}

// Approve flips a pending approval to approved. This is the administrative
// sign-off; the API layer guards who may call it.
func Approve(db *gorm.DB, jobItemStepID uint, approvedBy string) error {
	now := time.Now()
	result := db.Model(&models.FirstProductApproval{}).
		Where("job_item_step_id = ? AND outcome = ?", jobItemStepID, models.ApprovalPending).
		Updates(map[string]interface{}{
			"outcome":     models.ApprovalApproved,
			"approved_by": approvedBy,
			"approved_at": now,
		})
	if result.Error != nil {
		return fault.Storef("gate: approve step %d: %v", jobItemStepID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.NotFoundf("gate: no pending approval for step %d", jobItemStepID)
	}
	return nil
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
