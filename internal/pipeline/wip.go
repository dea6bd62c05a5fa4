package pipeline

import (
	"errors"
	"time"

	"github.com/zulandar/floorline/internal/fault"
	"github.com/zulandar/floorline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReportProduction records goodDelta/scrapDelta against the session's open
// production interval at the given step and moves the good units through the
// ledger: the step's own balance grows by goodDelta, the upstream balance
// shrinks by it (units consumed as input), and for the terminal step the
// job-item progress counter grows instead of a downstream balance.
//
// goodDelta may be negative (correcting an over-report) but the flow
// invariant completed(step) >= completed(next step) must hold after the
// change: units already pulled into the next station's pool cannot be taken
// back. Symmetrically a positive delta may not exceed what the upstream step
// has completed. The whole check-and-apply runs in one transaction with the
// session row locked, so two concurrent reports cannot both pass a stale
// check.
func ReportProduction(db *gorm.DB, sessionID, stepID uint, goodDelta, scrapDelta int) (*models.WipBalance, error) {
	if goodDelta == 0 && scrapDelta == 0 {
		return nil, fault.Validationf("pipeline: report with zero deltas")
	}

	var updated models.WipBalance

	err := db.Transaction(func(tx *gorm.DB) error {
		var sess models.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&sess, sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fault.NotFoundf("pipeline: session %d", sessionID)
			}
			return fault.Storef("pipeline: load session %d: %v", sessionID, err)
		}
		if sess.Terminal() {
			return fault.Invariantf("pipeline: session %d is closed", sessionID)
		}

		var step models.JobItemStep
		if err := tx.First(&step, stepID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fault.NotFoundf("pipeline: step %d", stepID)
			}
			return fault.Storef("pipeline: load step %d: %v", stepID, err)
		}

		// All reports on the same pipeline serialize on the job item row.
		// The flow checks below compare cross-step sums; two sessions on
		// adjacent steps hold different session rows, so without this lock
		// both could pass a stale check and commit an inconsistent flow.
		var item models.JobItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&item, step.JobItemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fault.NotFoundf("pipeline: job item %d", step.JobItemID)
			}
			return fault.Storef("pipeline: load job item %d: %v", step.JobItemID, err)
		}

		var event models.StatusEvent
		err := tx.Where("session_id = ? AND job_item_step_id = ? AND machine_state = ? AND ended_at IS NULL",
			sessionID, stepID, models.StateProduction).First(&event).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fault.Invariantf("pipeline: session %d has no open production interval at step %d", sessionID, stepID)
		}
		if err != nil {
			return fault.Storef("pipeline: load open production interval: %v", err)
		}

		newGood := event.QuantityGood + goodDelta
		newScrap := event.QuantityScrap + scrapDelta
		if newGood < 0 || newScrap < 0 {
			return fault.Validationf("pipeline: interval counters cannot go negative (good %d, scrap %d)", newGood, newScrap)
		}

		completed, err := stepCompleted(tx, stepID)
		if err != nil {
			return err
		}
		completed += goodDelta
		if completed < 0 {
			return fault.Invariantf("pipeline: completed count for step %d would go negative", stepID)
		}

		if goodDelta < 0 && !step.Terminal {
			next, err := stepAt(tx, step.JobItemID, step.Position+1)
			if err != nil {
				return err
			}
			consumed, err := stepCompleted(tx, next.ID)
			if err != nil {
				return err
			}
			if completed < consumed {
				return fault.Invariantf("pipeline: step %d completed %d would drop below %d already consumed downstream",
					stepID, completed, consumed)
			}
		}

		var upstream *models.JobItemStep
		if goodDelta > 0 && step.Position > 1 {
			up, err := stepAt(tx, step.JobItemID, step.Position-1)
			if err != nil {
				return err
			}
			upstreamCompleted, err := stepCompleted(tx, up.ID)
			if err != nil {
				return err
			}
			if completed > upstreamCompleted {
				return fault.Invariantf("pipeline: step %d would consume %d units but upstream step completed only %d",
					stepID, completed, upstreamCompleted)
			}
			upstream = up
		} else if goodDelta < 0 && step.Position > 1 {
			// Returning units frees them back into the upstream pool.
			up, err := stepAt(tx, step.JobItemID, step.Position-1)
			if err != nil {
				return err
			}
			upstream = up
		}

		if err := tx.Model(&event).Updates(map[string]interface{}{
			"quantity_good":  newGood,
			"quantity_scrap": newScrap,
		}).Error; err != nil {
			return fault.Storef("pipeline: update interval counters: %v", err)
		}

		if goodDelta != 0 {
			if err := adjustBalance(tx, stepID, goodDelta); err != nil {
				return err
			}
			if upstream != nil {
				if err := adjustBalance(tx, upstream.ID, -goodDelta); err != nil {
					return err
				}
			}
			if step.Terminal {
				result := tx.Model(&models.JobItemProgress{}).
					Where("job_item_id = ?", step.JobItemID).
					Updates(map[string]interface{}{
						"completed_good": gorm.Expr("completed_good + ?", goodDelta),
						"updated_at":     time.Now(),
					})
				if result.Error != nil {
					return fault.Storef("pipeline: update job item progress: %v", result.Error)
				}
				if result.RowsAffected == 0 {
					return fault.NotFoundf("pipeline: progress row for job item %d", step.JobItemID)
				}
			}
		}

		if err := tx.First(&updated, "job_item_step_id = ?", stepID).Error; err != nil {
			return fault.Storef("pipeline: reload balance for step %d: %v", stepID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// adjustBalance applies a delta to a step's balance row.
func adjustBalance(tx *gorm.DB, stepID uint, delta int) error {
	result := tx.Model(&models.WipBalance{}).
		Where("job_item_step_id = ?", stepID).
		Updates(map[string]interface{}{
			"good_available": gorm.Expr("good_available + ?", delta),
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return fault.Storef("pipeline: adjust balance for step %d: %v", stepID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.NotFoundf("pipeline: balance row for step %d", stepID)
	}
	return nil
}
