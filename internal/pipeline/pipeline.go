// Package pipeline maintains the ordered step list per job item and the
// work-in-progress balance at each step. Progress is per-step: two stations
// working the same job item each see only their own step's counters, and
// only the terminal step's counter gates "job item done".
package pipeline

import (
	"errors"

	"github.com/zulandar/floorline/internal/fault"
	"github.com/zulandar/floorline/internal/models"
	"gorm.io/gorm"
)

// StepSpec describes one pipeline step at creation time.
type StepSpec struct {
	StationID        uint
	RequiresApproval bool
}

// CreateItem creates a job item together with its pipeline: steps at
// positions 1..n (the last one terminal), a zeroed balance row per step and
// the job-item progress row. The whole creation is one transaction; any
// failure, including an unknown station partway through the list, leaves
// zero rows.
func CreateItem(db *gorm.DB, jobID uint, name string, plannedQuantity int, steps []StepSpec) (*models.JobItem, error) {
	if name == "" {
		return nil, fault.Validationf("pipeline: job item name is required")
	}
	if plannedQuantity <= 0 {
		return nil, fault.Validationf("pipeline: planned quantity must be positive, got %d", plannedQuantity)
	}
	if len(steps) == 0 {
		return nil, fault.Validationf("pipeline: at least one step is required")
	}

	var item models.JobItem

	err := db.Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.First(&job, jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fault.NotFoundf("pipeline: job %d", jobID)
			}
			return fault.Storef("pipeline: load job %d: %v", jobID, err)
		}

		item = models.JobItem{
			JobID:           jobID,
			Name:            name,
			PlannedQuantity: plannedQuantity,
			Active:          true,
		}
		if err := tx.Create(&item).Error; err != nil {
			return fault.Storef("pipeline: create job item: %v", err)
		}

		for i, spec := range steps {
			var station models.Station
			if err := tx.First(&station, spec.StationID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fault.Validationf("pipeline: step %d references unknown station %d", i+1, spec.StationID)
				}
				return fault.Storef("pipeline: load station %d: %v", spec.StationID, err)
			}

			step := models.JobItemStep{
				JobItemID:            item.ID,
				StationID:            spec.StationID,
				Position:             i + 1,
				Terminal:             i == len(steps)-1,
				RequiresFirstProduct: spec.RequiresApproval,
			}
			if err := tx.Create(&step).Error; err != nil {
				return fault.Storef("pipeline: create step %d: %v", i+1, err)
			}
			if err := tx.Create(&models.WipBalance{JobItemStepID: step.ID}).Error; err != nil {
				return fault.Storef("pipeline: create balance for step %d: %v", step.ID, err)
			}
			item.Steps = append(item.Steps, step)
		}

		if err := tx.Create(&models.JobItemProgress{JobItemID: item.ID}).Error; err != nil {
			return fault.Storef("pipeline: create progress row: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Availability is one pickable (job item, step) pair at a station.
type Availability struct {
	Item          models.JobItem
	Step          models.JobItemStep
	CompletedGood int
	Remaining     int
}

// AvailableItems lists job items still workable at a station. A step is
// available while its own completed count is below the item's planned
// quantity; fully completed steps drop out of the pick list.
func AvailableItems(db *gorm.DB, stationID uint) ([]Availability, error) {
	var steps []models.JobItemStep
	if err := db.Where("station_id = ?", stationID).Order("job_item_id ASC, position ASC").
		Find(&steps).Error; err != nil {
		return nil, fault.Storef("pipeline: list steps for station %d: %v", stationID, err)
	}

	var out []Availability
	for _, step := range steps {
		var item models.JobItem
		if err := db.First(&item, step.JobItemID).Error; err != nil {
			return nil, fault.Storef("pipeline: load job item %d: %v", step.JobItemID, err)
		}
		if !item.Active {
			continue
		}
		completed, err := stepCompleted(db, step.ID)
		if err != nil {
			return nil, err
		}
		if completed >= item.PlannedQuantity {
			continue
		}
		out = append(out, Availability{
			Item:          item,
			Step:          step,
			CompletedGood: completed,
			Remaining:     item.PlannedQuantity - completed,
		})
	}
	return out, nil
}

// UpstreamBalance returns the balance feeding the step at the given
// position, i.e. the balance row of position-1. Nil for position 1: the
// first step has no upstream gate, raw material is assumed available.
func UpstreamBalance(db *gorm.DB, jobItemID uint, position int) (*models.WipBalance, error) {
	if position <= 1 {
		return nil, nil
	}
	upstream, err := stepAt(db, jobItemID, position-1)
	if err != nil {
		return nil, err
	}
	var bal models.WipBalance
	if err := db.First(&bal, "job_item_step_id = ?", upstream.ID).Error; err != nil {
		return nil, fault.Storef("pipeline: load balance for step %d: %v", upstream.ID, err)
	}
	return &bal, nil
}

// RemoveStep deletes a pipeline step. Only the terminal step may be removed
// so positions stay contiguous, and never while its balance is nonzero, an
// active session references it, or it is the item's only step. The
// predecessor becomes the new terminal step.
func RemoveStep(db *gorm.DB, stepID uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var step models.JobItemStep
		if err := tx.First(&step, stepID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fault.NotFoundf("pipeline: step %d", stepID)
			}
			return fault.Storef("pipeline: load step %d: %v", stepID, err)
		}
		if !step.Terminal {
			return fault.Invariantf("pipeline: step %d is not terminal, removal would break position order", stepID)
		}
		if step.Position == 1 {
			return fault.Invariantf("pipeline: step %d is the only step of job item %d", stepID, step.JobItemID)
		}

		var bal models.WipBalance
		if err := tx.First(&bal, "job_item_step_id = ?", stepID).Error; err != nil {
			return fault.Storef("pipeline: load balance for step %d: %v", stepID, err)
		}
		if bal.GoodAvailable != 0 {
			return fault.Invariantf("pipeline: step %d has %d unconsumed units", stepID, bal.GoodAvailable)
		}

		var open int64
		if err := tx.Model(&models.StatusEvent{}).
			Joins("JOIN sessions ON sessions.id = status_events.session_id").
			Where("status_events.job_item_step_id = ? AND sessions.status = ?", stepID, models.SessionActive).
			Count(&open).Error; err != nil {
			return fault.Storef("pipeline: count active references to step %d: %v", stepID, err)
		}
		if open > 0 {
			return fault.Invariantf("pipeline: step %d is referenced by an active session", stepID)
		}

		if err := tx.Delete(&models.WipBalance{}, "job_item_step_id = ?", stepID).Error; err != nil {
			return fault.Storef("pipeline: delete balance for step %d: %v", stepID, err)
		}
		if err := tx.Delete(&models.JobItemStep{}, stepID).Error; err != nil {
			return fault.Storef("pipeline: delete step %d: %v", stepID, err)
		}

		// Promote the predecessor to terminal.
		result := tx.Model(&models.JobItemStep{}).
			Where("job_item_id = ? AND position = ?", step.JobItemID, step.Position-1).
			Update("terminal", true)
		if result.Error != nil {
			return fault.Storef("pipeline: promote terminal step: %v", result.Error)
		}
		if result.RowsAffected == 0 {
			return fault.Invariantf("pipeline: job item %d has no step at position %d", step.JobItemID, step.Position-1)
		}
		return nil
	})
}

// stepAt loads the step of a job item at a position.
func stepAt(db *gorm.DB, jobItemID uint, position int) (*models.JobItemStep, error) {
	var step models.JobItemStep
	err := db.Where("job_item_id = ? AND position = ?", jobItemID, position).First(&step).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fault.NotFoundf("pipeline: job item %d has no step at position %d", jobItemID, position)
	}
	if err != nil {
		return nil, fault.Storef("pipeline: load step at position %d: %v", position, err)
	}
	return &step, nil
}

// stepCompleted sums the good quantity of every status event bound to the
// step. This sum is the canonical completed count; balance rows and the
// job-item progress counter are caches reconciled against it.
func stepCompleted(db *gorm.DB, stepID uint) (int, error) {
	var total int
	err := db.Model(&models.StatusEvent{}).
		Where("job_item_step_id = ?", stepID).
		Select("COALESCE(SUM(quantity_good), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fault.Storef("pipeline: sum completed for step %d: %v", stepID, err)
	}
	return total, nil
}
