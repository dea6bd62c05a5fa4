package dashboard

import (
	"time"

	"github.com/zulandar/floorline/internal/models"
	"github.com/zulandar/floorline/internal/timecard"
	"gorm.io/gorm"
)

// StationRow is one station's live state for the board.
type StationRow struct {
	StationID          uint    `json:"station_id"`
	StationName        string  `json:"station_name"`
	Occupied           bool    `json:"occupied"`
	GracePeriod        bool    `json:"grace_period"`
	WorkerID           string  `json:"worker_id,omitempty"`
	SessionID          uint    `json:"session_id,omitempty"`
	CurrentStatus      string  `json:"current_status,omitempty"`
	SetupSeconds       float64 `json:"setup_seconds"`
	ProductionSeconds  float64 `json:"production_seconds"`
	StoppageSeconds    float64 `json:"stoppage_seconds"`
	TotalSeconds       float64 `json:"total_seconds"`
	ResumeRemainingSec float64 `json:"resume_remaining_seconds,omitempty"`
}

// WipRow is one step's ledger state for the board.
type WipRow struct {
	JobItemID     uint   `json:"job_item_id"`
	JobItemName   string `json:"job_item_name"`
	StepID        uint   `json:"step_id"`
	Position      int    `json:"position"`
	Terminal      bool   `json:"terminal"`
	StationName   string `json:"station_name"`
	GoodAvailable int    `json:"good_available"`
	Planned       int    `json:"planned_quantity"`
	CompletedGood int    `json:"completed_good"`
}

// Snapshot is the full recomputed board.
type Snapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Stations    []StationRow `json:"stations"`
	Wip         []WipRow     `json:"wip"`
}

// BoardSnapshot re-derives the whole board from authoritative state.
func BoardSnapshot(db *gorm.DB) (*Snapshot, error) {
	now := time.Now()

	board, err := timecard.StationBoard(db, now)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{GeneratedAt: now}
	for _, row := range board {
		sr := StationRow{
			StationID:   row.StationID,
			StationName: row.StationName,
			Occupied:    row.Occupied,
			GracePeriod: row.GracePeriod,
			WorkerID:    row.WorkerID,
			SessionID:   row.SessionID,
		}
		if row.Summary != nil {
			sr.CurrentStatus = row.CurrentStatus
			sr.SetupSeconds = row.Summary.Setup.Seconds()
			sr.ProductionSeconds = row.Summary.Production.Seconds()
			sr.StoppageSeconds = row.Summary.Stoppage.Seconds()
			sr.TotalSeconds = row.Summary.Total.Seconds()
			sr.ResumeRemainingSec = row.ResumeRemaining.Seconds()
		}
		snap.Stations = append(snap.Stations, sr)
	}

	wip, err := wipRows(db)
	if err != nil {
		return nil, err
	}
	snap.Wip = wip
	return snap, nil
}

// wipRows lists every pipeline step of active job items with its balance
// and completed count.
func wipRows(db *gorm.DB) ([]WipRow, error) {
	var steps []models.JobItemStep
	if err := db.Preload("Station").
		Joins("JOIN job_items ON job_items.id = job_item_steps.job_item_id AND job_items.active = ?", true).
		Order("job_item_steps.job_item_id ASC, job_item_steps.position ASC").
		Find(&steps).Error; err != nil {
		return nil, err
	}

	var rows []WipRow
	for _, step := range steps {
		var item models.JobItem
		if err := db.First(&item, step.JobItemID).Error; err != nil {
			return nil, err
		}
		var bal models.WipBalance
		if err := db.First(&bal, "job_item_step_id = ?", step.ID).Error; err != nil {
			return nil, err
		}
		var completed int
		if err := db.Model(&models.StatusEvent{}).
			Where("job_item_step_id = ?", step.ID).
			Select("COALESCE(SUM(quantity_good), 0)").
			Scan(&completed).Error; err != nil {
			return nil, err
		}
		rows = append(rows, WipRow{
			JobItemID:     item.ID,
			JobItemName:   item.Name,
			StepID:        step.ID,
			Position:      step.Position,
			Terminal:      step.Terminal,
			StationName:   step.Station.Name,
			GoodAvailable: bal.GoodAvailable,
			Planned:       item.PlannedQuantity,
			CompletedGood: completed,
		})
	}
	return rows, nil
}
