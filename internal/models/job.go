package models

import "time"

// Job is a production order grouping one or more job items.
type Job struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:256;not null"`
	Active    bool   `gorm:"default:true;index"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Items []JobItem `gorm:"foreignKey:JobID"`
}

// JobItem is one product line within a job. It owns an ordered pipeline of
// station-bound steps; PlannedQuantity is the good-unit target at the
// terminal step.
type JobItem struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	JobID           uint   `gorm:"not null;index"`
	Name            string `gorm:"size:256;not null"`
	PlannedQuantity int    `gorm:"not null"`
	Active          bool   `gorm:"default:true;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Steps    []JobItemStep    `gorm:"foreignKey:JobItemID"`
	Progress *JobItemProgress `gorm:"foreignKey:JobItemID"`
}

// JobItemStep binds a job item to a station at a 1-based position. Positions
// are contiguous per job item; Terminal is true only for the highest
// position and is kept consistent with it on every pipeline mutation.
type JobItemStep struct {
	ID                   uint `gorm:"primaryKey;autoIncrement"`
	JobItemID            uint `gorm:"not null;uniqueIndex:idx_item_position"`
	StationID            uint `gorm:"not null;index"`
	Position             int  `gorm:"not null;uniqueIndex:idx_item_position"`
	Terminal             bool `gorm:"default:false"`
	RequiresFirstProduct bool `gorm:"default:false"`
	CreatedAt            time.Time

	Station Station `gorm:"foreignKey:StationID"`
}

// WipBalance holds, per step, the good units completed at the step and not
// yet consumed by the immediately downstream step. For the terminal step
// consumption means being counted toward the job item's completed total.
type WipBalance struct {
	JobItemStepID uint `gorm:"primaryKey"`
	GoodAvailable int  `gorm:"not null;default:0"`
	UpdatedAt     time.Time
}

// JobItemProgress is the job-item-level completed counter fed by terminal
// step reports. It is a derived rollup; the per-step status event sums stay
// canonical and the two are reconciled inside the same transaction.
type JobItemProgress struct {
	JobItemID     uint `gorm:"primaryKey"`
	CompletedGood int  `gorm:"not null;default:0"`
	UpdatedAt     time.Time
}
