package models

import "time"

// First-product approval outcomes.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
)

// FirstProductApproval gates production at steps flagged
// RequiresFirstProduct. The approval is scoped to the (job item, step) pair,
// not the submitting session: once approved, every later session at the step
// skips the gate.
type FirstProductApproval struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	JobItemStepID uint   `gorm:"not null;uniqueIndex"`
	SessionID     uint   `gorm:"not null"`
	Outcome       string `gorm:"size:16;default:pending"`
	Evidence      string `gorm:"type:text"`
	ApprovedBy    string `gorm:"size:64"`
	ApprovedAt    *time.Time
	CreatedAt     time.Time
}
