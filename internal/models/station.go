package models

import "time"

// Station is a physical work location. At most one active session may hold
// a station at any time; occupancy is derived from the sessions table.
type Station struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:128;not null;uniqueIndex"`
	Type      string `gorm:"size:32;index"`
	Active    bool   `gorm:"default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
