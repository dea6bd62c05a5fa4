package db

import (
	"fmt"

	"github.com/zulandar/floorline/internal/config"
	"github.com/zulandar/floorline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Station{},
		&models.Job{},
		&models.JobItem{},
		&models.JobItemStep{},
		&models.WipBalance{},
		&models.JobItemProgress{},
		&models.StatusDefinition{},
		&models.Session{},
		&models.StatusEvent{},
		&models.FirstProductApproval{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedStations upserts Station rows from configuration.
func SeedStations(db *gorm.DB, stations []config.StationConfig) error {
	for _, sc := range stations {
		station := models.Station{
			Name:   sc.Name,
			Type:   sc.Type,
			Active: true,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"type", "active"}),
		}).Create(&station)
		if result.Error != nil {
			return fmt.Errorf("db: seed station %q: %w", sc.Name, result.Error)
		}
	}
	return nil
}

// SeedStatusDefinitions upserts StatusDefinition rows from configuration.
func SeedStatusDefinitions(db *gorm.DB, statuses []config.StatusConfig) error {
	for _, sc := range statuses {
		def := models.StatusDefinition{
			Label:        sc.Label,
			MachineState: models.MachineState(sc.MachineState),
			StationType:  sc.StationType,
			Active:       true,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "label"}, {Name: "station_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"machine_state", "active"}),
		}).Create(&def)
		if result.Error != nil {
			return fmt.Errorf("db: seed status %q: %w", sc.Label, result.Error)
		}
	}
	return nil
}
