package jobstore

import (
	"fmt"

	"github.com/sinenomine/cellcc/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model the jobs database holds.
func AllModels() []interface{} {
	return []interface{}{
		&models.Job{},
		&models.JobHistory{},
		&models.SchemaVersion{},
	}
}

// AutoMigrate creates or updates the jobs, jobshist, and versions tables.
// Used by tests and by a freshly initialized deployment's first connection.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("jobstore: auto-migrate: %w", err)
	}
	return ensureSchemaVersion(db)
}

func ensureSchemaVersion(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.SchemaVersion{}).Count(&count).Error; err != nil {
		return fmt.Errorf("jobstore: count schema version rows: %w", err)
	}
	if count == 0 {
		return db.Create(&models.SchemaVersion{Version: models.CurrentSchemaVersion}).Error
	}
	return nil
}

// CheckSchemaVersion verifies the database's recorded schema version
// matches models.CurrentSchemaVersion, per spec §3's "every database
// connection verifies it matches the compiled-in constant on first use."
func CheckSchemaVersion(db *gorm.DB) error {
	var row models.SchemaVersion
	if err := db.Model(&models.SchemaVersion{}).First(&row).Error; err != nil {
		return fmt.Errorf("jobstore: read schema version: %w", err)
	}
	if row.Version != models.CurrentSchemaVersion {
		return fmt.Errorf("%w: database has %d, binary expects %d", ErrSchemaMismatch, row.Version, models.CurrentSchemaVersion)
	}
	return nil
}
