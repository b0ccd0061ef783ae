package db

import (
	"errors"

	"gorm.io/gorm"
)

// SyncSchema creates/updates tables from models. The client keeps only small
// key/value records, so there are no versioned migrations.
func SyncSchema(db *gorm.DB) error {
	if db == nil {
		return errors.New("db is required")
	}
	return db.AutoMigrate(&State{})
}
