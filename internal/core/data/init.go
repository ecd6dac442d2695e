package data

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jankrod/barchomat/internal/core"
)

// Open connects to the database selected by cfg.Database.Engine and migrates
// the schema.
func Open(cfg *core.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Engine {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.Database.Filename)
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseURL())
	default:
		return nil, fmt.Errorf("unsupported database engine %q", cfg.Database.Engine)
	}

	// By default only log errors but enable full SQL query prints-to-console with debug mode
	log := logger.Default.LogMode(logger.Error)
	if cfg.Debugging.DatabaseLoggingEnabled {
		log = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := db.AutoMigrate(&Snapshot{}); err != nil {
		return nil, fmt.Errorf("error auto migrating db: %w", err)
	}
	return db, nil
}

func Close(db *gorm.DB) error {
	database, err := db.DB()
	if err != nil {
		return fmt.Errorf("error while getting current connection: %w", err)
	}
	if err := database.Close(); err != nil {
		return fmt.Errorf("error while closing database connection: %w", err)
	}
	return nil
}
