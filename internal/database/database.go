package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/turfledger/internal/applications"
	"github.com/MarcoPoloResearchLab/turfledger/internal/audit"
	"github.com/MarcoPoloResearchLab/turfledger/internal/catalog"
	"github.com/MarcoPoloResearchLab/turfledger/internal/inventory"
	"github.com/MarcoPoloResearchLab/turfledger/internal/ipm"
	"github.com/MarcoPoloResearchLab/turfledger/internal/properties"
	"github.com/MarcoPoloResearchLab/turfledger/internal/purchases"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	errMissingPath   = errors.New("database path is required")
	errMissingDSN    = errors.New("database dsn is required")
	errUnknownDriver = errors.New("unsupported database driver")
)

// Config selects the database backend.
type Config struct {
	Driver string
	Path   string
	DSN    string
}

// Open connects to the configured backend and brings the schema up to date.
func Open(cfg Config, log *zap.Logger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	var (
		db       *gorm.DB
		err      error
		location string
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		if cfg.Path == "" {
			return nil, errMissingPath
		}
		db, err = gorm.Open(sqlite.Open(cfg.Path), gormConfig)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite serialises writers; one connection keeps row-lock semantics inside transactions.
		sqlDB.SetMaxOpenConns(1)
		location = cfg.Path
	case DriverPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, errMissingDSN
		}
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormConfig)
		if err != nil {
			return nil, err
		}
		location = "postgres"
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownDriver, cfg.Driver)
	}

	if err := Migrate(db, log); err != nil {
		return nil, err
	}
	log.Info("database initialized", zap.String("driver", db.Dialector.Name()), zap.String("location", location))
	return db, nil
}

// Models lists every persisted table of the server.
func Models() []any {
	return []any{
		&catalog.Product{},
		&inventory.Record{},
		&inventory.LogEntry{},
		&applications.Record{},
		&purchases.Purchase{},
		&properties.Property{},
		&properties.Zone{},
		&ipm.Case{},
		&ipm.Observation{},
		&audit.Entry{},
		&migrationRecord{},
	}
}

// Migrate creates or alters tables and then applies pending data migrations.
func Migrate(db *gorm.DB, log *zap.Logger) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return applyMigrations(db, log)
}
