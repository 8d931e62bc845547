package database

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/turfledger/internal/applications"
	"github.com/MarcoPoloResearchLab/turfledger/internal/inventory"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillRetentionYears  = "2025-01-15_backfill_retention_years"
	migrationNormalizeReceivedReason = "2025-01-15_normalize_received_reasons"
)

var legacyReceivedReason = regexp.MustCompile(`^received\s*\(PO:\s*(.*?)\s*\)$`)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillRetentionYears, apply: backfillRetentionYears},
		{name: migrationNormalizeReceivedReason, apply: normalizeReceivedReasons},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillRetentionYears sets the retention period on rows written before it was stored.
func backfillRetentionYears(db *gorm.DB) error {
	unset := "(retention_years IS NULL OR retention_years = 0)"
	if err := db.Model(&applications.Record{}).
		Where(unset+" AND is_restricted_use = ?", true).
		Update("retention_years", applications.RetentionRestrictedUse).Error; err != nil {
		return err
	}
	return db.Model(&applications.Record{}).
		Where(unset).
		Update("retention_years", applications.RetentionStandard).Error
}

// normalizeReceivedReasons rewrites "received (PO: X)" into reason received with po_number X.
func normalizeReceivedReasons(db *gorm.DB) error {
	var legacy []inventory.LogEntry
	if err := db.Where("reason LIKE ?", "received (%").Find(&legacy).Error; err != nil {
		return err
	}
	for _, entry := range legacy {
		match := legacyReceivedReason.FindStringSubmatch(string(entry.Reason))
		if match == nil {
			continue
		}
		updates := map[string]any{"reason": inventory.ReasonReceived}
		if poNumber := strings.TrimSpace(match[1]); poNumber != "" && entry.PONumber == nil {
			updates["po_number"] = poNumber
		}
		if err := db.Model(&inventory.LogEntry{}).Where("id = ?", entry.ID).Updates(updates).Error; err != nil {
			return err
		}
	}
	return nil
}
