package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/turfledger/internal/failure"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Actions written by the ledgers.
const (
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionSyncCreate = "sync_create"
	ActionLock       = "lock"
	ActionReceive    = "receive"
	ActionBulkImport = "bulk_import"
	ActionDelete     = "delete"
)

const (
	opRecorderNew = "audit.recorder.new"
	opList        = "audit.list"

	reasonMissingDatabase = "missing_database"
	reasonQueryFailed     = "query_failed"

	defaultListLimit = 100
)

var errMissingDatabase = errors.New("database handle is required")

// Entry is one immutable audit row.
type Entry struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RecordType  string    `gorm:"column:record_type;size:64;not null;index:idx_audit_record,priority:1" json:"record_type"`
	RecordID    int64     `gorm:"column:record_id;not null;index:idx_audit_record,priority:2" json:"record_id"`
	UserID      string    `gorm:"column:user_id;size:190;index" json:"user_id"`
	Action      string    `gorm:"column:action;size:64;not null" json:"action"`
	ChangesJSON string    `gorm:"column:changes_json;type:text" json:"changes_json"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "audit_log"
}

// Filter narrows audit listings.
type Filter struct {
	RecordType string
	RecordID   int64
	UserID     string
	Limit      int
}

// RecorderConfig describes the recorder dependencies.
type RecorderConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Recorder writes audit rows after the audited transaction has committed.
type Recorder struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewRecorder validates the configuration and returns a Recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Database == nil {
		return nil, failure.Storage(opRecorderNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Record stores one audit row. Failures are logged and never returned to the caller.
func (r *Recorder) Record(ctx context.Context, recordType string, recordID int64, userID string, action string, changes any) {
	if r == nil {
		return
	}
	entry := Entry{
		RecordType: recordType,
		RecordID:   recordID,
		UserID:     userID,
		Action:     action,
		CreatedAt:  r.clock().UTC(),
	}
	if changes != nil {
		payload, err := json.Marshal(changes)
		if err != nil {
			r.logger.Warn("audit payload encoding failed",
				zap.String("record_type", recordType),
				zap.Int64("record_id", recordID),
				zap.Error(err))
		} else {
			entry.ChangesJSON = string(payload)
		}
	}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		r.logger.Error("audit write failed",
			zap.String("record_type", recordType),
			zap.Int64("record_id", recordID),
			zap.String("action", action),
			zap.Error(err))
	}
}

// List returns audit rows, newest first.
func (r *Recorder) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := r.db.WithContext(ctx).Model(&Entry{})
	if filter.RecordType != "" {
		query = query.Where("record_type = ?", filter.RecordType)
	}
	if filter.RecordID > 0 {
		query = query.Where("record_id = ?", filter.RecordID)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	var entries []Entry
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&entries).Error; err != nil {
		r.logger.Error("audit list failed", zap.String("operation", opList), zap.Error(err))
		return nil, failure.Storage(opList, reasonQueryFailed, err)
	}
	return entries, nil
}
