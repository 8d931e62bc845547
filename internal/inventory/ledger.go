package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/turfledger/internal/failure"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opLedgerNew     = "inventory.ledger.new"
	opAdjust        = "inventory.adjust"
	opSetThreshold  = "inventory.set_threshold"
	opTrack         = "inventory.track"
	opListStock     = "inventory.list_stock"
	opListLog       = "inventory.list_log"
	opLookup        = "inventory.lookup"
	defaultLogLimit = 500

	fieldProductID = "product_id"

	reasonMissingDatabase   = "missing_database"
	reasonRecordNotFound    = "record_not_found"
	reasonZeroChange        = "zero_change"
	reasonInvalidReason     = "invalid_reason"
	reasonMissingUser       = "missing_user"
	reasonNegativeThreshold = "negative_threshold"
	reasonSelectFailed      = "record_select_failed"
	reasonUpdateFailed      = "record_update_failed"
	reasonLogInsertFailed   = "log_insert_failed"
	reasonTrackFailed       = "track_insert_failed"
	reasonQueryFailed       = "query_failed"
	queryRecordByProductID  = fieldProductID + " = ?"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrZeroChange indicates an adjustment that would not move stock.
	ErrZeroChange = errors.New("inventory: change amount must be non-zero")
	// ErrRecordNotFound indicates the product is not stock-tracked.
	ErrRecordNotFound = errors.New("inventory: record not found")
)

// ChangeNotifier receives the product ids whose stock changed after a commit.
type ChangeNotifier interface {
	StockChanged(productIDs []int64)
}

// LedgerConfig describes the ledger dependencies.
type LedgerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Notifier ChangeNotifier
	Logger   *zap.Logger
}

// Ledger owns inventory records and their append-only change log. Every quantity mutation
// reads the locked record, writes the new quantity, and appends one log entry in the same
// transaction.
type Ledger struct {
	db       *gorm.DB
	clock    func() time.Time
	notifier ChangeNotifier
	logger   *zap.Logger
}

// NewLedger validates the configuration and returns a Ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, failure.Storage(opLedgerNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		db:       cfg.Database,
		clock:    clock,
		notifier: cfg.Notifier,
		logger:   logger,
	}, nil
}

// Adjust applies a signed change to a tracked product and returns the new quantity.
func (l *Ledger) Adjust(ctx context.Context, adjustment Adjustment) (float64, error) {
	var newQuantity float64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quantity, err := l.AdjustInTx(tx, adjustment)
		if err != nil {
			return err
		}
		newQuantity = quantity
		return nil
	})
	if err != nil {
		return 0, err
	}
	l.NotifyChanged(adjustment.ProductID)
	return newQuantity, nil
}

// AdjustInTx applies the adjustment inside the caller's transaction. The record must exist.
func (l *Ledger) AdjustInTx(tx *gorm.DB, adjustment Adjustment) (float64, error) {
	if err := validateAdjustment(adjustment); err != nil {
		return 0, err
	}
	lookup, err := l.Lookup(tx, adjustment.ProductID)
	if err != nil {
		return 0, err
	}
	if !lookup.Present() {
		return 0, failure.NotFound(opAdjust, reasonRecordNotFound, ErrRecordNotFound)
	}
	return l.applyLocked(tx, lookup.Record(), adjustment)
}

// ApplyIfTracked applies the adjustment only when the product is stock-tracked and the change
// is non-zero. It reports whether a log entry was written.
func (l *Ledger) ApplyIfTracked(tx *gorm.DB, adjustment Adjustment) (bool, error) {
	if adjustment.ChangeAmount == 0 {
		return false, nil
	}
	lookup, err := l.Lookup(tx, adjustment.ProductID)
	if err != nil {
		return false, err
	}
	if !lookup.Present() {
		return false, nil
	}
	if err := validateAdjustment(adjustment); err != nil {
		return false, err
	}
	if _, err := l.applyLocked(tx, lookup.Record(), adjustment); err != nil {
		return false, err
	}
	return true, nil
}

// Lookup locks and returns the inventory record for the product when one exists.
func (l *Ledger) Lookup(tx *gorm.DB, productID int64) (Lookup, error) {
	var record Record
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryRecordByProductID, productID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Lookup{}, nil
	}
	if err != nil {
		l.logError(opLookup, reasonSelectFailed, err, zap.Int64(fieldProductID, productID))
		return Lookup{}, failure.Storage(opLookup, reasonSelectFailed, err)
	}
	return Lookup{record: &record}, nil
}

func (l *Ledger) applyLocked(tx *gorm.DB, record Record, adjustment Adjustment) (float64, error) {
	now := l.clock().UTC()
	newQuantity := record.Quantity + adjustment.ChangeAmount

	if err := tx.Model(&Record{}).
		Where(queryRecordByProductID, record.ProductID).
		Updates(map[string]any{"quantity": newQuantity, "last_updated": now}).Error; err != nil {
		l.logError(opAdjust, reasonUpdateFailed, err, zap.Int64(fieldProductID, record.ProductID))
		return 0, failure.Storage(opAdjust, reasonUpdateFailed, err)
	}

	entry := LogEntry{
		ProductID:     record.ProductID,
		ChangeAmount:  adjustment.ChangeAmount,
		Reason:        adjustment.Reason,
		ApplicationID: adjustment.ApplicationID,
		UserID:        adjustment.UserID,
		CreatedAt:     now,
	}
	if adjustment.PONumber != "" {
		poNumber := adjustment.PONumber
		entry.PONumber = &poNumber
	}
	if err := tx.Create(&entry).Error; err != nil {
		l.logError(opAdjust, reasonLogInsertFailed, err, zap.Int64(fieldProductID, record.ProductID))
		return 0, failure.Storage(opAdjust, reasonLogInsertFailed, err)
	}
	return newQuantity, nil
}

// SetThreshold updates the alerting threshold. No log entry is written.
func (l *Ledger) SetThreshold(ctx context.Context, productID int64, threshold float64) (Record, error) {
	if threshold < 0 {
		return Record{}, failure.Validation(opSetThreshold, reasonNegativeThreshold, nil)
	}
	var record Record
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lookup, err := l.Lookup(tx, productID)
		if err != nil {
			return err
		}
		if !lookup.Present() {
			return failure.NotFound(opSetThreshold, reasonRecordNotFound, ErrRecordNotFound)
		}
		record = lookup.Record()
		record.ReorderThreshold = threshold
		if err := tx.Model(&Record{}).
			Where(queryRecordByProductID, productID).
			Update("reorder_threshold", threshold).Error; err != nil {
			l.logError(opSetThreshold, reasonUpdateFailed, err, zap.Int64(fieldProductID, productID))
			return failure.Storage(opSetThreshold, reasonUpdateFailed, err)
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return record, nil
}

// TrackInTx starts stock tracking at a zero baseline. Already tracked products are left alone.
func (l *Ledger) TrackInTx(tx *gorm.DB, productID int64, reorderThreshold float64) error {
	record := Record{
		ProductID:        productID,
		Quantity:         0,
		ReorderThreshold: reorderThreshold,
		LastUpdated:      l.clock().UTC(),
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
		l.logError(opTrack, reasonTrackFailed, err, zap.Int64(fieldProductID, productID))
		return failure.Storage(opTrack, reasonTrackFailed, err)
	}
	return nil
}

// ListStock returns every tracked product with catalog details and derived status.
func (l *Ledger) ListStock(ctx context.Context) ([]StockLevel, error) {
	var levels []StockLevel
	if err := l.db.WithContext(ctx).
		Table("inventory").
		Select("inventory.*, products.name AS product_name, products.product_type AS product_type, products.unit_of_measure AS unit_of_measure").
		Joins("JOIN products ON products.id = inventory.product_id").
		Order("products.name ASC").
		Scan(&levels).Error; err != nil {
		l.logError(opListStock, reasonQueryFailed, err)
		return nil, failure.Storage(opListStock, reasonQueryFailed, err)
	}
	for index := range levels {
		levels[index].StockStatus = levels[index].Record.Status()
	}
	return levels, nil
}

// ListLog returns log entries, newest first.
func (l *Ledger) ListLog(ctx context.Context, filter LogFilter) ([]LogEntry, error) {
	query := l.db.WithContext(ctx).Model(&LogEntry{})
	if filter.ProductID > 0 {
		query = query.Where(queryRecordByProductID, filter.ProductID)
	}
	if filter.ApplicationID > 0 {
		query = query.Where("application_id = ?", filter.ApplicationID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	var entries []LogEntry
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&entries).Error; err != nil {
		l.logError(opListLog, reasonQueryFailed, err)
		return nil, failure.Storage(opListLog, reasonQueryFailed, err)
	}
	return entries, nil
}

// CountProductReferences counts the inventory record and log entries for the product so the
// catalog refuses deletes. A tracked product with no movement still has its record.
func (l *Ledger) CountProductReferences(tx *gorm.DB, productID int64) (int64, error) {
	var records int64
	if err := tx.Model(&Record{}).Where(queryRecordByProductID, productID).Count(&records).Error; err != nil {
		return 0, err
	}
	var entries int64
	if err := tx.Model(&LogEntry{}).Where(queryRecordByProductID, productID).Count(&entries).Error; err != nil {
		return 0, err
	}
	return records + entries, nil
}

// NotifyChanged forwards committed stock changes to the configured notifier.
func (l *Ledger) NotifyChanged(productIDs ...int64) {
	if l == nil || l.notifier == nil || len(productIDs) == 0 {
		return
	}
	l.notifier.StockChanged(productIDs)
}

func validateAdjustment(adjustment Adjustment) error {
	if adjustment.ChangeAmount == 0 {
		return failure.Validation(opAdjust, reasonZeroChange, ErrZeroChange)
	}
	if _, err := ParseReason(adjustment.Reason.String()); err != nil || adjustment.Reason == "" {
		return failure.Validation(opAdjust, reasonInvalidReason, ErrUnknownReason)
	}
	if adjustment.UserID == "" {
		return failure.Validation(opAdjust, reasonMissingUser, nil)
	}
	return nil
}

func (l *Ledger) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	l.logger.Error("inventory ledger error", attrs...)
}
