package applications

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/turfledger/internal/audit"
	"github.com/MarcoPoloResearchLab/turfledger/internal/catalog"
	"github.com/MarcoPoloResearchLab/turfledger/internal/failure"
	"github.com/MarcoPoloResearchLab/turfledger/internal/inventory"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opManagerNew = "applications.manager.new"
	opCreate     = "applications.create"
	opEdit       = "applications.edit"
	opSync       = "applications.sync"
	opLock       = "applications.lock"
	opGet        = "applications.get"
	opList       = "applications.list"
	opActivity   = "applications.property_activity"

	recordType = "application"

	reasonMissingDatabase  = "missing_database"
	reasonMissingInventory = "missing_inventory"
	reasonMissingUser      = "missing_user"
	reasonMissingDate      = "missing_application_date"
	reasonInvalidDate      = "invalid_application_date"
	reasonMissingAddress   = "missing_address"
	reasonMissingProduct   = "missing_product"
	reasonMissingName      = "missing_product_name"
	reasonMissingTotalUsed = "missing_total_product_used"
	reasonInvalidRate      = "invalid_app_rate"
	reasonInvalidArea      = "invalid_area"
	reasonNotFound         = "record_not_found"
	reasonLocked           = "locked"
	reasonQueryFailed      = "query_failed"
	reasonInsertFailed     = "insert_failed"
	reasonUpdateFailed     = "update_failed"
	reasonCatalogFailed    = "catalog_lookup_failed"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingInventory = errors.New("inventory ledger is required")
	// ErrRecordLocked indicates the record has been synced and can no longer change.
	ErrRecordLocked = errors.New(LockedMessage)
)

// InventoryLedger applies optional stock deductions inside the manager's transactions.
type InventoryLedger interface {
	ApplyIfTracked(tx *gorm.DB, adjustment inventory.Adjustment) (bool, error)
	NotifyChanged(productIDs ...int64)
}

// AuditRecorder receives fire-and-forget audit events after commits.
type AuditRecorder interface {
	Record(ctx context.Context, recordType string, recordID int64, userID string, action string, changes any)
}

// ManagerConfig describes the manager dependencies.
type ManagerConfig struct {
	Database  *gorm.DB
	Inventory InventoryLedger
	Audit     AuditRecorder
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Manager creates, edits, syncs, and locks application records and keeps inventory in step.
type Manager struct {
	db        *gorm.DB
	inventory InventoryLedger
	audit     AuditRecorder
	clock     func() time.Time
	logger    *zap.Logger
}

// NewManager validates the configuration and returns a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Database == nil {
		return nil, failure.Storage(opManagerNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Inventory == nil {
		return nil, failure.Storage(opManagerNew, reasonMissingInventory, errMissingInventory)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		db:        cfg.Database,
		inventory: cfg.Inventory,
		audit:     cfg.Audit,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Create stores a draft record and deducts the product when it is stock-tracked.
func (m *Manager) Create(ctx context.Context, userID string, submission Submission) (CreateResult, error) {
	if err := validateSubmission(opCreate, userID, submission); err != nil {
		return CreateResult{}, err
	}
	var (
		record    Record
		duplicate bool
		touched   []int64
	)
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		record, duplicate, touched, err = m.createInTx(tx, opCreate, userID, submission, inventory.ReasonApplication)
		return err
	})
	if err != nil {
		return CreateResult{}, err
	}
	if !duplicate {
		m.inventory.NotifyChanged(touched...)
		m.recordAudit(ctx, record.ID, userID, audit.ActionCreate, submission)
	}
	return CreateResult{ID: record.ID, Duplicate: duplicate}, nil
}

// Sync ingests a batch of offline submissions. Each item commits or fails on its own.
func (m *Manager) Sync(ctx context.Context, userID string, submissions []Submission) (SyncResult, error) {
	if strings.TrimSpace(userID) == "" {
		return SyncResult{}, failure.Validation(opSync, reasonMissingUser, nil)
	}
	result := SyncResult{IDs: []int64{}}
	for index, submission := range submissions {
		id, err := m.syncOne(ctx, userID, submission)
		if err != nil {
			m.logger.Warn("application sync item skipped",
				zap.String("operation", opSync),
				zap.Int("index", index),
				zap.Error(err))
			result.Errors = append(result.Errors, SyncItemError{Index: index, Reason: reasonOf(err)})
			continue
		}
		result.Synced++
		result.IDs = append(result.IDs, id)
	}
	return result, nil
}

func (m *Manager) syncOne(ctx context.Context, userID string, submission Submission) (int64, error) {
	if err := validateSubmission(opSync, userID, submission); err != nil {
		return 0, err
	}
	var (
		record    Record
		duplicate bool
		touched   []int64
	)
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		record, duplicate, touched, err = m.createInTx(tx, opSync, userID, submission, inventory.ReasonApplicationSync)
		return err
	})
	if err != nil {
		return 0, err
	}
	if !duplicate {
		m.inventory.NotifyChanged(touched...)
		m.recordAudit(ctx, record.ID, userID, audit.ActionSyncCreate, submission)
	}
	return record.ID, nil
}

func (m *Manager) createInTx(tx *gorm.DB, operation, userID string, submission Submission, reason inventory.Reason) (Record, bool, []int64, error) {
	submissionKey := strings.TrimSpace(submission.ClientSubmissionID)
	if submissionKey != "" {
		existing, found, err := m.findBySubmissionKey(tx, operation, submissionKey)
		if err != nil {
			return Record{}, false, nil, err
		}
		if found {
			return existing, true, nil, nil
		}
	}

	snapshot, err := m.captureSnapshot(tx, operation, submission)
	if err != nil {
		return Record{}, false, nil, err
	}

	now := m.clock().UTC()
	record := Record{
		ApplicatorID:   userID,
		RetentionYears: RetentionFor(snapshot.IsRestrictedUse),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if submissionKey != "" {
		record.ClientSubmissionID = &submissionKey
	}
	submission.apply(&record, snapshot)

	if err := tx.Create(&record).Error; err != nil {
		m.logError(operation, reasonInsertFailed, err, zap.Int64("product_id", record.ProductID))
		return Record{}, false, nil, failure.Storage(operation, reasonInsertFailed, err)
	}

	applicationID := record.ID
	applied, err := m.inventory.ApplyIfTracked(tx, inventory.Adjustment{
		ProductID:     record.ProductID,
		ChangeAmount:  -record.TotalProductUsed,
		Reason:        reason,
		ApplicationID: &applicationID,
		UserID:        userID,
	})
	if err != nil {
		return Record{}, false, nil, err
	}
	var touched []int64
	if applied {
		touched = append(touched, record.ProductID)
	}
	return record, false, touched, nil
}

// Edit rewrites a draft record and moves inventory by the difference from the stored values.
func (m *Manager) Edit(ctx context.Context, userID string, recordID int64, submission Submission) (Record, error) {
	var (
		before  Record
		after   Record
		touched []int64
	)
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := m.takeRecord(tx.Clauses(clause.Locking{Strength: "UPDATE"}), opEdit, recordID, &before); err != nil {
			return err
		}
		if before.Synced {
			return failure.New(failure.KindLocked, opEdit, reasonLocked, ErrRecordLocked)
		}
		if err := validateSubmission(opEdit, userID, submission); err != nil {
			return err
		}
		snapshot, err := m.captureSnapshot(tx, opEdit, submission)
		if err != nil {
			return err
		}

		after = before
		submission.apply(&after, snapshot)
		after.UpdatedAt = m.clock().UTC()

		touched, err = m.applyEditDelta(tx, userID, before, after)
		if err != nil {
			return err
		}
		if err := tx.Save(&after).Error; err != nil {
			m.logError(opEdit, reasonUpdateFailed, err, zap.Int64("application_id", recordID))
			return failure.Storage(opEdit, reasonUpdateFailed, err)
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	m.inventory.NotifyChanged(touched...)
	m.recordAudit(ctx, recordID, userID, audit.ActionUpdate, map[string]any{"before": before, "after": submission})
	return after, nil
}

func (m *Manager) applyEditDelta(tx *gorm.DB, userID string, before, after Record) ([]int64, error) {
	applicationID := before.ID
	var touched []int64
	if before.ProductID == after.ProductID {
		applied, err := m.inventory.ApplyIfTracked(tx, inventory.Adjustment{
			ProductID:     after.ProductID,
			ChangeAmount:  before.TotalProductUsed - after.TotalProductUsed,
			Reason:        inventory.ReasonApplicationEdit,
			ApplicationID: &applicationID,
			UserID:        userID,
		})
		if err != nil {
			return nil, err
		}
		if applied {
			touched = append(touched, after.ProductID)
		}
		return touched, nil
	}

	reversed, err := m.inventory.ApplyIfTracked(tx, inventory.Adjustment{
		ProductID:     before.ProductID,
		ChangeAmount:  before.TotalProductUsed,
		Reason:        inventory.ReasonApplicationEditReversal,
		ApplicationID: &applicationID,
		UserID:        userID,
	})
	if err != nil {
		return nil, err
	}
	if reversed {
		touched = append(touched, before.ProductID)
	}
	deducted, err := m.inventory.ApplyIfTracked(tx, inventory.Adjustment{
		ProductID:     after.ProductID,
		ChangeAmount:  -after.TotalProductUsed,
		Reason:        inventory.ReasonApplicationEditNew,
		ApplicationID: &applicationID,
		UserID:        userID,
	})
	if err != nil {
		return nil, err
	}
	if deducted {
		touched = append(touched, after.ProductID)
	}
	return touched, nil
}

// Lock finalises a draft record. Locking a synced record is a no-op.
func (m *Manager) Lock(ctx context.Context, userID string, recordID int64) (Record, error) {
	var (
		record  Record
		changed bool
	)
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := m.takeRecord(tx.Clauses(clause.Locking{Strength: "UPDATE"}), opLock, recordID, &record); err != nil {
			return err
		}
		if record.Synced {
			return nil
		}
		record.Synced = true
		record.UpdatedAt = m.clock().UTC()
		if err := tx.Model(&Record{}).
			Where("id = ?", recordID).
			Updates(map[string]any{"synced": true, "updated_at": record.UpdatedAt}).Error; err != nil {
			m.logError(opLock, reasonUpdateFailed, err, zap.Int64("application_id", recordID))
			return failure.Storage(opLock, reasonUpdateFailed, err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	if changed {
		m.recordAudit(ctx, recordID, userID, audit.ActionLock, nil)
	}
	return record, nil
}

// Get loads a single record.
func (m *Manager) Get(ctx context.Context, recordID int64) (Record, error) {
	var record Record
	if err := m.takeRecord(m.db.WithContext(ctx), opGet, recordID, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// List returns records, most recent application date first.
func (m *Manager) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := m.db.WithContext(ctx).Model(&Record{})
	if from := strings.TrimSpace(filter.From); from != "" {
		query = query.Where("application_date >= ?", from)
	}
	if to := strings.TrimSpace(filter.To); to != "" {
		query = query.Where("application_date <= ?", to)
	}
	if filter.PropertyID > 0 {
		query = query.Where("property_id = ?", filter.PropertyID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var records []Record
	if err := query.Order("application_date DESC, created_at DESC").Find(&records).Error; err != nil {
		m.logError(opList, reasonQueryFailed, err)
		return nil, failure.Storage(opList, reasonQueryFailed, err)
	}
	return records, nil
}

// PropertyActivity summarises the applications linked to the property.
func (m *Manager) PropertyActivity(tx *gorm.DB, propertyID int64) (PropertyActivity, error) {
	var activity PropertyActivity
	base := func() *gorm.DB {
		return tx.Model(&Record{}).Where("property_id = ?", propertyID)
	}
	if err := base().Count(&activity.ApplicationCount).Error; err != nil {
		m.logError(opActivity, reasonQueryFailed, err, zap.Int64("property_id", propertyID))
		return PropertyActivity{}, failure.Storage(opActivity, reasonQueryFailed, err)
	}
	if activity.ApplicationCount > 0 {
		var last Record
		if err := base().Order("application_date DESC").Select("application_date").Take(&last).Error; err != nil {
			m.logError(opActivity, reasonQueryFailed, err, zap.Int64("property_id", propertyID))
			return PropertyActivity{}, failure.Storage(opActivity, reasonQueryFailed, err)
		}
		activity.LastApplicationDate = &last.ApplicationDate
	}

	var totals struct {
		Revenue      float64
		LaborCost    float64
		MaterialCost float64
	}
	if err := base().
		Select("COALESCE(SUM(revenue), 0) AS revenue, COALESCE(SUM(labor_cost), 0) AS labor_cost, COALESCE(SUM(material_cost), 0) AS material_cost").
		Scan(&totals).Error; err != nil {
		m.logError(opActivity, reasonQueryFailed, err, zap.Int64("property_id", propertyID))
		return PropertyActivity{}, failure.Storage(opActivity, reasonQueryFailed, err)
	}
	activity.Profitability = profitabilityOf(totals.Revenue, totals.LaborCost+totals.MaterialCost)
	return activity, nil
}

func profitabilityOf(revenue, cost float64) Profitability {
	summary := Profitability{
		TotalRevenue: revenue,
		TotalCost:    cost,
		TotalMargin:  revenue - cost,
	}
	if revenue > 0 {
		summary.MarginPct = math.Round(summary.TotalMargin/revenue*1000) / 10
	}
	return summary
}

// CountProductReferences counts records referencing the product.
func (m *Manager) CountProductReferences(tx *gorm.DB, productID int64) (int64, error) {
	var count int64
	err := tx.Model(&Record{}).Where("product_id = ?", productID).Count(&count).Error
	return count, err
}

// CountPropertyReferences counts records linked to the property.
func (m *Manager) CountPropertyReferences(tx *gorm.DB, propertyID int64) (int64, error) {
	var count int64
	err := tx.Model(&Record{}).Where("property_id = ?", propertyID).Count(&count).Error
	return count, err
}

// captureSnapshot takes the submitted product fields and fills blanks from the catalog.
// A product missing from the catalog is not an error.
func (m *Manager) captureSnapshot(tx *gorm.DB, operation string, submission Submission) (ProductSnapshot, error) {
	snapshot := ProductSnapshot{
		ProductName:     strings.TrimSpace(submission.ProductName),
		EPARegNumber:    strings.TrimSpace(submission.EPARegNumber),
		IsRestrictedUse: submission.IsRestrictedUse,
	}
	product, err := catalog.FindProduct(tx, submission.ProductID)
	if err != nil {
		m.logError(operation, reasonCatalogFailed, err, zap.Int64("product_id", submission.ProductID))
		return ProductSnapshot{}, failure.Storage(operation, reasonCatalogFailed, err)
	}
	if product != nil {
		if snapshot.ProductName == "" {
			snapshot.ProductName = product.Name
		}
		if snapshot.EPARegNumber == "" {
			snapshot.EPARegNumber = product.EPARegNumber
		}
		// The client may add the restricted-use flag but never clear the catalog's.
		snapshot.IsRestrictedUse = snapshot.IsRestrictedUse || product.IsRestrictedUse
	}
	if snapshot.ProductName == "" {
		return ProductSnapshot{}, failure.Validation(operation, reasonMissingName, nil)
	}
	return snapshot, nil
}

func (m *Manager) findBySubmissionKey(tx *gorm.DB, operation, key string) (Record, bool, error) {
	var record Record
	err := tx.Where("client_submission_id = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		m.logError(operation, reasonQueryFailed, err)
		return Record{}, false, failure.Storage(operation, reasonQueryFailed, err)
	}
	return record, true, nil
}

func (m *Manager) takeRecord(tx *gorm.DB, operation string, recordID int64, record *Record) error {
	err := tx.Where("id = ?", recordID).Take(record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return failure.NotFound(operation, reasonNotFound, err)
	}
	if err != nil {
		m.logError(operation, reasonQueryFailed, err, zap.Int64("application_id", recordID))
		return failure.Storage(operation, reasonQueryFailed, err)
	}
	return nil
}

func (m *Manager) recordAudit(ctx context.Context, recordID int64, userID, action string, changes any) {
	if m.audit == nil {
		return
	}
	m.audit.Record(ctx, recordType, recordID, userID, action, changes)
}

func validateSubmission(operation, userID string, submission Submission) error {
	if strings.TrimSpace(userID) == "" {
		return failure.Validation(operation, reasonMissingUser, nil)
	}
	if reason, ok := submission.Validate(); !ok {
		return failure.Validation(operation, reason, nil)
	}
	return nil
}

func reasonOf(err error) string {
	var classified *failure.Error
	if errors.As(err, &classified) {
		return classified.Reason()
	}
	return err.Error()
}

func (m *Manager) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	m.logger.Error("application manager error", attrs...)
}
