package purchases

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/turfledger/internal/audit"
	"github.com/MarcoPoloResearchLab/turfledger/internal/failure"
	"github.com/MarcoPoloResearchLab/turfledger/internal/inventory"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opLedgerNew = "purchases.ledger.new"
	opReceive   = "purchases.receive"
	opUpdate    = "purchases.update"
	opGet       = "purchases.get"
	opList      = "purchases.list"
	opReport    = "purchases.cogs"

	recordType = "purchase"

	reasonMissingDatabase  = "missing_database"
	reasonMissingInventory = "missing_inventory"
	reasonMissingUser      = "missing_user"
	reasonEmptyReceipt     = "empty_receipt"
	reasonInvalidDate      = "invalid_date"
	reasonInvalidMonth     = "invalid_month"
	reasonInvalidQuantity  = "invalid_quantity"
	reasonNegativeCost     = "negative_unit_cost"
	reasonUntrackedProduct = "untracked_product"
	reasonNotFound         = "purchase_not_found"
	reasonQueryFailed      = "query_failed"
	reasonInsertFailed     = "insert_failed"
	reasonUpdateFailed     = "update_failed"

	monthLayout = "2006-01"

	selectView = "purchases.*, products.name AS product_name, products.product_type AS product_type, products.unit_of_measure AS unit_of_measure"
	joinView   = "JOIN products ON products.id = purchases.product_id"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingInventory = errors.New("inventory ledger is required")
	// ErrInvalidQuantity indicates a receipt line without a positive quantity.
	ErrInvalidQuantity = errors.New("purchases: quantity must be positive")
	errNegativeCost    = errors.New("purchases: unit cost must not be negative")
)

// StockLedger applies receipts to tracked inventory inside the caller's transaction.
type StockLedger interface {
	AdjustInTx(tx *gorm.DB, adjustment inventory.Adjustment) (float64, error)
	NotifyChanged(productIDs ...int64)
}

// AuditRecorder receives fire-and-forget audit events after commits.
type AuditRecorder interface {
	Record(ctx context.Context, recordType string, recordID int64, userID string, action string, changes any)
}

// LedgerConfig describes the purchase ledger dependencies.
type LedgerConfig struct {
	Database  *gorm.DB
	Inventory StockLedger
	Audit     AuditRecorder
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Ledger records deliveries and serves cost reporting.
type Ledger struct {
	db        *gorm.DB
	inventory StockLedger
	audit     AuditRecorder
	clock     func() time.Time
	logger    *zap.Logger
}

// NewLedger validates the configuration and returns a Ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, failure.Storage(opLedgerNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Inventory == nil {
		return nil, failure.Storage(opLedgerNew, reasonMissingInventory, errMissingInventory)
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
		db:        cfg.Database,
		inventory: cfg.Inventory,
		audit:     cfg.Audit,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Receive books a delivery. Every line must have a positive quantity and a tracked product,
// otherwise nothing is written.
func (l *Ledger) Receive(ctx context.Context, userID string, receipt Receipt) (ReceiveResult, error) {
	if strings.TrimSpace(userID) == "" {
		return ReceiveResult{}, failure.Validation(opReceive, reasonMissingUser, nil)
	}
	if len(receipt.Items) == 0 {
		return ReceiveResult{}, failure.Validation(opReceive, reasonEmptyReceipt, nil)
	}
	now := l.clock().UTC()
	purchaseDate, err := normalizeDate(receipt.PurchaseDate, now.Format(dateLayout))
	if err != nil {
		return ReceiveResult{}, failure.Validation(opReceive, reasonInvalidDate, err)
	}
	receivedDate, err := normalizeDate(receipt.ReceivedDate, purchaseDate)
	if err != nil {
		return ReceiveResult{}, failure.Validation(opReceive, reasonInvalidDate, err)
	}
	poNumber := strings.TrimSpace(receipt.PONumber)

	var rows []Purchase
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for index, item := range receipt.Items {
			if item.Quantity <= 0 {
				return failure.New(failure.KindBatchItem, opReceive, reasonInvalidQuantity,
					&ItemError{Index: index, ProductID: item.ProductID, Err: ErrInvalidQuantity})
			}
			if item.UnitCost != nil && *item.UnitCost < 0 {
				return failure.New(failure.KindBatchItem, opReceive, reasonNegativeCost,
					&ItemError{Index: index, ProductID: item.ProductID, Err: errNegativeCost})
			}
			if _, err := l.inventory.AdjustInTx(tx, inventory.Adjustment{
				ProductID:    item.ProductID,
				ChangeAmount: item.Quantity,
				Reason:       inventory.ReasonReceived,
				PONumber:     poNumber,
				UserID:       userID,
			}); err != nil {
				if failure.Is(err, failure.KindNotFound) {
					return failure.New(failure.KindBatchItem, opReceive, reasonUntrackedProduct,
						&ItemError{Index: index, ProductID: item.ProductID, Err: err})
				}
				return err
			}

			row := Purchase{
				ProductID:    item.ProductID,
				Quantity:     item.Quantity,
				UnitCost:     item.UnitCost,
				TotalCost:    lineTotal(item.Quantity, item.UnitCost),
				PONumber:     poNumber,
				VendorName:   strings.TrimSpace(receipt.VendorName),
				PurchaseDate: purchaseDate,
				ReceivedDate: receivedDate,
				Notes:        receipt.Notes,
				CreatedBy:    userID,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := tx.Create(&row).Error; err != nil {
				l.logError(opReceive, reasonInsertFailed, err, zap.Int64("product_id", item.ProductID))
				return failure.Storage(opReceive, reasonInsertFailed, err)
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return ReceiveResult{}, err
	}

	result := ReceiveResult{Received: len(rows), PurchaseIDs: make([]int64, 0, len(rows))}
	productIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		result.PurchaseIDs = append(result.PurchaseIDs, row.ID)
		productIDs = append(productIDs, row.ProductID)
		l.recordAudit(ctx, row.ID, userID, audit.ActionReceive, row)
	}
	l.inventory.NotifyChanged(productIDs...)
	return result, nil
}

// Update corrects a purchase. Inventory is left untouched; the received log entry stays the
// record of the stock movement.
func (l *Ledger) Update(ctx context.Context, userID string, purchaseID int64, update Update) (Purchase, error) {
	if update.Quantity != nil && *update.Quantity <= 0 {
		return Purchase{}, failure.Validation(opUpdate, reasonInvalidQuantity, ErrInvalidQuantity)
	}
	if update.UnitCost != nil && *update.UnitCost < 0 {
		return Purchase{}, failure.Validation(opUpdate, reasonNegativeCost, errNegativeCost)
	}
	var before, after Purchase
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.takePurchase(tx, opUpdate, purchaseID, &before); err != nil {
			return err
		}
		after = before
		if update.Quantity != nil {
			after.Quantity = *update.Quantity
		}
		if update.UnitCost != nil {
			unitCost := *update.UnitCost
			after.UnitCost = &unitCost
		}
		if update.VendorName != nil {
			after.VendorName = strings.TrimSpace(*update.VendorName)
		}
		if update.PONumber != nil {
			after.PONumber = strings.TrimSpace(*update.PONumber)
		}
		if update.PurchaseDate != nil {
			date, err := normalizeDate(*update.PurchaseDate, before.PurchaseDate)
			if err != nil {
				return failure.Validation(opUpdate, reasonInvalidDate, err)
			}
			after.PurchaseDate = date
		}
		if update.Notes != nil {
			after.Notes = *update.Notes
		}
		after.TotalCost = lineTotal(after.Quantity, after.UnitCost)
		after.UpdatedAt = l.clock().UTC()
		if err := tx.Save(&after).Error; err != nil {
			l.logError(opUpdate, reasonUpdateFailed, err, zap.Int64("purchase_id", purchaseID))
			return failure.Storage(opUpdate, reasonUpdateFailed, err)
		}
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}
	l.recordAudit(ctx, purchaseID, userID, audit.ActionUpdate, map[string]any{"before": before, "after": update})
	return after, nil
}

// Get loads a single purchase with catalog details.
func (l *Ledger) Get(ctx context.Context, purchaseID int64) (View, error) {
	var views []View
	if err := l.db.WithContext(ctx).
		Table("purchases").
		Select(selectView).
		Joins(joinView).
		Where("purchases.id = ?", purchaseID).
		Limit(1).
		Scan(&views).Error; err != nil {
		l.logError(opGet, reasonQueryFailed, err, zap.Int64("purchase_id", purchaseID))
		return View{}, failure.Storage(opGet, reasonQueryFailed, err)
	}
	if len(views) == 0 {
		return View{}, failure.NotFound(opGet, reasonNotFound, gorm.ErrRecordNotFound)
	}
	return views[0], nil
}

// List returns purchases, most recent first.
func (l *Ledger) List(ctx context.Context, filter Filter) ([]View, error) {
	query, err := l.filtered(ctx, opList, filter)
	if err != nil {
		return nil, err
	}
	var views []View
	if err := query.Order("purchases.purchase_date DESC, purchases.created_at DESC").Scan(&views).Error; err != nil {
		l.logError(opList, reasonQueryFailed, err)
		return nil, failure.Storage(opList, reasonQueryFailed, err)
	}
	return views, nil
}

// Report builds the cost-of-goods-sold summary, oldest first.
func (l *Ledger) Report(ctx context.Context, filter Filter) (Report, error) {
	query, err := l.filtered(ctx, opReport, filter)
	if err != nil {
		return Report{}, err
	}
	var views []View
	if err := query.Order("purchases.purchase_date ASC, purchases.created_at ASC").Scan(&views).Error; err != nil {
		l.logError(opReport, reasonQueryFailed, err)
		return Report{}, failure.Storage(opReport, reasonQueryFailed, err)
	}
	report := Report{Lines: views, Period: periodLabel(filter)}
	if report.Lines == nil {
		report.Lines = []View{}
	}
	for _, view := range views {
		if view.TotalCost != nil {
			report.TotalCost += *view.TotalCost
		}
	}
	return report, nil
}

// CountProductReferences counts purchases referencing the product.
func (l *Ledger) CountProductReferences(tx *gorm.DB, productID int64) (int64, error) {
	var count int64
	err := tx.Model(&Purchase{}).Where("product_id = ?", productID).Count(&count).Error
	return count, err
}

func (l *Ledger) filtered(ctx context.Context, operation string, filter Filter) (*gorm.DB, error) {
	query := l.db.WithContext(ctx).Table("purchases").Select(selectView).Joins(joinView)
	if month := strings.TrimSpace(filter.Month); month != "" {
		start, err := time.Parse(monthLayout, month)
		if err != nil {
			return nil, failure.Validation(operation, reasonInvalidMonth, err)
		}
		query = query.Where("purchases.purchase_date >= ? AND purchases.purchase_date < ?",
			start.Format(dateLayout), start.AddDate(0, 1, 0).Format(dateLayout))
	} else {
		if from := strings.TrimSpace(filter.From); from != "" {
			query = query.Where("purchases.purchase_date >= ?", from)
		}
		if to := strings.TrimSpace(filter.To); to != "" {
			query = query.Where("purchases.purchase_date <= ?", to)
		}
	}
	if filter.ProductID > 0 {
		query = query.Where("purchases.product_id = ?", filter.ProductID)
	}
	return query, nil
}

func (l *Ledger) takePurchase(tx *gorm.DB, operation string, purchaseID int64, purchase *Purchase) error {
	err := tx.Where("id = ?", purchaseID).Take(purchase).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return failure.NotFound(operation, reasonNotFound, err)
	}
	if err != nil {
		l.logError(operation, reasonQueryFailed, err, zap.Int64("purchase_id", purchaseID))
		return failure.Storage(operation, reasonQueryFailed, err)
	}
	return nil
}

func (l *Ledger) recordAudit(ctx context.Context, purchaseID int64, userID, action string, changes any) {
	if l.audit == nil {
		return
	}
	l.audit.Record(ctx, recordType, purchaseID, userID, action, changes)
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
	l.logger.Error("purchase ledger error", attrs...)
}

func normalizeDate(raw, fallback string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	if _, err := time.Parse(dateLayout, trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

func periodLabel(filter Filter) string {
	if month := strings.TrimSpace(filter.Month); month != "" {
		return month
	}
	from := strings.TrimSpace(filter.From)
	if from == "" {
		from = "all"
	}
	to := strings.TrimSpace(filter.To)
	if to == "" {
		to = "all"
	}
	return from + "-to-" + to
}
