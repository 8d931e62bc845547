package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Reason enumerates why an inventory quantity changed.
type Reason string

const (
	// ReasonPurchase records stock bought outside the receiving flow.
	ReasonPurchase Reason = "purchase"
	// ReasonReceived records a delivery receipt.
	ReasonReceived Reason = "received"
	// ReasonApplication records the deduction for a newly logged application.
	ReasonApplication Reason = "application"
	// ReasonApplicationEdit records the delta of an edit that kept the same product.
	ReasonApplicationEdit Reason = "application_edit"
	// ReasonApplicationEditReversal returns the original amount to the previous product.
	ReasonApplicationEditReversal Reason = "application_edit_reversal"
	// ReasonApplicationEditNew deducts the full amount from the newly selected product.
	ReasonApplicationEditNew Reason = "application_edit_new"
	// ReasonApplicationSync records the deduction for an application ingested by batch sync.
	ReasonApplicationSync Reason = "application_sync"
	// ReasonAdjustment records a manual stock correction.
	ReasonAdjustment Reason = "adjustment"
	// ReasonWaste records product discarded or spilled.
	ReasonWaste Reason = "waste"
)

// ErrUnknownReason indicates a reason string outside the closed set.
var ErrUnknownReason = errors.New("inventory: unknown reason")

var knownReasons = map[Reason]struct{}{
	ReasonPurchase:                {},
	ReasonReceived:                {},
	ReasonApplication:             {},
	ReasonApplicationEdit:         {},
	ReasonApplicationEditReversal: {},
	ReasonApplicationEditNew:      {},
	ReasonApplicationSync:         {},
	ReasonAdjustment:              {},
	ReasonWaste:                   {},
}

// ParseReason validates raw input against the closed reason set. Empty input yields adjustment.
func ParseReason(rawInput string) (Reason, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return ReasonAdjustment, nil
	}
	reason := Reason(trimmed)
	if _, ok := knownReasons[reason]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownReason, rawInput)
	}
	return reason, nil
}

// Manual reports whether the reason may be supplied by a manual stock adjustment.
func (r Reason) Manual() bool {
	switch r {
	case ReasonAdjustment, ReasonWaste, ReasonPurchase:
		return true
	default:
		return false
	}
}

// String returns the stored reason value.
func (r Reason) String() string {
	return string(r)
}

// Stock status values derived for listings.
const (
	StatusOK  = "OK"
	StatusLow = "LOW"
	StatusOut = "OUT"
)

// Record holds the on-hand quantity for one product. Quantity may go negative.
type Record struct {
	ProductID        int64     `gorm:"column:product_id;primaryKey;autoIncrement:false" json:"product_id"`
	Quantity         float64   `gorm:"column:quantity;not null" json:"quantity"`
	ReorderThreshold float64   `gorm:"column:reorder_threshold;not null" json:"reorder_threshold"`
	LastUpdated      time.Time `gorm:"column:last_updated;not null" json:"last_updated"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "inventory"
}

// Status derives the alerting status for the record.
func (r Record) Status() string {
	return StockStatus(r.Quantity, r.ReorderThreshold)
}

// StockStatus classifies a quantity against its reorder threshold.
func StockStatus(quantity, threshold float64) string {
	if quantity <= 0 {
		return StatusOut
	}
	if threshold > 0 && quantity <= threshold {
		return StatusLow
	}
	return StatusOK
}

// LogEntry is one append-only stock movement. Rows are never updated or deleted.
type LogEntry struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ProductID     int64     `gorm:"column:product_id;not null;index:idx_inventory_log_product,priority:1" json:"product_id"`
	ChangeAmount  float64   `gorm:"column:change_amount;not null" json:"change_amount"`
	Reason        Reason    `gorm:"column:reason;size:64;not null;index" json:"reason"`
	PONumber      *string   `gorm:"column:po_number;size:128" json:"po_number,omitempty"`
	ApplicationID *int64    `gorm:"column:application_id;index" json:"application_id,omitempty"`
	UserID        string    `gorm:"column:user_id;size:190;not null" json:"user_id"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;index:idx_inventory_log_product,priority:2" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (LogEntry) TableName() string {
	return "inventory_log"
}

// Adjustment describes one signed stock movement.
type Adjustment struct {
	ProductID     int64
	ChangeAmount  float64
	Reason        Reason
	ApplicationID *int64
	PONumber      string
	UserID        string
}

// Lookup is the result of an optional inventory record lookup. Absent is a valid outcome for
// products that are not stock-tracked.
type Lookup struct {
	record *Record
}

// Present reports whether the product is stock-tracked.
func (l Lookup) Present() bool {
	return l.record != nil
}

// Record returns the locked record; it is only meaningful when Present is true.
func (l Lookup) Record() Record {
	if l.record == nil {
		return Record{}
	}
	return *l.record
}

// StockLevel is a listing row joining the record with catalog details.
type StockLevel struct {
	Record
	ProductName   string `gorm:"column:product_name" json:"product_name"`
	ProductType   string `gorm:"column:product_type" json:"product_type"`
	UnitOfMeasure string `gorm:"column:unit_of_measure" json:"unit_of_measure"`
	StockStatus   string `gorm:"-" json:"status"`
}

// LogFilter narrows inventory log listings.
type LogFilter struct {
	ProductID     int64
	ApplicationID int64
	Limit         int
}
