package purchases

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Purchase is one receiving line item used for cost reporting. It is written alongside, and
// independently of, the received inventory log entry for the same delivery.
type Purchase struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ProductID    int64     `gorm:"column:product_id;not null;index" json:"product_id"`
	Quantity     float64   `gorm:"column:quantity;not null" json:"quantity"`
	UnitCost     *float64  `gorm:"column:unit_cost" json:"unit_cost"`
	TotalCost    *float64  `gorm:"column:total_cost" json:"total_cost"`
	PONumber     string    `gorm:"column:po_number;size:128;index" json:"po_number"`
	VendorName   string    `gorm:"column:vendor_name;size:256" json:"vendor_name"`
	PurchaseDate string    `gorm:"column:purchase_date;size:10;not null;index" json:"purchase_date"`
	ReceivedDate string    `gorm:"column:received_date;size:10" json:"received_date"`
	Notes        string    `gorm:"column:notes;type:text" json:"notes"`
	CreatedBy    string    `gorm:"column:created_by;size:190" json:"created_by"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Purchase) TableName() string {
	return "purchases"
}

// View is a purchase joined with catalog details.
type View struct {
	Purchase
	ProductName   string `gorm:"column:product_name" json:"product_name"`
	ProductType   string `gorm:"column:product_type" json:"product_type"`
	UnitOfMeasure string `gorm:"column:unit_of_measure" json:"unit_of_measure"`
}

// ReceiveItem is one line of a delivery.
type ReceiveItem struct {
	ProductID int64    `json:"product_id"`
	Quantity  float64  `json:"quantity"`
	UnitCost  *float64 `json:"unit_cost"`
}

// Receipt is a delivery with its shared metadata.
type Receipt struct {
	Items        []ReceiveItem `json:"items"`
	PONumber     string        `json:"po_number"`
	VendorName   string        `json:"vendor_name"`
	PurchaseDate string        `json:"purchase_date"`
	ReceivedDate string        `json:"received_date"`
	Notes        string        `json:"notes"`
}

// ReceiveResult reports the rows written for a receipt.
type ReceiveResult struct {
	Received    int     `json:"received"`
	PurchaseIDs []int64 `json:"purchase_ids"`
}

// Update carries a cost or vendor correction. Nil fields keep their stored value.
type Update struct {
	Quantity     *float64 `json:"quantity"`
	UnitCost     *float64 `json:"unit_cost"`
	VendorName   *string  `json:"vendor_name"`
	PONumber     *string  `json:"po_number"`
	PurchaseDate *string  `json:"purchase_date"`
	Notes        *string  `json:"notes"`
}

// Filter narrows purchase listings. Month (YYYY-MM) takes precedence over From and To.
type Filter struct {
	Month     string
	From      string
	To        string
	ProductID int64
}

// ItemError identifies the failing line of an all-or-nothing receipt.
type ItemError struct {
	Index     int
	ProductID int64
	Err       error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d (product %d): %v", e.Index+1, e.ProductID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// Report is the cost-of-goods-sold summary for a period.
type Report struct {
	Lines     []View  `json:"lines"`
	TotalCost float64 `json:"total_cost"`
	Period    string  `json:"period"`
}

// lineTotal returns quantity times unit cost, or nil when no cost is known.
func lineTotal(quantity float64, unitCost *float64) *float64 {
	if unitCost == nil {
		return nil
	}
	total := quantity * *unitCost
	return &total
}
