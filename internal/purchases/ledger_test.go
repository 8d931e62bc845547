package purchases

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/turfledger/internal/catalog"
	"github.com/MarcoPoloResearchLab/turfledger/internal/failure"
	"github.com/MarcoPoloResearchLab/turfledger/internal/inventory"
	sqlite "github.com/glebarez/sqlite"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const testUserID = "admin-1"

type testHarness struct {
	db        *gorm.DB
	inventory *inventory.Ledger
	ledger    *Ledger
}

func TestReceiveBooksInventoryAndPurchases(t *testing.T) {
	h := newHarness(t)
	h.track(t, 1, 2, 3)

	result, err := h.ledger.Receive(context.Background(), testUserID, Receipt{
		Items: []ReceiveItem{
			{ProductID: 1, Quantity: 10, UnitCost: floatPtr(4.5)},
			{ProductID: 2, Quantity: 2},
			{ProductID: 3, Quantity: 1.5, UnitCost: floatPtr(20)},
		},
		PONumber:     "PO-881",
		VendorName:   "Site One",
		PurchaseDate: "2024-03-04",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Received != 3 || len(result.PurchaseIDs) != 3 {
		t.Fatalf("unexpected result %#v", result)
	}
	if h.quantity(t, 1) != 10 || h.quantity(t, 2) != 2 || h.quantity(t, 3) != 1.5 {
		t.Fatalf("unexpected quantities")
	}

	var entries []inventory.LogEntry
	if err := h.db.Order("id ASC").Find(&entries).Error; err != nil {
		t.Fatalf("failed to load log: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected three received entries, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.Reason != inventory.ReasonReceived || entry.PONumber == nil || *entry.PONumber != "PO-881" {
			t.Fatalf("unexpected entry %#v", entry)
		}
	}

	first, err := h.ledger.Get(context.Background(), result.PurchaseIDs[0])
	if err != nil {
		t.Fatalf("failed to load purchase: %v", err)
	}
	if first.TotalCost == nil || *first.TotalCost != 45 || first.ProductName != "Product 1" {
		t.Fatalf("unexpected purchase view %#v", first)
	}
	if first.ReceivedDate != "2024-03-04" {
		t.Fatalf("expected received date to default to purchase date, got %q", first.ReceivedDate)
	}
	second, err := h.ledger.Get(context.Background(), result.PurchaseIDs[1])
	if err != nil {
		t.Fatalf("failed to load purchase: %v", err)
	}
	if second.TotalCost != nil {
		t.Fatalf("expected no total without unit cost, got %v", *second.TotalCost)
	}
}

func TestReceiveIsAllOrNothing(t *testing.T) {
	testCases := []struct {
		name   string
		items  []ReceiveItem
		reason string
	}{
		{
			name: "zero-quantity",
			items: []ReceiveItem{
				{ProductID: 1, Quantity: 5},
				{ProductID: 2, Quantity: 0},
				{ProductID: 3, Quantity: 5},
			},
			reason: reasonInvalidQuantity,
		},
		{
			name: "untracked-product",
			items: []ReceiveItem{
				{ProductID: 1, Quantity: 5},
				{ProductID: 2, Quantity: 5},
				{ProductID: 99, Quantity: 5},
			},
			reason: reasonUntrackedProduct,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			h := newHarness(t)
			h.track(t, 1, 2, 3)

			_, err := h.ledger.Receive(context.Background(), testUserID, Receipt{Items: testCase.items, PONumber: "PO-1"})
			if !failure.Is(err, failure.KindBatchItem) {
				t.Fatalf("expected batch item failure, got %v", err)
			}
			var classified *failure.Error
			if !errors.As(err, &classified) || classified.Reason() != testCase.reason {
				t.Fatalf("expected reason %s, got %v", testCase.reason, err)
			}
			var itemErr *ItemError
			if !errors.As(err, &itemErr) {
				t.Fatalf("expected item error, got %v", err)
			}
			for _, productID := range []int64{1, 2, 3} {
				if quantity := h.quantity(t, productID); quantity != 0 {
					t.Fatalf("expected product %d unchanged, got %v", productID, quantity)
				}
			}
			var purchases, entries int64
			h.db.Model(&Purchase{}).Count(&purchases)
			h.db.Model(&inventory.LogEntry{}).Count(&entries)
			if purchases != 0 || entries != 0 {
				t.Fatalf("expected no rows, got %d purchases and %d entries", purchases, entries)
			}
		})
	}
}

func TestReceiveRejectsEmptyReceipt(t *testing.T) {
	h := newHarness(t)
	if _, err := h.ledger.Receive(context.Background(), testUserID, Receipt{}); !failure.Is(err, failure.KindValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestUpdateRecomputesTotalWithoutTouchingInventory(t *testing.T) {
	h := newHarness(t)
	h.track(t, 1)
	result, err := h.ledger.Receive(context.Background(), testUserID, Receipt{
		Items:        []ReceiveItem{{ProductID: 1, Quantity: 10, UnitCost: floatPtr(3)}},
		PurchaseDate: "2024-03-04",
	})
	if err != nil {
		t.Fatalf("failed to receive: %v", err)
	}

	vendor := "Lesco"
	updated, err := h.ledger.Update(context.Background(), testUserID, result.PurchaseIDs[0], Update{
		Quantity:   floatPtr(8),
		UnitCost:   floatPtr(3.25),
		VendorName: &vendor,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.TotalCost == nil || *updated.TotalCost != 26 || updated.VendorName != "Lesco" {
		t.Fatalf("unexpected updated purchase %#v", updated)
	}
	if quantity := h.quantity(t, 1); quantity != 10 {
		t.Fatalf("purchase edits must not move inventory, got %v", quantity)
	}
	var entries int64
	h.db.Model(&inventory.LogEntry{}).Count(&entries)
	if entries != 1 {
		t.Fatalf("expected the original received entry only, got %d", entries)
	}

	if _, err := h.ledger.Update(context.Background(), testUserID, 404, Update{}); !failure.Is(err, failure.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.ledger.Update(context.Background(), testUserID, result.PurchaseIDs[0], Update{Quantity: floatPtr(0)}); !failure.Is(err, failure.KindValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestListAndReportFilterByMonth(t *testing.T) {
	h := newHarness(t)
	h.track(t, 1, 2)
	h.receive(t, "2024-02-27", ReceiveItem{ProductID: 1, Quantity: 1, UnitCost: floatPtr(100)})
	h.receive(t, "2024-03-01", ReceiveItem{ProductID: 1, Quantity: 2, UnitCost: floatPtr(10)})
	h.receive(t, "2024-03-31", ReceiveItem{ProductID: 2, Quantity: 4, UnitCost: floatPtr(2.5)}, ReceiveItem{ProductID: 1, Quantity: 1})

	march, err := h.ledger.List(context.Background(), Filter{Month: "2024-03"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(march) != 3 || march[0].PurchaseDate != "2024-03-31" {
		t.Fatalf("unexpected march listing %#v", march)
	}
	byProduct, err := h.ledger.List(context.Background(), Filter{ProductID: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byProduct) != 1 {
		t.Fatalf("expected one purchase for product 2, got %d", len(byProduct))
	}
	if _, err := h.ledger.List(context.Background(), Filter{Month: "March"}); !failure.Is(err, failure.KindValidation) {
		t.Fatalf("expected invalid month to be rejected, got %v", err)
	}

	report, err := h.ledger.Report(context.Background(), Filter{Month: "2024-03"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Lines) != 3 || report.TotalCost != 30 || report.Lines[0].PurchaseDate != "2024-03-01" {
		t.Fatalf("unexpected report %#v", report)
	}
	if WorkbookFilename(report) != "cogs-report-2024-03.xlsx" {
		t.Fatalf("unexpected filename %s", WorkbookFilename(report))
	}
	ranged, err := h.ledger.Report(context.Background(), Filter{From: "2024-02-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranged.Period != "2024-02-01-to-all" || ranged.TotalCost != 130 {
		t.Fatalf("unexpected ranged report %#v", ranged)
	}
}

func TestWriteWorkbookAppendsTotalRow(t *testing.T) {
	report := Report{
		Lines: []View{
			{
				Purchase:      Purchase{PurchaseDate: "2024-03-01", PONumber: "PO-1", Quantity: 2, UnitCost: floatPtr(10), TotalCost: floatPtr(20)},
				ProductName:   "Barricade",
				UnitOfMeasure: "lb",
			},
			{
				Purchase:    Purchase{PurchaseDate: "2024-03-02", Quantity: 1},
				ProductName: "Acelepryn",
			},
		},
		TotalCost: 20,
		Period:    "2024-03",
	}

	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	workbook, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("failed to open workbook: %v", err)
	}
	defer workbook.Close()

	rows, err := workbook.GetRows(cogsSheet)
	if err != nil {
		t.Fatalf("failed to read rows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header, two lines, and total, got %d rows", len(rows))
	}
	if rows[0][0] != "Date" || rows[1][3] != "Barricade" {
		t.Fatalf("unexpected rows %#v", rows)
	}
	if rows[3][7] != "TOTAL" {
		t.Fatalf("expected TOTAL label, got %#v", rows[3])
	}
	total, err := workbook.GetCellValue(cogsSheet, "I4", excelize.Options{RawCellValue: true})
	if err != nil || total != "20" {
		t.Fatalf("expected raw total 20, got %q %v", total, err)
	}
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:purchases_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&catalog.Product{}, &inventory.Record{}, &inventory.LogEntry{}, &Purchase{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	var tick int64
	clock := func() time.Time {
		tick++
		return time.Unix(1709500000+tick, 0).UTC()
	}
	stock, err := inventory.NewLedger(inventory.LedgerConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct inventory ledger: %v", err)
	}
	ledger, err := NewLedger(LedgerConfig{Database: db, Inventory: stock, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct purchase ledger: %v", err)
	}
	return &testHarness{db: db, inventory: stock, ledger: ledger}
}

func (h *testHarness) track(t *testing.T, productIDs ...int64) {
	t.Helper()
	for _, productID := range productIDs {
		product := catalog.Product{ID: productID, Name: fmt.Sprintf("Product %d", productID), UnitOfMeasure: "lb", ProductType: "granular"}
		if err := h.db.Create(&product).Error; err != nil {
			t.Fatalf("failed to seed product: %v", err)
		}
		if err := h.db.Transaction(func(tx *gorm.DB) error {
			return h.inventory.TrackInTx(tx, productID, 0)
		}); err != nil {
			t.Fatalf("failed to track product: %v", err)
		}
	}
}

func (h *testHarness) receive(t *testing.T, date string, items ...ReceiveItem) {
	t.Helper()
	if _, err := h.ledger.Receive(context.Background(), testUserID, Receipt{Items: items, PurchaseDate: date}); err != nil {
		t.Fatalf("failed to receive: %v", err)
	}
}

func (h *testHarness) quantity(t *testing.T, productID int64) float64 {
	t.Helper()
	var record inventory.Record
	if err := h.db.Where("product_id = ?", productID).Take(&record).Error; err != nil {
		t.Fatalf("failed to load inventory: %v", err)
	}
	return record.Quantity
}

func floatPtr(value float64) *float64 {
	return &value
}
