package catalog_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/turfledger/internal/catalog"
	"github.com/MarcoPoloResearchLab/turfledger/internal/database"
	"github.com/MarcoPoloResearchLab/turfledger/internal/failure"
	"github.com/MarcoPoloResearchLab/turfledger/internal/inventory"
)

func TestDeleteProductRefusesTrackedProductWithoutMovement(t *testing.T) {
	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "catalog.db"),
	}, nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	ledger, err := inventory.NewLedger(inventory.LedgerConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct ledger: %v", err)
	}
	service, err := catalog.NewService(catalog.ServiceConfig{
		Database:   db,
		Stock:      ledger,
		References: []catalog.ReferenceCounter{ledger},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	ctx := context.Background()
	tracked, err := service.CreateProduct(ctx, catalog.ProductInput{Name: "Tenacity", UnitOfMeasure: "oz", TrackInventory: true})
	if err != nil {
		t.Fatalf("failed to create product: %v", err)
	}
	err = service.DeleteProduct(ctx, tracked.ID)
	if !failure.Is(err, failure.KindValidation) || !errors.Is(err, catalog.ErrProductReferenced) {
		t.Fatalf("expected tracked product delete to be refused, got %v", err)
	}
	var records int64
	if err := db.Model(&inventory.Record{}).Where("product_id = ?", tracked.ID).Count(&records).Error; err != nil {
		t.Fatalf("failed to count records: %v", err)
	}
	if records != 1 {
		t.Fatalf("expected the inventory record to remain, got %d", records)
	}

	untracked, err := service.CreateProduct(ctx, catalog.ProductInput{Name: "Surfactant", UnitOfMeasure: "oz"})
	if err != nil {
		t.Fatalf("failed to create product: %v", err)
	}
	if err := service.DeleteProduct(ctx, untracked.ID); err != nil {
		t.Fatalf("expected untracked product to be deleted, got %v", err)
	}
}
