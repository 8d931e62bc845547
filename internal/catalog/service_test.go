package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/turfledger/internal/failure"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type recordingTracker struct {
	tracked map[int64]float64
}

func (r *recordingTracker) TrackInTx(_ *gorm.DB, productID int64, reorderThreshold float64) error {
	r.tracked[productID] = reorderThreshold
	return nil
}

type fixedReferences map[int64]int64

func (f fixedReferences) CountProductReferences(_ *gorm.DB, productID int64) (int64, error) {
	return f[productID], nil
}

type failingReferences struct{}

func (failingReferences) CountProductReferences(*gorm.DB, int64) (int64, error) {
	return 0, errors.New("references unavailable")
}

func TestCreateProductRequiresNameAndUnit(t *testing.T) {
	service, _ := newTestService(t, nil)

	testCases := []struct {
		name   string
		input  ProductInput
		reason string
	}{
		{name: "missing name", input: ProductInput{Name: "  ", UnitOfMeasure: "oz"}, reason: reasonMissingName},
		{name: "missing unit", input: ProductInput{Name: "Acelepryn"}, reason: reasonMissingUnit},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.CreateProduct(context.Background(), testCase.input)
			var classified *failure.Error
			if !errors.As(err, &classified) || classified.Kind() != failure.KindValidation || classified.Reason() != testCase.reason {
				t.Fatalf("expected %s validation failure, got %v", testCase.reason, err)
			}
		})
	}
}

func TestCreateProductStartsTracking(t *testing.T) {
	service, tracker := newTestService(t, nil)

	tracked, err := service.CreateProduct(context.Background(), ProductInput{
		Name:             " Acelepryn ",
		UnitOfMeasure:    "fl oz",
		TrackInventory:   true,
		ReorderThreshold: 12,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tracked.ID == 0 || tracked.Name != "Acelepryn" {
		t.Fatalf("unexpected product %#v", tracked)
	}
	if threshold, ok := tracker.tracked[tracked.ID]; !ok || threshold != 12 {
		t.Fatalf("expected tracking with threshold 12, got %v (%v)", threshold, ok)
	}

	untracked, err := service.CreateProduct(context.Background(), ProductInput{Name: "Drive XLR8", UnitOfMeasure: "oz"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := tracker.tracked[untracked.ID]; ok {
		t.Fatalf("product %d must not be tracked", untracked.ID)
	}
}

func TestUpdateAndGetProduct(t *testing.T) {
	service, _ := newTestService(t, nil)
	created, err := service.CreateProduct(context.Background(), ProductInput{Name: "Tenacity", UnitOfMeasure: "oz"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := service.UpdateProduct(context.Background(), created.ID, ProductInput{
		Name:            "Tenacity Herbicide",
		UnitOfMeasure:   "oz",
		IsRestrictedUse: true,
		SignalWord:      "Caution",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.ID != created.ID || updated.Name != "Tenacity Herbicide" || !updated.IsRestrictedUse {
		t.Fatalf("unexpected update %#v", updated)
	}

	loaded, err := service.GetProduct(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.SignalWord != "Caution" {
		t.Fatalf("expected stored signal word, got %q", loaded.SignalWord)
	}

	if _, err := service.GetProduct(context.Background(), 404); !failure.Is(err, failure.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := service.UpdateProduct(context.Background(), 404, ProductInput{Name: "X", UnitOfMeasure: "oz"}); !failure.Is(err, failure.KindNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}
}

func TestListProductsFilters(t *testing.T) {
	service, _ := newTestService(t, nil)
	for _, input := range []ProductInput{
		{Name: "Specticle FLO", UnitOfMeasure: "oz", ProductType: "herbicide", ActiveIngredients: "indaziflam"},
		{Name: "Acelepryn", UnitOfMeasure: "oz", ProductType: "insecticide", ActiveIngredients: "chlorantraniliprole"},
		{Name: "Barricade", UnitOfMeasure: "lb", ProductType: "herbicide", EPARegNumber: "100-1139"},
	} {
		if _, err := service.CreateProduct(context.Background(), input); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	all, err := service.ListProducts(context.Background(), ProductFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 3 || all[0].Name != "Acelepryn" || all[2].Name != "Specticle FLO" {
		t.Fatalf("expected name ordering, got %#v", all)
	}

	herbicides, err := service.ListProducts(context.Background(), ProductFilter{Type: "herbicide"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(herbicides) != 2 {
		t.Fatalf("expected two herbicides, got %d", len(herbicides))
	}

	byIngredient, err := service.ListProducts(context.Background(), ProductFilter{Search: "indaziflam"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byIngredient) != 1 || byIngredient[0].Name != "Specticle FLO" {
		t.Fatalf("unexpected ingredient search %#v", byIngredient)
	}

	byEPA, err := service.ListProducts(context.Background(), ProductFilter{Search: "100-1139", Type: "herbicide"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byEPA) != 1 || byEPA[0].Name != "Barricade" {
		t.Fatalf("unexpected epa search %#v", byEPA)
	}
}

func TestDeleteProductRefusesReferencedProducts(t *testing.T) {
	references := fixedReferences{}
	service, _ := newTestService(t, []ReferenceCounter{references})
	referenced, err := service.CreateProduct(context.Background(), ProductInput{Name: "Dylox", UnitOfMeasure: "lb"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unused, err := service.CreateProduct(context.Background(), ProductInput{Name: "Merit", UnitOfMeasure: "lb"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	references[referenced.ID] = 4

	err = service.DeleteProduct(context.Background(), referenced.ID)
	if !failure.Is(err, failure.KindValidation) || !errors.Is(err, ErrProductReferenced) {
		t.Fatalf("expected referenced refusal, got %v", err)
	}
	if _, err := service.GetProduct(context.Background(), referenced.ID); err != nil {
		t.Fatalf("referenced product must remain, got %v", err)
	}

	if err := service.DeleteProduct(context.Background(), unused.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.GetProduct(context.Background(), unused.ID); !failure.Is(err, failure.KindNotFound) {
		t.Fatalf("expected deleted product to be gone, got %v", err)
	}
	if err := service.DeleteProduct(context.Background(), unused.ID); !failure.Is(err, failure.KindNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestDeleteProductSurfacesCounterFailure(t *testing.T) {
	service, _ := newTestService(t, []ReferenceCounter{failingReferences{}})
	product, err := service.CreateProduct(context.Background(), ProductInput{Name: "Dithane", UnitOfMeasure: "lb"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.DeleteProduct(context.Background(), product.ID); !failure.Is(err, failure.KindStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestNewServiceRequiresDatabase(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); !failure.Is(err, failure.KindStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func newTestService(t *testing.T, references []ReferenceCounter) (*Service, *recordingTracker) {
	t.Helper()

	dsn := fmt.Sprintf("file:catalog_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Product{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	tracker := &recordingTracker{tracked: map[int64]float64{}}
	service, err := NewService(ServiceConfig{Database: db, Stock: tracker, References: references})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, tracker
}
