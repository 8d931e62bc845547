package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/turfledger/internal/failure"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreateProduct = "catalog.create_product"
	opUpdateProduct = "catalog.update_product"
	opGetProduct    = "catalog.get_product"
	opListProducts  = "catalog.list_products"
	opDeleteProduct = "catalog.delete_product"
	opServiceNew    = "catalog.service.new"

	reasonMissingDatabase = "missing_database"
	reasonMissingName     = "missing_name"
	reasonMissingUnit     = "missing_unit"
	reasonNotFound        = "product_not_found"
	reasonReferenced      = "product_referenced"
	reasonQueryFailed     = "query_failed"
	reasonInsertFailed    = "insert_failed"
	reasonUpdateFailed    = "update_failed"
	reasonDeleteFailed    = "delete_failed"
	reasonTrackFailed     = "track_failed"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrProductReferenced indicates a product cannot be deleted because history references it.
	ErrProductReferenced = errors.New("catalog: product is referenced by inventory, applications, or purchases")
)

// StockTracker starts inventory tracking for a product inside the caller's transaction.
type StockTracker interface {
	TrackInTx(tx *gorm.DB, productID int64, reorderThreshold float64) error
}

// ReferenceCounter reports how many rows in other ledgers reference a product.
type ReferenceCounter interface {
	CountProductReferences(tx *gorm.DB, productID int64) (int64, error)
}

// ServiceConfig describes the catalog dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Stock      StockTracker
	References []ReferenceCounter
	Logger     *zap.Logger
}

// Service manages catalog products.
type Service struct {
	db         *gorm.DB
	stock      StockTracker
	references []ReferenceCounter
	logger     *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, failure.Storage(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		stock:      cfg.Stock,
		references: cfg.References,
		logger:     logger,
	}, nil
}

// CreateProduct stores a new product and, when requested, starts tracking its stock.
func (s *Service) CreateProduct(ctx context.Context, input ProductInput) (Product, error) {
	if err := validateInput(opCreateProduct, input); err != nil {
		return Product{}, err
	}
	var product Product
	input.apply(&product)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&product).Error; err != nil {
			s.logError(opCreateProduct, reasonInsertFailed, err)
			return failure.Storage(opCreateProduct, reasonInsertFailed, err)
		}
		if input.TrackInventory && s.stock != nil {
			if err := s.stock.TrackInTx(tx, product.ID, input.ReorderThreshold); err != nil {
				s.logError(opCreateProduct, reasonTrackFailed, err, zap.Int64("product_id", product.ID))
				return failure.Storage(opCreateProduct, reasonTrackFailed, err)
			}
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

// UpdateProduct applies an admin edit to the catalog entry.
func (s *Service) UpdateProduct(ctx context.Context, productID int64, input ProductInput) (Product, error) {
	if err := validateInput(opUpdateProduct, input); err != nil {
		return Product{}, err
	}
	var product Product
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.takeProduct(tx, opUpdateProduct, productID, &product); err != nil {
			return err
		}
		input.apply(&product)
		if err := tx.Save(&product).Error; err != nil {
			s.logError(opUpdateProduct, reasonUpdateFailed, err, zap.Int64("product_id", productID))
			return failure.Storage(opUpdateProduct, reasonUpdateFailed, err)
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

// GetProduct loads a single product.
func (s *Service) GetProduct(ctx context.Context, productID int64) (Product, error) {
	var product Product
	if err := s.takeProduct(s.db.WithContext(ctx), opGetProduct, productID, &product); err != nil {
		return Product{}, err
	}
	return product, nil
}

// FindProduct returns the product when present. Absence is not an error.
func FindProduct(tx *gorm.DB, productID int64) (*Product, error) {
	var product Product
	err := tx.Where("id = ?", productID).Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts returns catalog entries ordered by name.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	query := s.db.WithContext(ctx).Model(&Product{})
	if search := normalize(filter.Search); search != "" {
		pattern := "%" + search + "%"
		query = query.Where("(name LIKE ? OR epa_reg_number LIKE ? OR active_ingredients LIKE ?)", pattern, pattern, pattern)
	}
	if productType := normalize(filter.Type); productType != "" {
		query = query.Where("product_type = ?", productType)
	}
	var products []Product
	if err := query.Order("name ASC").Find(&products).Error; err != nil {
		s.logError(opListProducts, reasonQueryFailed, err)
		return nil, failure.Storage(opListProducts, reasonQueryFailed, err)
	}
	return products, nil
}

// DeleteProduct removes an unreferenced product.
func (s *Service) DeleteProduct(ctx context.Context, productID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var product Product
		if err := s.takeProduct(tx, opDeleteProduct, productID, &product); err != nil {
			return err
		}
		for _, counter := range s.references {
			count, err := counter.CountProductReferences(tx, productID)
			if err != nil {
				s.logError(opDeleteProduct, reasonQueryFailed, err, zap.Int64("product_id", productID))
				return failure.Storage(opDeleteProduct, reasonQueryFailed, err)
			}
			if count > 0 {
				return failure.Validation(opDeleteProduct, reasonReferenced, ErrProductReferenced)
			}
		}
		if err := tx.Delete(&Product{}, productID).Error; err != nil {
			s.logError(opDeleteProduct, reasonDeleteFailed, err, zap.Int64("product_id", productID))
			return failure.Storage(opDeleteProduct, reasonDeleteFailed, err)
		}
		return nil
	})
}

func (s *Service) takeProduct(tx *gorm.DB, operation string, productID int64, product *Product) error {
	err := tx.Where("id = ?", productID).Take(product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return failure.NotFound(operation, reasonNotFound, err)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.Int64("product_id", productID))
		return failure.Storage(operation, reasonQueryFailed, err)
	}
	return nil
}

func validateInput(operation string, input ProductInput) error {
	if normalize(input.Name) == "" {
		return failure.Validation(operation, reasonMissingName, nil)
	}
	if normalize(input.UnitOfMeasure) == "" {
		return failure.Validation(operation, reasonMissingUnit, nil)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("catalog service error", attrs...)
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
