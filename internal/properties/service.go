package properties

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/turfledger/internal/applications"
	"github.com/MarcoPoloResearchLab/turfledger/internal/audit"
	"github.com/MarcoPoloResearchLab/turfledger/internal/failure"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew = "properties.service.new"
	opCreate     = "properties.create"
	opUpdate     = "properties.update"
	opGet        = "properties.get"
	opList       = "properties.list"
	opDelete     = "properties.delete"
	opImport     = "properties.import"
	opListZones  = "properties.list_zones"
	opAddZone    = "properties.add_zone"
	opUpdateZone = "properties.update_zone"
	opDeleteZone = "properties.delete_zone"

	recordTypeProperty   = "property"
	recordTypeProperties = "properties"

	reasonMissingDatabase   = "missing_database"
	reasonMissingActivity   = "missing_activity"
	reasonMissingCustomer   = "missing_customer_or_address"
	reasonNotFound          = "property_not_found"
	reasonZoneNotFound      = "zone_not_found"
	reasonMissingZoneName   = "missing_zone_name"
	reasonInvalidZoneSqft   = "invalid_zone_sqft"
	reasonLinkedApplication = "linked_applications"
	reasonLinkedCases       = "linked_ipm_cases"
	reasonQueryFailed       = "query_failed"
	reasonInsertFailed      = "insert_failed"
	reasonUpdateFailed      = "update_failed"
	reasonDeleteFailed      = "delete_failed"
	reasonSyncFailed        = "sqft_sync_failed"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingActivity = errors.New("application activity reader is required")
)

// ApplicationActivity reads the application history linked to a property.
type ApplicationActivity interface {
	PropertyActivity(tx *gorm.DB, propertyID int64) (applications.PropertyActivity, error)
	CountPropertyReferences(tx *gorm.DB, propertyID int64) (int64, error)
}

// CaseTracker reports the IPM cases recorded at a property.
type CaseTracker interface {
	CountOpenCases(tx *gorm.DB, propertyID int64) (int64, error)
	CountPropertyCases(tx *gorm.DB, propertyID int64) (int64, error)
}

// AuditRecorder receives fire-and-forget audit events after commits.
type AuditRecorder interface {
	Record(ctx context.Context, recordType string, recordID int64, userID string, action string, changes any)
}

// ServiceConfig describes the property service dependencies.
type ServiceConfig struct {
	Database     *gorm.DB
	Applications ApplicationActivity
	Cases        CaseTracker
	Audit        AuditRecorder
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Service manages properties and keeps each property's square footage equal to its zone total.
type Service struct {
	db           *gorm.DB
	applications ApplicationActivity
	cases        CaseTracker
	audit        AuditRecorder
	clock        func() time.Time
	logger       *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, failure.Storage(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Applications == nil {
		return nil, failure.Storage(opServiceNew, reasonMissingActivity, errMissingActivity)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:           cfg.Database,
		applications: cfg.Applications,
		cases:        cfg.Cases,
		audit:        cfg.Audit,
		clock:        clock,
		logger:       logger,
	}, nil
}

// Create stores a property. Customer name and address are required.
func (s *Service) Create(ctx context.Context, userID string, input Input) (Property, error) {
	if !input.complete() {
		return Property{}, failure.Validation(opCreate, reasonMissingCustomer, nil)
	}
	property := input.build(s.clock().UTC())
	if err := s.db.WithContext(ctx).Create(&property).Error; err != nil {
		s.logError(opCreate, reasonInsertFailed, err)
		return Property{}, failure.Storage(opCreate, reasonInsertFailed, err)
	}
	s.recordAudit(ctx, recordTypeProperty, property.ID, userID, audit.ActionCreate, property)
	return property, nil
}

// Update applies a partial edit.
func (s *Service) Update(ctx context.Context, userID string, propertyID int64, update Update) (Property, error) {
	var before, after Property
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.takeProperty(tx, opUpdate, propertyID, &before); err != nil {
			return err
		}
		after = before
		if value := trimmed(update.CustomerName); value != "" {
			after.CustomerName = value
		}
		if value := trimmed(update.Address); value != "" {
			after.Address = value
		}
		if update.City != nil {
			after.City = strings.TrimSpace(*update.City)
		}
		if value := trimmed(update.State); value != "" {
			after.State = value
		}
		if update.Zip != nil {
			after.Zip = strings.TrimSpace(*update.Zip)
		}
		if update.Sqft != nil {
			sqft := *update.Sqft
			after.Sqft = &sqft
		}
		if update.SoilType != nil {
			after.SoilType = strings.TrimSpace(*update.SoilType)
		}
		if update.Notes != nil {
			after.Notes = *update.Notes
		}
		after.UpdatedAt = s.clock().UTC()
		if err := tx.Save(&after).Error; err != nil {
			s.logError(opUpdate, reasonUpdateFailed, err, zap.Int64("property_id", propertyID))
			return failure.Storage(opUpdate, reasonUpdateFailed, err)
		}
		// Zones own the square footage while any exist.
		if _, err := s.syncSqft(tx, opUpdate, propertyID); err != nil {
			return err
		}
		return s.takeProperty(tx, opUpdate, propertyID, &after)
	})
	if err != nil {
		return Property{}, err
	}
	s.recordAudit(ctx, recordTypeProperty, propertyID, userID, audit.ActionUpdate, map[string]any{"before": before, "after": after})
	return after, nil
}

// Get returns the property with zones, application count, last application date,
// profitability, and the number of unresolved IPM cases.
func (s *Service) Get(ctx context.Context, propertyID int64) (Detail, error) {
	var detail Detail
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.takeProperty(tx, opGet, propertyID, &detail.Property); err != nil {
			return err
		}
		zones, err := s.zones(tx, opGet, propertyID)
		if err != nil {
			return err
		}
		detail.Zones = zones
		activity, err := s.applications.PropertyActivity(tx, propertyID)
		if err != nil {
			return err
		}
		detail.PropertyActivity = activity
		if s.cases != nil {
			openCases, err := s.cases.CountOpenCases(tx, propertyID)
			if err != nil {
				s.logError(opGet, reasonQueryFailed, err, zap.Int64("property_id", propertyID))
				return failure.Storage(opGet, reasonQueryFailed, err)
			}
			detail.ActiveIPMCases = openCases
		}
		return nil
	})
	if err != nil {
		return Detail{}, err
	}
	return detail, nil
}

// List returns properties ordered by customer name.
func (s *Service) List(ctx context.Context, filter Filter) ([]Property, error) {
	query := s.db.WithContext(ctx).Model(&Property{})
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		query = query.Where("(customer_name LIKE ? OR address LIKE ? OR city LIKE ?)", pattern, pattern, pattern)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var properties []Property
	if err := query.Order("customer_name ASC").Find(&properties).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err)
		return nil, failure.Storage(opList, reasonQueryFailed, err)
	}
	return properties, nil
}

// Delete removes a property that no application or IPM case references.
func (s *Service) Delete(ctx context.Context, userID string, propertyID int64) error {
	var existing Property
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.takeProperty(tx, opDelete, propertyID, &existing); err != nil {
			return err
		}
		linked, err := s.applications.CountPropertyReferences(tx, propertyID)
		if err != nil {
			s.logError(opDelete, reasonQueryFailed, err, zap.Int64("property_id", propertyID))
			return failure.Storage(opDelete, reasonQueryFailed, err)
		}
		if linked > 0 {
			return failure.Validation(opDelete, reasonLinkedApplication,
				fmt.Errorf("cannot delete property with %d linked application(s)", linked))
		}
		if s.cases != nil {
			cases, err := s.cases.CountPropertyCases(tx, propertyID)
			if err != nil {
				s.logError(opDelete, reasonQueryFailed, err, zap.Int64("property_id", propertyID))
				return failure.Storage(opDelete, reasonQueryFailed, err)
			}
			if cases > 0 {
				return failure.Validation(opDelete, reasonLinkedCases,
					fmt.Errorf("cannot delete property with %d IPM case(s)", cases))
			}
		}
		if err := tx.Where("property_id = ?", propertyID).Delete(&Zone{}).Error; err != nil {
			s.logError(opDelete, reasonDeleteFailed, err, zap.Int64("property_id", propertyID))
			return failure.Storage(opDelete, reasonDeleteFailed, err)
		}
		if err := tx.Delete(&Property{}, propertyID).Error; err != nil {
			s.logError(opDelete, reasonDeleteFailed, err, zap.Int64("property_id", propertyID))
			return failure.Storage(opDelete, reasonDeleteFailed, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, recordTypeProperty, propertyID, userID, audit.ActionDelete, existing)
	return nil
}

// Import stores every complete row and reports the rest by 1-based row number.
func (s *Service) Import(ctx context.Context, userID string, inputs []Input) (ImportResult, error) {
	result := ImportResult{Errors: []string{}}
	now := s.clock().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for index, input := range inputs {
			row := index + 1
			if !input.complete() {
				result.Errors = append(result.Errors, fmt.Sprintf("Row %d: Missing customer_name or address", row))
				continue
			}
			property := input.build(now)
			// The nested transaction is a savepoint, so one failing row leaves the rest intact.
			if err := tx.Transaction(func(rowTx *gorm.DB) error {
				return rowTx.Create(&property).Error
			}); err != nil {
				s.logger.Warn("property import row failed",
					zap.String("operation", opImport),
					zap.Int("row", row),
					zap.Error(err))
				result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", row, err))
				continue
			}
			result.Imported++
		}
		return nil
	})
	if err != nil {
		s.logError(opImport, reasonInsertFailed, err)
		return ImportResult{}, failure.Storage(opImport, reasonInsertFailed, err)
	}
	s.recordAudit(ctx, recordTypeProperties, 0, userID, audit.ActionBulkImport, map[string]any{"count": result.Imported})
	return result, nil
}

// ListZones returns the property's zones in display order.
func (s *Service) ListZones(ctx context.Context, propertyID int64) ([]Zone, error) {
	return s.zones(s.db.WithContext(ctx), opListZones, propertyID)
}

// AddZone appends a zone after the current last one and resyncs the property total.
func (s *Service) AddZone(ctx context.Context, propertyID int64, input ZoneInput) (ZoneResult, error) {
	name := strings.TrimSpace(input.ZoneName)
	if name == "" {
		return ZoneResult{}, failure.Validation(opAddZone, reasonMissingZoneName, nil)
	}
	if input.Sqft <= 0 {
		return ZoneResult{}, failure.Validation(opAddZone, reasonInvalidZoneSqft, nil)
	}
	var result ZoneResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var property Property
		if err := s.takeProperty(tx.Clauses(clause.Locking{Strength: "UPDATE"}), opAddZone, propertyID, &property); err != nil {
			return err
		}
		var maxOrder int
		if err := tx.Model(&Zone{}).
			Where("property_id = ?", propertyID).
			Select("COALESCE(MAX(sort_order), 0)").
			Scan(&maxOrder).Error; err != nil {
			s.logError(opAddZone, reasonQueryFailed, err, zap.Int64("property_id", propertyID))
			return failure.Storage(opAddZone, reasonQueryFailed, err)
		}
		zone := Zone{
			PropertyID: propertyID,
			ZoneName:   name,
			Sqft:       input.Sqft,
			SortOrder:  maxOrder + 1,
			CreatedAt:  s.clock().UTC(),
		}
		if err := tx.Create(&zone).Error; err != nil {
			s.logError(opAddZone, reasonInsertFailed, err, zap.Int64("property_id", propertyID))
			return failure.Storage(opAddZone, reasonInsertFailed, err)
		}
		total, err := s.syncSqft(tx, opAddZone, propertyID)
		if err != nil {
			return err
		}
		result = ZoneResult{Zone: &zone, TotalSqft: total}
		return nil
	})
	if err != nil {
		return ZoneResult{}, err
	}
	return result, nil
}

// UpdateZone edits a zone and resyncs the property total.
func (s *Service) UpdateZone(ctx context.Context, propertyID, zoneID int64, update ZoneUpdate) (ZoneResult, error) {
	if update.ZoneName != nil && strings.TrimSpace(*update.ZoneName) == "" {
		return ZoneResult{}, failure.Validation(opUpdateZone, reasonMissingZoneName, nil)
	}
	if update.Sqft != nil && *update.Sqft <= 0 {
		return ZoneResult{}, failure.Validation(opUpdateZone, reasonInvalidZoneSqft, nil)
	}
	var result ZoneResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var zone Zone
		if err := s.takeZone(tx, opUpdateZone, propertyID, zoneID, &zone); err != nil {
			return err
		}
		if update.ZoneName != nil {
			zone.ZoneName = strings.TrimSpace(*update.ZoneName)
		}
		if update.Sqft != nil {
			zone.Sqft = *update.Sqft
		}
		if err := tx.Save(&zone).Error; err != nil {
			s.logError(opUpdateZone, reasonUpdateFailed, err, zap.Int64("zone_id", zoneID))
			return failure.Storage(opUpdateZone, reasonUpdateFailed, err)
		}
		total, err := s.syncSqft(tx, opUpdateZone, propertyID)
		if err != nil {
			return err
		}
		result = ZoneResult{Zone: &zone, TotalSqft: total}
		return nil
	})
	if err != nil {
		return ZoneResult{}, err
	}
	return result, nil
}

// DeleteZone removes a zone. When the last zone goes, the property keeps its last total.
func (s *Service) DeleteZone(ctx context.Context, propertyID, zoneID int64) (ZoneResult, error) {
	var result ZoneResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var zone Zone
		if err := s.takeZone(tx, opDeleteZone, propertyID, zoneID, &zone); err != nil {
			return err
		}
		if err := tx.Delete(&Zone{}, zoneID).Error; err != nil {
			s.logError(opDeleteZone, reasonDeleteFailed, err, zap.Int64("zone_id", zoneID))
			return failure.Storage(opDeleteZone, reasonDeleteFailed, err)
		}
		total, err := s.syncSqft(tx, opDeleteZone, propertyID)
		if err != nil {
			return err
		}
		result = ZoneResult{TotalSqft: total}
		return nil
	})
	if err != nil {
		return ZoneResult{}, err
	}
	return result, nil
}

// syncSqft writes the zone total onto the property when it is positive and returns it.
func (s *Service) syncSqft(tx *gorm.DB, operation string, propertyID int64) (float64, error) {
	var total float64
	if err := tx.Model(&Zone{}).
		Where("property_id = ?", propertyID).
		Select("COALESCE(SUM(sqft), 0)").
		Scan(&total).Error; err != nil {
		s.logError(operation, reasonSyncFailed, err, zap.Int64("property_id", propertyID))
		return 0, failure.Storage(operation, reasonSyncFailed, err)
	}
	if total <= 0 {
		return total, nil
	}
	if err := tx.Model(&Property{}).
		Where("id = ?", propertyID).
		Updates(map[string]any{"sqft": total, "updated_at": s.clock().UTC()}).Error; err != nil {
		s.logError(operation, reasonSyncFailed, err, zap.Int64("property_id", propertyID))
		return 0, failure.Storage(operation, reasonSyncFailed, err)
	}
	return total, nil
}

func (s *Service) zones(tx *gorm.DB, operation string, propertyID int64) ([]Zone, error) {
	var zones []Zone
	if err := tx.Where("property_id = ?", propertyID).Order("sort_order ASC, id ASC").Find(&zones).Error; err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.Int64("property_id", propertyID))
		return nil, failure.Storage(operation, reasonQueryFailed, err)
	}
	return zones, nil
}

// FindProperty returns the property when present. Absence is not an error.
func FindProperty(tx *gorm.DB, propertyID int64) (*Property, error) {
	var property Property
	err := tx.Where("id = ?", propertyID).Take(&property).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &property, nil
}

func (s *Service) takeProperty(tx *gorm.DB, operation string, propertyID int64, property *Property) error {
	err := tx.Where("id = ?", propertyID).Take(property).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return failure.NotFound(operation, reasonNotFound, err)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.Int64("property_id", propertyID))
		return failure.Storage(operation, reasonQueryFailed, err)
	}
	return nil
}

func (s *Service) takeZone(tx *gorm.DB, operation string, propertyID, zoneID int64, zone *Zone) error {
	err := tx.Where("id = ? AND property_id = ?", zoneID, propertyID).Take(zone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return failure.NotFound(operation, reasonZoneNotFound, err)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.Int64("zone_id", zoneID))
		return failure.Storage(operation, reasonQueryFailed, err)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, recordType string, recordID int64, userID, action string, changes any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, recordType, recordID, userID, action, changes)
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
	s.logger.Error("property service error", attrs...)
}

func trimmed(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}
