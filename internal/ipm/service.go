package ipm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/turfledger/internal/audit"
	"github.com/MarcoPoloResearchLab/turfledger/internal/failure"
	"github.com/MarcoPoloResearchLab/turfledger/internal/properties"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew      = "ipm.service.new"
	opCreate          = "ipm.create"
	opUpdate          = "ipm.update"
	opGet             = "ipm.get"
	opList            = "ipm.list"
	opAddObservation  = "ipm.add_observation"
	opCountCases      = "ipm.count_cases"
	recordTypeCase    = "ipm_case"
	fieldCaseID       = "case_id"
	queryByPropertyID = "property_id = ?"

	reasonMissingDatabase   = "missing_database"
	reasonMissingProperty   = "missing_property"
	reasonMissingIssue      = "missing_issue_description"
	reasonMissingNotes      = "missing_notes"
	reasonInvalidStatus     = "invalid_status"
	reasonInvalidTransition = "invalid_transition"
	reasonPropertyNotFound  = "property_not_found"
	reasonCaseNotFound      = "case_not_found"
	reasonQueryFailed       = "query_failed"
	reasonInsertFailed      = "insert_failed"
	reasonUpdateFailed      = "update_failed"
)

var errMissingDatabase = errors.New("database handle is required")

// AuditRecorder receives fire-and-forget audit events after commits.
type AuditRecorder interface {
	Record(ctx context.Context, recordType string, recordID int64, userID string, action string, changes any)
}

// ServiceConfig describes the IPM service dependencies.
type ServiceConfig struct {
	Database *gorm.DB
	Audit    AuditRecorder
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service tracks IPM cases and their observations per property.
type Service struct {
	db     *gorm.DB
	audit  AuditRecorder
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and returns a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, failure.Storage(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, audit: cfg.Audit, clock: clock, logger: logger}, nil
}

// Create opens an active case on an existing property.
func (s *Service) Create(ctx context.Context, userID string, input CaseInput) (Case, error) {
	if input.PropertyID <= 0 {
		return Case{}, failure.Validation(opCreate, reasonMissingProperty, nil)
	}
	description := strings.TrimSpace(input.IssueDescription)
	if description == "" {
		return Case{}, failure.Validation(opCreate, reasonMissingIssue, nil)
	}
	created := Case{
		PropertyID:       input.PropertyID,
		IssueDescription: description,
		Status:           StatusActive,
		CreatedBy:        userID,
		CreatedAt:        s.clock().UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.requireProperty(tx, opCreate, input.PropertyID); err != nil {
			return err
		}
		if err := tx.Create(&created).Error; err != nil {
			s.logError(opCreate, reasonInsertFailed, err, zap.Int64("property_id", input.PropertyID))
			return failure.Storage(opCreate, reasonInsertFailed, err)
		}
		return nil
	})
	if err != nil {
		return Case{}, err
	}
	s.recordAudit(ctx, created.ID, userID, audit.ActionCreate, created)
	return created, nil
}

// Update applies a status transition and/or a description edit. Moving to resolved stamps
// resolved_at; any other status clears it.
func (s *Service) Update(ctx context.Context, userID string, caseID int64, update CaseUpdate) (Case, error) {
	var target Status
	if update.Status != nil && strings.TrimSpace(*update.Status) != "" {
		parsed, err := ParseStatus(*update.Status)
		if err != nil {
			return Case{}, failure.Validation(opUpdate, reasonInvalidStatus, err)
		}
		target = parsed
	}

	var before, after Case
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.takeCase(tx.Clauses(clause.Locking{Strength: "UPDATE"}), opUpdate, caseID, &before); err != nil {
			return err
		}
		after = before
		if target != "" && target != before.Status {
			if !CanTransition(before.Status, target) {
				return failure.Validation(opUpdate, reasonInvalidTransition,
					fmt.Errorf("cannot transition from %s to %s", before.Status, target))
			}
			after.Status = target
		}
		if update.IssueDescription != nil {
			if description := strings.TrimSpace(*update.IssueDescription); description != "" {
				after.IssueDescription = description
			}
		}
		switch {
		case after.Status != StatusResolved:
			after.ResolvedAt = nil
		case before.Status != StatusResolved:
			resolvedAt := s.clock().UTC()
			after.ResolvedAt = &resolvedAt
		}
		if err := tx.Save(&after).Error; err != nil {
			s.logError(opUpdate, reasonUpdateFailed, err, zap.Int64(fieldCaseID, caseID))
			return failure.Storage(opUpdate, reasonUpdateFailed, err)
		}
		return nil
	})
	if err != nil {
		return Case{}, err
	}
	s.recordAudit(ctx, caseID, userID, audit.ActionUpdate, map[string]any{"before": before, "after": after})
	return after, nil
}

// Get returns the case with its property and observations, oldest first.
func (s *Service) Get(ctx context.Context, caseID int64) (Detail, error) {
	var detail Detail
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.takeCase(tx, opGet, caseID, &detail.Case); err != nil {
			return err
		}
		property, err := properties.FindProperty(tx, detail.PropertyID)
		if err != nil {
			s.logError(opGet, reasonQueryFailed, err, zap.Int64(fieldCaseID, caseID))
			return failure.Storage(opGet, reasonQueryFailed, err)
		}
		if property != nil {
			detail.CustomerName = property.CustomerName
			detail.Address = property.Address
		}
		detail.Observations = []Observation{}
		if err := tx.Where(fieldCaseID+" = ?", caseID).Order("created_at ASC, id ASC").Find(&detail.Observations).Error; err != nil {
			s.logError(opGet, reasonQueryFailed, err, zap.Int64(fieldCaseID, caseID))
			return failure.Storage(opGet, reasonQueryFailed, err)
		}
		return nil
	})
	if err != nil {
		return Detail{}, err
	}
	return detail, nil
}

// List returns cases newest first with their property and observation count.
func (s *Service) List(ctx context.Context, filter Filter) ([]Summary, error) {
	query := s.db.WithContext(ctx).
		Table(Case{}.TableName()+" AS c").
		Select("c.*, p.customer_name, p.address, " +
			"(SELECT COUNT(*) FROM " + Observation{}.TableName() + " o WHERE o.case_id = c.id) AS observation_count").
		Joins("LEFT JOIN " + properties.Property{}.TableName() + " p ON p.id = c.property_id")
	if filter.PropertyID > 0 {
		query = query.Where("c.property_id = ?", filter.PropertyID)
	}
	if raw := strings.TrimSpace(filter.Status); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			return nil, failure.Validation(opList, reasonInvalidStatus, err)
		}
		query = query.Where("c.status = ?", status)
	}
	summaries := []Summary{}
	if err := query.Order("c.created_at DESC, c.id DESC").Scan(&summaries).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err)
		return nil, failure.Storage(opList, reasonQueryFailed, err)
	}
	return summaries, nil
}

// AddObservation appends a field note to a case.
func (s *Service) AddObservation(ctx context.Context, userID string, caseID int64, notes string) (Observation, error) {
	trimmedNotes := strings.TrimSpace(notes)
	if trimmedNotes == "" {
		return Observation{}, failure.Validation(opAddObservation, reasonMissingNotes, nil)
	}
	observation := Observation{CaseID: caseID, Notes: trimmedNotes, CreatedBy: userID, CreatedAt: s.clock().UTC()}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Case
		if err := s.takeCase(tx, opAddObservation, caseID, &existing); err != nil {
			return err
		}
		if err := tx.Create(&observation).Error; err != nil {
			s.logError(opAddObservation, reasonInsertFailed, err, zap.Int64(fieldCaseID, caseID))
			return failure.Storage(opAddObservation, reasonInsertFailed, err)
		}
		return nil
	})
	if err != nil {
		return Observation{}, err
	}
	return observation, nil
}

// CountOpenCases counts the property's cases that are not resolved.
func (s *Service) CountOpenCases(tx *gorm.DB, propertyID int64) (int64, error) {
	var count int64
	if err := tx.Model(&Case{}).Where(queryByPropertyID, propertyID).Where("status <> ?", StatusResolved).Count(&count).Error; err != nil {
		s.logError(opCountCases, reasonQueryFailed, err, zap.Int64("property_id", propertyID))
		return 0, err
	}
	return count, nil
}

// CountPropertyCases counts every case at the property so the property is not deleted under it.
func (s *Service) CountPropertyCases(tx *gorm.DB, propertyID int64) (int64, error) {
	var count int64
	if err := tx.Model(&Case{}).Where(queryByPropertyID, propertyID).Count(&count).Error; err != nil {
		s.logError(opCountCases, reasonQueryFailed, err, zap.Int64("property_id", propertyID))
		return 0, err
	}
	return count, nil
}

func (s *Service) requireProperty(tx *gorm.DB, operation string, propertyID int64) error {
	property, err := properties.FindProperty(tx, propertyID)
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.Int64("property_id", propertyID))
		return failure.Storage(operation, reasonQueryFailed, err)
	}
	if property == nil {
		return failure.NotFound(operation, reasonPropertyNotFound, nil)
	}
	return nil
}

func (s *Service) takeCase(tx *gorm.DB, operation string, caseID int64, target *Case) error {
	err := tx.Where("id = ?", caseID).Take(target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return failure.NotFound(operation, reasonCaseNotFound, err)
	}
	if err != nil {
		s.logError(operation, reasonQueryFailed, err, zap.Int64(fieldCaseID, caseID))
		return failure.Storage(operation, reasonQueryFailed, err)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, caseID int64, userID, action string, changes any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, recordTypeCase, caseID, userID, action, changes)
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
	s.logger.Error("ipm service error", attrs...)
}
