// Package offline stages application submissions on a field device while it has no
// connectivity and replays them once the server is reachable.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrInvalidPayload indicates the queued body is not a JSON object.
	ErrInvalidPayload = errors.New("offline: payload must be a JSON object")
	// ErrNotQueued indicates the temporary id is not in the queue.
	ErrNotQueued = errors.New("offline: submission not queued")

	errMissingDatabase = errors.New("offline: database handle is required")
)

// PendingSubmission is a queued application body keyed by a locally generated id.
type PendingSubmission struct {
	TempID    string    `gorm:"column:temp_id;primaryKey;size:64" json:"temp_id"`
	Payload   string    `gorm:"column:payload;type:text;not null" json:"payload"`
	SavedAt   time.Time `gorm:"column:saved_at;not null;index" json:"saved_at"`
	Attempts  int       `gorm:"column:attempts;not null" json:"attempts"`
	LastError string    `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (PendingSubmission) TableName() string {
	return "pending_submissions"
}

// IDProvider issues temporary submission ids.
type IDProvider func() (string, error)

// NewUUIDv7 issues time-ordered UUIDv7 identifiers.
func NewUUIDv7() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// StoreConfig describes the queue store dependencies.
type StoreConfig struct {
	Database *gorm.DB
	IDs      IDProvider
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store persists the queue. Every operation is its own transaction.
type Store struct {
	db     *gorm.DB
	ids    IDProvider
	clock  func() time.Time
	logger *zap.Logger
}

// OpenStore opens (or creates) the local queue database at path.
func OpenStore(path string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open offline queue: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("offline queue handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&PendingSubmission{}); err != nil {
		return nil, fmt.Errorf("migrate offline queue: %w", err)
	}
	return NewStore(StoreConfig{Database: db, Logger: log})
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	ids := cfg.IDs
	if ids == nil {
		ids = NewUUIDv7
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: cfg.Database, ids: ids, clock: clock, logger: log}, nil
}

// Enqueue stores the body under a new temporary id.
func (s *Store) Enqueue(ctx context.Context, payload json.RawMessage) (PendingSubmission, error) {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(payload, &object); err != nil || object == nil {
		return PendingSubmission{}, ErrInvalidPayload
	}
	tempID, err := s.ids()
	if err != nil {
		return PendingSubmission{}, fmt.Errorf("generate temp id: %w", err)
	}
	pending := PendingSubmission{
		TempID:  tempID,
		Payload: string(payload),
		SavedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&pending).Error; err != nil {
		s.logger.Error("offline enqueue failed", zap.String("temp_id", tempID), zap.Error(err))
		return PendingSubmission{}, fmt.Errorf("enqueue: %w", err)
	}
	return pending, nil
}

// List returns queued submissions in storage order.
func (s *Store) List(ctx context.Context) ([]PendingSubmission, error) {
	var pending []PendingSubmission
	if err := s.db.WithContext(ctx).Order("saved_at ASC, temp_id ASC").Find(&pending).Error; err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return pending, nil
}

// Remove deletes a submission after the server accepted it.
func (s *Store) Remove(ctx context.Context, tempID string) error {
	result := s.db.WithContext(ctx).Where("temp_id = ?", tempID).Delete(&PendingSubmission{})
	if result.Error != nil {
		return fmt.Errorf("remove %s: %w", tempID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotQueued
	}
	return nil
}

// MarkFailed records a failed attempt and keeps the submission queued.
func (s *Store) MarkFailed(ctx context.Context, tempID string, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	result := s.db.WithContext(ctx).
		Model(&PendingSubmission{}).
		Where("temp_id = ?", tempID).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": message,
		})
	if result.Error != nil {
		return fmt.Errorf("mark %s failed: %w", tempID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotQueued
	}
	return nil
}
