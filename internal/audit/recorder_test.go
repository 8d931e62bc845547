package audit

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestRecordStoresEncodedChanges(t *testing.T) {
	db := newTestDB(t)
	recorder, err := NewRecorder(RecorderConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct recorder: %v", err)
	}

	recorder.Record(context.Background(), "application", 12, "user-1", ActionCreate, map[string]any{"product_id": 5})
	recorder.Record(context.Background(), "purchase", 3, "user-2", ActionReceive, nil)

	entries, err := recorder.List(context.Background(), Filter{RecordType: "application"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one application entry, got %d", len(entries))
	}
	if entries[0].RecordID != 12 || entries[0].Action != ActionCreate {
		t.Fatalf("unexpected entry %#v", entries[0])
	}
	if !strings.Contains(entries[0].ChangesJSON, `"product_id":5`) {
		t.Fatalf("expected encoded changes, got %q", entries[0].ChangesJSON)
	}

	byUser, err := recorder.List(context.Background(), Filter{UserID: "user-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byUser) != 1 || byUser[0].ChangesJSON != "" {
		t.Fatalf("unexpected user listing %#v", byUser)
	}
}

func TestRecordLogsWriteFailures(t *testing.T) {
	db := newTestDB(t)
	core, logs := observer.New(zapcore.ErrorLevel)
	recorder, err := NewRecorder(RecorderConfig{Database: db, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("failed to construct recorder: %v", err)
	}
	if err := db.Migrator().DropTable(&Entry{}); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}

	recorder.Record(context.Background(), "application", 1, "user-1", ActionUpdate, nil)

	if logs.FilterMessage("audit write failed").Len() != 1 {
		t.Fatalf("expected write failure to be logged, got %v", logs.All())
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:audit_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}
