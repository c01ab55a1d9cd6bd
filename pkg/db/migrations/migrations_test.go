package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/mwantia/suprsync/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "migrations.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := NewMigrator(db)

	for i := 0; i < 2; i++ {
		if err := m.Migrate(ctx); err != nil {
			t.Fatalf("Migrate #%d: %v", i+1, err)
		}
	}

	if !db.Migrator().HasTable(&models.File{}) {
		t.Error("files table missing")
	}
	if !db.Migrator().HasTable(&models.ArchiveLock{}) {
		t.Error("archive_locks table missing")
	}
	if !db.Migrator().HasIndex(&models.File{}, "idx_files_selector") {
		t.Error("selector index missing")
	}
	for _, column := range []string{"claim_holder", "claim_expires_at"} {
		if !db.Migrator().HasColumn(&models.File{}, column) {
			t.Errorf("column %s missing", column)
		}
	}

	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("len(statuses) = %d, want 3", len(statuses))
	}
	for _, s := range statuses {
		if !s.Applied || s.AppliedAt == nil {
			t.Errorf("migration %d not reported as applied", s.Version)
		}
	}
}

func TestRollbackRevertsLatest(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	m := NewMigrator(db)

	if err := m.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	reverted, err := m.Rollback(ctx)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if reverted.Version != 3 {
		t.Errorf("reverted version = %d, want 3", reverted.Version)
	}
	if db.Migrator().HasColumn(&models.File{}, "claim_holder") {
		t.Error("claim_holder still present after rollback")
	}

	reverted, err = m.Rollback(ctx)
	if err != nil {
		t.Fatalf("second Rollback: %v", err)
	}
	if reverted.Version != 2 {
		t.Errorf("reverted version = %d, want 2", reverted.Version)
	}
	if db.Migrator().HasTable(&models.ArchiveLock{}) {
		t.Error("archive_locks table still present after rollback")
	}
	if !db.Migrator().HasTable(&models.File{}) {
		t.Error("files table dropped by rollback of version 2")
	}

	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !statuses[0].Applied || statuses[1].Applied || statuses[2].Applied {
		t.Errorf("unexpected statuses after rollback: %+v", statuses)
	}

	if err := m.Migrate(ctx); err != nil {
		t.Fatalf("re-Migrate: %v", err)
	}
	if !db.Migrator().HasTable(&models.ArchiveLock{}) {
		t.Error("archive_locks table missing after re-migrate")
	}
	if !db.Migrator().HasColumn(&models.File{}, "claim_holder") {
		t.Error("claim_holder missing after re-migrate")
	}
}

func TestRollbackWithoutMigrations(t *testing.T) {
	m := NewMigrator(openTestDB(t))

	if _, err := m.Rollback(context.Background()); err == nil {
		t.Fatal("expected error rolling back an empty schema")
	}
}
