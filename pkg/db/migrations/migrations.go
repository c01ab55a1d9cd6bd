package migrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwantia/suprsync/pkg/db/models"
	"gorm.io/gorm"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	Up          func(*gorm.DB) error
	Down        func(*gorm.DB) error
}

// schemaVersion records an applied migration
type schemaVersion struct {
	Version     int    `gorm:"primaryKey;autoIncrement:false"`
	Description string `gorm:"type:text"`
	AppliedAt   time.Time
}

func (schemaVersion) TableName() string {
	return "schema_versions"
}

// MigrationStatus describes whether a known migration has been applied
type MigrationStatus struct {
	Version     int
	Description string
	Applied     bool
	AppliedAt   *time.Time
}

// Migrator applies and reverts the suprsync schema
type Migrator struct {
	db         *gorm.DB
	migrations []Migration
}

func NewMigrator(db *gorm.DB) *Migrator {
	return &Migrator{
		db:         db,
		migrations: allMigrations(),
	}
}

// Migrate applies every pending migration in version order. Each migration
// and its history row commit together.
func (m *Migrator) Migrate(ctx context.Context) error {
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, migration := range m.migrations {
		if _, ok := applied[migration.Version]; ok {
			continue
		}

		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(tx); err != nil {
				return err
			}
			return tx.Create(&schemaVersion{
				Version:     migration.Version,
				Description: migration.Description,
				AppliedAt:   time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Description, err)
		}
	}

	return nil
}

// Rollback reverts the most recently applied migration.
func (m *Migrator) Rollback(ctx context.Context) (*MigrationStatus, error) {
	if err := m.ensureHistory(ctx); err != nil {
		return nil, err
	}

	var last schemaVersion
	if err := m.db.WithContext(ctx).Order("version DESC").First(&last).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("no migrations to rollback")
		}
		return nil, fmt.Errorf("failed to query schema versions: %w", err)
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last.Version {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil {
		return nil, fmt.Errorf("migration %d not found", last.Version)
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := migration.Down(tx); err != nil {
			return err
		}
		return tx.Delete(&schemaVersion{}, "version = ?", last.Version).Error
	})
	if err != nil {
		return nil, fmt.Errorf("rollback of migration %d failed: %w", last.Version, err)
	}

	return &MigrationStatus{
		Version:     migration.Version,
		Description: migration.Description,
	}, nil
}

func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(m.migrations))
	for _, migration := range m.migrations {
		status := MigrationStatus{
			Version:     migration.Version,
			Description: migration.Description,
		}
		if v, ok := applied[migration.Version]; ok {
			status.Applied = true
			status.AppliedAt = &v.AppliedAt
		}
		statuses = append(statuses, status)
	}

	return statuses, nil
}

func (m *Migrator) ensureHistory(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(&schemaVersion{}); err != nil {
		return fmt.Errorf("failed to create schema version table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]schemaVersion, error) {
	if err := m.ensureHistory(ctx); err != nil {
		return nil, err
	}

	var rows []schemaVersion
	if err := m.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query schema versions: %w", err)
	}

	applied := make(map[int]schemaVersion, len(rows))
	for _, row := range rows {
		applied[row.Version] = row
	}
	return applied, nil
}

func allMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create files table",
			Up: func(db *gorm.DB) error {
				return db.AutoMigrate(&models.File{})
			},
			Down: func(db *gorm.DB) error {
				return db.Migrator().DropTable(&models.File{})
			},
		},
		{
			Version:     2,
			Description: "Create archive lock table",
			Up: func(db *gorm.DB) error {
				return db.AutoMigrate(&models.ArchiveLock{})
			},
			Down: func(db *gorm.DB) error {
				return db.Migrator().DropTable(&models.ArchiveLock{})
			},
		},
		{
			Version:     3,
			Description: "Add record claim columns",
			Up: func(db *gorm.DB) error {
				// Databases created after this change already carry the columns from version 1.
				for _, field := range []string{"ClaimHolder", "ClaimExpiresAt"} {
					if db.Migrator().HasColumn(&models.File{}, field) {
						continue
					}
					if err := db.Migrator().AddColumn(&models.File{}, field); err != nil {
						return err
					}
				}
				return nil
			},
			Down: func(db *gorm.DB) error {
				for _, field := range []string{"ClaimExpiresAt", "ClaimHolder"} {
					if !db.Migrator().HasColumn(&models.File{}, field) {
						continue
					}
					if err := db.Migrator().DropColumn(&models.File{}, field); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
