package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mwantia/suprsync/pkg/db/migrations"
	"github.com/mwantia/suprsync/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLiteStore implements RecordStore using SQLite
type SQLiteStore struct {
	db    *gorm.DB
	path  string
	close sync.Once
}

// DB returns the underlying GORM database instance
func (s *SQLiteStore) DB() *gorm.DB {
	return s.db
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path        string
	BusyTimeout int
	JournalMode string
	LogLevel    logger.LogLevel
}

// NewSQLiteStore creates a new SQLite-backed record store
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Default to silent logging
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logger.Silent
	}

	db, err := gorm.Open(sqlite.Open(dsn(cfg)), &gorm.Config{
		Logger: logger.Default.LogMode(cfg.LogLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	return &SQLiteStore{
		db:   db,
		path: cfg.Path,
	}, nil
}

// dsn appends the connection pragmas. A writer blocked by another instance
// waits busy_timeout milliseconds before the transaction fails.
func dsn(cfg SQLiteConfig) string {
	pragmas := []string{"_pragma=foreign_keys(1)"}
	if cfg.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=busy_timeout(%d)", cfg.BusyTimeout))
	}
	if cfg.JournalMode != "" {
		pragmas = append(pragmas, fmt.Sprintf("_pragma=journal_mode(%s)", strings.ToUpper(cfg.JournalMode)))
	}

	sep := "?"
	if strings.Contains(cfg.Path, "?") {
		sep = "&"
	}
	return cfg.Path + sep + strings.Join(pragmas, "&")
}

// Connect initializes the database connection
func (s *SQLiteStore) Connect(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(1) // SQLite only supports 1 writer
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return sqlDB.PingContext(ctx)
}

// Close closes the database connection; repeated calls are no-ops
func (s *SQLiteStore) Close() error {
	var err error
	s.close.Do(func() {
		sqlDB, dbErr := s.db.DB()
		if dbErr != nil {
			err = fmt.Errorf("failed to get database instance: %w", dbErr)
			return
		}
		err = sqlDB.Close()
	})
	return err
}

// Cleanup allows the service container to release the store on shutdown
func (s *SQLiteStore) Cleanup(ctx context.Context) error {
	return s.Close()
}

// Migrate applies pending schema migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return migrations.NewMigrator(s.db).Migrate(ctx)
}

// Health checks database connectivity
func (s *SQLiteStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// File operations

func (s *SQLiteStore) CreateFile(ctx context.Context, file *models.File) error {
	if file.CopyStatus == "" {
		file.CopyStatus = models.CopyPending
	}
	file.Timestamp = file.Timestamp.UTC()

	return s.db.WithContext(ctx).Create(file).Error
}

func (s *SQLiteStore) GetFile(ctx context.Context, id uint) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).First(&file, id).Error
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (s *SQLiteStore) ListFiles(ctx context.Context, opts ListOptions) ([]models.File, error) {
	var files []models.File
	query := s.db.WithContext(ctx).Model(&models.File{})

	if opts.ArchiveName != "" {
		query = query.Where("archive_name = ?", opts.ArchiveName)
	}
	if opts.Status != "" {
		query = query.Where("copy_status = ?", opts.Status)
	}
	if opts.Removed != nil {
		query = query.Where("removed = ?", *opts.Removed)
	}

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	err := query.Order("timestamp ASC, id ASC").Find(&files).Error
	return files, err
}

func (s *SQLiteStore) Stats(ctx context.Context, archiveName string) (*ArchiveStats, error) {
	var rows []struct {
		CopyStatus models.CopyStatus
		Removed    bool
		Count      int64
	}

	err := s.db.WithContext(ctx).Model(&models.File{}).
		Select("copy_status, removed, COUNT(*) AS count").
		Where("archive_name = ?", archiveName).
		Group("copy_status, removed").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &ArchiveStats{}
	for _, row := range rows {
		switch row.CopyStatus {
		case models.CopyPending:
			stats.Pending += row.Count
		case models.CopyVerified:
			stats.Verified += row.Count
		case models.CopyFailed:
			stats.Failed += row.Count
		}
		if row.Removed {
			stats.Removed += row.Count
		}
	}
	return stats, nil
}

// Transaction takes the archive lock with a write as the first statement so
// that concurrent instances queue on the SQLite writer lock before selecting.
func (s *SQLiteStore) Transaction(ctx context.Context, archiveName, holder string, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		lock := models.ArchiveLock{
			ArchiveName: archiveName,
			Holder:      holder,
			AcquiredAt:  time.Now().UTC(),
		}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "archive_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"holder", "acquired_at"}),
		}).Create(&lock).Error
		if err != nil {
			return fmt.Errorf("failed to acquire archive lock: %w", err)
		}

		return fn(&sqliteTx{db: db})
	})
}

type sqliteTx struct {
	db *gorm.DB
}

// SelectNext returns the oldest record needing a copy, or when there is none
// the oldest verified record past the retention window.
func (tx *sqliteTx) SelectNext(archiveName string, opts SelectOptions) (*models.File, Action, error) {
	var file models.File

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	query := unclaimed(tx.db, opts.Holder, now).
		Where("archive_name = ? AND copy_status = ?", archiveName, models.CopyPending)
	if opts.MaxCopyAttempts > 0 {
		query = query.Where("failed_copy_attempts < ?", opts.MaxCopyAttempts)
	}

	err := query.Order("timestamp ASC, id ASC").First(&file).Error
	if err == nil {
		return &file, ActionCopy, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ActionNone, fmt.Errorf("failed to select copy candidate: %w", err)
	}

	if opts.DeleteAfter == nil {
		return nil, ActionNone, nil
	}

	cutoff := now.Add(-*opts.DeleteAfter)

	file = models.File{}
	err = unclaimed(tx.db, opts.Holder, now).
		Where("archive_name = ? AND copy_status = ? AND removed = ? AND timestamp < ?",
			archiveName, models.CopyVerified, false, cutoff).
		Order("timestamp ASC, id ASC").
		First(&file).Error
	if err == nil {
		return &file, ActionRemove, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ActionNone, fmt.Errorf("failed to select removal candidate: %w", err)
	}

	return nil, ActionNone, nil
}

func unclaimed(db *gorm.DB, holder string, now time.Time) *gorm.DB {
	return db.Where("(claim_holder = '' OR claim_holder = ? OR claim_expires_at IS NULL OR claim_expires_at <= ?)", holder, now)
}

func (tx *sqliteTx) FailExhausted(archiveName string, maxCopyAttempts int) (int64, error) {
	if maxCopyAttempts <= 0 {
		return 0, nil
	}

	result := tx.db.Model(&models.File{}).
		Where("archive_name = ? AND copy_status = ? AND failed_copy_attempts >= ?",
			archiveName, models.CopyPending, maxCopyAttempts).
		Update("copy_status", models.CopyFailed)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark exhausted records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (tx *sqliteTx) UpdateFile(file *models.File) error {
	return tx.db.Save(file).Error
}

func (s *SQLiteStore) ClaimNext(ctx context.Context, archiveName, holder string, ttl time.Duration, opts SelectOptions) (*Claim, error) {
	if holder == "" {
		return nil, fmt.Errorf("claim holder is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("claim ttl must be positive")
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	opts.Holder = holder

	claim := &Claim{}
	err := s.Transaction(ctx, archiveName, holder, func(tx Tx) error {
		exhausted, err := tx.FailExhausted(archiveName, opts.MaxCopyAttempts)
		if err != nil {
			return err
		}
		claim.Exhausted = exhausted

		file, action, err := tx.SelectNext(archiveName, opts)
		if err != nil || file == nil {
			return err
		}

		expires := opts.Now.Add(ttl).UTC()
		file.ClaimHolder = holder
		file.ClaimExpiresAt = &expires
		if err := tx.UpdateFile(file); err != nil {
			return fmt.Errorf("failed to claim record %d (%s): %w", file.ID, file.LocalPath, err)
		}

		claim.File = file
		claim.Action = action
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// Complete writes every field of file and clears its claim, provided holder
// still owns it.
func (s *SQLiteStore) Complete(ctx context.Context, holder string, file *models.File) error {
	file.ClaimHolder = ""
	file.ClaimExpiresAt = nil

	result := s.db.WithContext(ctx).Model(file).
		Where("claim_holder = ?", holder).
		Select("*").Omit("ID", "CreatedAt").
		Updates(file)
	if result.Error != nil {
		return fmt.Errorf("failed to update record %d (%s): %w", file.ID, file.LocalPath, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("record %d (%s): %w", file.ID, file.LocalPath, ErrClaimLost)
	}
	return nil
}
