package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	config "github.com/mwantia/suprsync/internal/config/server"
	"github.com/mwantia/suprsync/pkg/db/models"
)

var baseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "suprsync.db"),
		BusyTimeout: 5000,
		JournalMode: "WAL",
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func addFile(t *testing.T, s *SQLiteStore, archive, name string, ts time.Time, mutate func(*models.File)) *models.File {
	t.Helper()

	f := &models.File{
		ArchiveName: archive,
		LocalPath:   "/data/" + name,
		LocalMD5Sum: "d41d8cd98f00b204e9800998ecf8427e",
		RemotePath:  name,
		Timestamp:   ts,
	}
	if mutate != nil {
		mutate(f)
	}
	if err := s.CreateFile(context.Background(), f); err != nil {
		t.Fatalf("CreateFile(%s): %v", name, err)
	}
	return f
}

func selectNext(t *testing.T, s *SQLiteStore, archive string, opts SelectOptions) (*models.File, Action) {
	t.Helper()

	var file *models.File
	var action Action
	err := s.Transaction(context.Background(), archive, "test", func(tx Tx) error {
		var err error
		file, action, err = tx.SelectNext(archive, opts)
		return err
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}
	return file, action
}

func duration(d time.Duration) *time.Duration {
	return &d
}

func TestCreateFileDefaults(t *testing.T) {
	s := newTestStore(t)
	f := addFile(t, s, "smurf", "a.dat", baseTime, nil)

	got, err := s.GetFile(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if got.CopyStatus != models.CopyPending {
		t.Errorf("CopyStatus = %q, want pending", got.CopyStatus)
	}
	if got.Removed || got.FailedCopyAttempts != 0 {
		t.Errorf("unexpected initial state: %+v", got)
	}
	if !got.Timestamp.Equal(baseTime) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, baseTime)
	}
}

func TestSelectNextOldestCopyFirst(t *testing.T) {
	s := newTestStore(t)
	addFile(t, s, "smurf", "newer.dat", baseTime.Add(time.Minute), nil)
	older := addFile(t, s, "smurf", "older.dat", baseTime, nil)
	addFile(t, s, "timestreams", "other.g3", baseTime.Add(-time.Hour), nil)

	file, action := selectNext(t, s, "smurf", SelectOptions{Now: baseTime, MaxCopyAttempts: 3})
	if action != ActionCopy {
		t.Fatalf("action = %v, want copy", action)
	}
	if file.ID != older.ID {
		t.Errorf("selected %s, want %s", file.LocalPath, older.LocalPath)
	}
}

func TestSelectNextCopyBeforeRemove(t *testing.T) {
	s := newTestStore(t)
	addFile(t, s, "smurf", "copied.dat", baseTime.Add(-time.Hour), func(f *models.File) {
		f.CopyStatus = models.CopyVerified
	})
	pending := addFile(t, s, "smurf", "pending.dat", baseTime, nil)

	file, action := selectNext(t, s, "smurf", SelectOptions{Now: baseTime, DeleteAfter: duration(0)})
	if action != ActionCopy || file.ID != pending.ID {
		t.Fatalf("got (%v, %v), want copy of pending record", file, action)
	}
}

func TestSelectNextSkipsExhaustedAndFailed(t *testing.T) {
	s := newTestStore(t)
	addFile(t, s, "smurf", "exhausted.dat", baseTime, func(f *models.File) {
		f.FailedCopyAttempts = 3
	})
	addFile(t, s, "smurf", "failed.dat", baseTime, func(f *models.File) {
		f.CopyStatus = models.CopyFailed
		f.FailedCopyAttempts = 3
	})

	file, action := selectNext(t, s, "smurf", SelectOptions{Now: baseTime, MaxCopyAttempts: 3, DeleteAfter: duration(0)})
	if action != ActionNone || file != nil {
		t.Fatalf("got (%v, %v), want nothing", file, action)
	}

	// Without a ceiling the pending record is eligible again, the failed one never is.
	file, action = selectNext(t, s, "smurf", SelectOptions{Now: baseTime})
	if action != ActionCopy || file.LocalPath != "/data/exhausted.dat" {
		t.Fatalf("got (%v, %v), want copy of exhausted.dat", file, action)
	}
}

func TestSelectNextRetentionWindow(t *testing.T) {
	s := newTestStore(t)
	verified := addFile(t, s, "smurf", "verified.dat", baseTime, func(f *models.File) {
		f.CopyStatus = models.CopyVerified
	})
	addFile(t, s, "smurf", "removed.dat", baseTime.Add(-time.Hour), func(f *models.File) {
		f.CopyStatus = models.CopyVerified
		f.Removed = true
	})

	window := duration(time.Minute)

	file, action := selectNext(t, s, "smurf", SelectOptions{Now: baseTime.Add(30 * time.Second), DeleteAfter: window})
	if action != ActionNone {
		t.Fatalf("selected %v for %v inside the retention window", file, action)
	}

	file, action = selectNext(t, s, "smurf", SelectOptions{Now: baseTime.Add(61 * time.Second), DeleteAfter: window})
	if action != ActionRemove || file.ID != verified.ID {
		t.Fatalf("got (%v, %v), want removal of verified.dat", file, action)
	}

	file, action = selectNext(t, s, "smurf", SelectOptions{Now: baseTime.Add(24 * time.Hour)})
	if action != ActionNone {
		t.Fatalf("selected %v for %v with deletion disabled", file, action)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	f := addFile(t, s, "smurf", "a.dat", baseTime, nil)

	boom := errors.New("boom")
	err := s.Transaction(context.Background(), "smurf", "test", func(tx Tx) error {
		file, _, err := tx.SelectNext("smurf", SelectOptions{Now: baseTime})
		if err != nil {
			return err
		}
		file.FailedCopyAttempts++
		if err := tx.UpdateFile(file); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transaction error = %v, want boom", err)
	}

	got, err := s.GetFile(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if got.FailedCopyAttempts != 0 {
		t.Errorf("FailedCopyAttempts = %d after rollback, want 0", got.FailedCopyAttempts)
	}
}

func TestListFilesAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	addFile(t, s, "smurf", "a.dat", baseTime, nil)
	addFile(t, s, "smurf", "b.dat", baseTime.Add(time.Second), func(f *models.File) {
		f.CopyStatus = models.CopyVerified
		f.Removed = true
	})
	addFile(t, s, "smurf", "c.dat", baseTime.Add(2*time.Second), func(f *models.File) {
		f.CopyStatus = models.CopyFailed
		f.FailedCopyAttempts = 5
	})
	addFile(t, s, "timestreams", "d.g3", baseTime, nil)

	failed, err := s.ListFiles(ctx, ListOptions{ArchiveName: "smurf", Status: models.CopyFailed})
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(failed) != 1 || failed[0].LocalPath != "/data/c.dat" {
		t.Errorf("failed files = %+v, want c.dat only", failed)
	}

	all, err := s.ListFiles(ctx, ListOptions{ArchiveName: "smurf", Limit: 2})
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(all) != 2 || all[0].LocalPath != "/data/a.dat" {
		t.Errorf("limited list = %+v", all)
	}

	stats, err := s.Stats(ctx, "smurf")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := ArchiveStats{Pending: 1, Verified: 1, Failed: 1, Removed: 1}
	if *stats != want {
		t.Errorf("Stats = %+v, want %+v", *stats, want)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.GetServerDefault().Metadata
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "suprsync.db")

	s, err := NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}

	cfg.Type = "mysql"
	if _, err := NewFromConfig(cfg); err == nil {
		t.Error("expected error for unsupported store type")
	}
}

func TestClaimNextSkipsRecordsClaimedByOthers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := addFile(t, s, "smurf", "a.dat", baseTime, nil)

	claim, err := s.ClaimNext(ctx, "smurf", "engine-a", time.Minute, SelectOptions{Now: baseTime})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claim.Action != ActionCopy || claim.File.ID != f.ID {
		t.Fatalf("claim = %+v, want copy of record %d", claim, f.ID)
	}

	got, _ := s.GetFile(ctx, f.ID)
	if got.ClaimHolder != "engine-a" || got.ClaimExpiresAt == nil || !got.ClaimExpiresAt.Equal(baseTime.Add(time.Minute)) {
		t.Errorf("claim not stored: %+v", got)
	}

	claim, err = s.ClaimNext(ctx, "smurf", "engine-b", time.Minute, SelectOptions{Now: baseTime.Add(30 * time.Second)})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claim.File != nil || claim.Action != ActionNone {
		t.Fatalf("claimed record handed to a second holder: %+v", claim)
	}

	// The owner may pick its own claim up again.
	claim, err = s.ClaimNext(ctx, "smurf", "engine-a", time.Minute, SelectOptions{Now: baseTime.Add(30 * time.Second)})
	if err != nil || claim.File == nil || claim.File.ID != f.ID {
		t.Fatalf("owner reclaim = %+v, %v", claim, err)
	}

	// After expiry another holder takes over and the stale owner loses it.
	taken, err := s.ClaimNext(ctx, "smurf", "engine-b", time.Minute, SelectOptions{Now: baseTime.Add(5 * time.Minute)})
	if err != nil || taken.File == nil || taken.File.ID != f.ID {
		t.Fatalf("takeover after expiry = %+v, %v", taken, err)
	}

	stale := claim.File
	stale.CopyStatus = models.CopyVerified
	if err := s.Complete(ctx, "engine-a", stale); !errors.Is(err, ErrClaimLost) {
		t.Fatalf("Complete by stale holder = %v, want ErrClaimLost", err)
	}
	if got, _ := s.GetFile(ctx, f.ID); got.CopyStatus != models.CopyPending {
		t.Errorf("stale holder overwrote record: %+v", got)
	}

	taken.File.FailedCopyAttempts = 1
	taken.File.LastError = "exit status 23"
	if err := s.Complete(ctx, "engine-b", taken.File); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, _ = s.GetFile(ctx, f.ID)
	if got.FailedCopyAttempts != 1 || got.LastError != "exit status 23" {
		t.Errorf("outcome not stored: %+v", got)
	}
	if got.ClaimHolder != "" || got.ClaimExpiresAt != nil {
		t.Errorf("claim not released: %+v", got)
	}
	if !got.CreatedAt.Equal(f.CreatedAt) {
		t.Errorf("CreatedAt changed from %v to %v", f.CreatedAt, got.CreatedAt)
	}
}

func TestClaimNextFailsExhaustedRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exhausted := addFile(t, s, "smurf", "exhausted.dat", baseTime, func(f *models.File) {
		f.FailedCopyAttempts = 5
	})
	addFile(t, s, "timestreams", "other.g3", baseTime, func(f *models.File) {
		f.FailedCopyAttempts = 5
	})
	retry := addFile(t, s, "smurf", "retry.dat", baseTime.Add(time.Second), func(f *models.File) {
		f.FailedCopyAttempts = 1
	})

	claim, err := s.ClaimNext(ctx, "smurf", "engine-a", time.Minute, SelectOptions{Now: baseTime, MaxCopyAttempts: 3})
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claim.Exhausted != 1 {
		t.Errorf("Exhausted = %d, want 1", claim.Exhausted)
	}
	if claim.File == nil || claim.File.ID != retry.ID {
		t.Errorf("claimed %+v, want retry.dat", claim.File)
	}

	if got, _ := s.GetFile(ctx, exhausted.ID); got.CopyStatus != models.CopyFailed {
		t.Errorf("exhausted record status = %s, want failed", got.CopyStatus)
	}

	stats, err := s.Stats(ctx, "timestreams")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Pending != 1 {
		t.Errorf("other archive touched: %+v", stats)
	}
}

func TestClaimNextValidatesArguments(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.ClaimNext(context.Background(), "smurf", "", time.Minute, SelectOptions{}); err == nil {
		t.Error("expected error without holder")
	}
	if _, err := s.ClaimNext(context.Background(), "smurf", "engine-a", 0, SelectOptions{}); err == nil {
		t.Error("expected error without ttl")
	}
}
