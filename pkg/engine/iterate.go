package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/suprsync/pkg/db/models"
	"github.com/mwantia/suprsync/pkg/db/store"
	"github.com/mwantia/suprsync/pkg/transfer"
)

type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCopied
	OutcomeCopyFailed
	OutcomeGaveUp
	OutcomeRemoved
	OutcomeRemoveFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCopied:
		return "copied"
	case OutcomeCopyFailed:
		return "copy-failed"
	case OutcomeGaveUp:
		return "gave-up"
	case OutcomeRemoved:
		return "removed"
	case OutcomeRemoveFailed:
		return "remove-failed"
	}
	return "none"
}

// Result describes what a single iteration did.
type Result struct {
	Action    store.Action
	Outcome   Outcome
	FileID    uint
	LocalPath string
	// TimedOut is set when the copy or verification exceeded its time limit.
	TimedOut bool
}

const maxErrorLength = 500

// Iterate claims at most one record, handles it and stores the outcome. The
// store is only locked while claiming and while writing the outcome, never
// during the transfer. An error means the store was unavailable; a claimed
// record whose outcome could not be stored is retried once its claim lapses.
func (e *Engine) Iterate(ctx context.Context) (Result, error) {
	claim, err := e.store.ClaimNext(ctx, e.opts.ArchiveName, e.id, e.opts.ClaimTTL, store.SelectOptions{
		Now:             e.now(),
		DeleteAfter:     e.opts.DeleteAfter,
		MaxCopyAttempts: e.opts.MaxCopyAttempts,
	})
	if err != nil {
		e.stats.storeErrors.Add(1)
		return Result{}, err
	}

	if claim.Exhausted > 0 {
		e.log.Warn("Marked %d pending records of archive '%s' as failed: already at the limit of %d copy attempts",
			claim.Exhausted, e.opts.ArchiveName, e.opts.MaxCopyAttempts)
	}

	result := Result{Action: claim.Action}
	file := claim.File
	if file == nil {
		e.stats.record(result)
		return result, nil
	}
	result.FileID = file.ID
	result.LocalPath = file.LocalPath

	switch claim.Action {
	case store.ActionCopy:
		result.Outcome, result.TimedOut = e.copyFile(ctx, file)
	case store.ActionRemove:
		result.Outcome = e.removeFile(file)
	}

	if err := e.store.Complete(ctx, e.id, file); err != nil {
		e.stats.storeErrors.Add(1)
		return result, err
	}

	e.stats.record(result)
	return result, nil
}

// copyFile runs the transfer and its verification, and records the outcome
// on file. It never marks a file verified without a matching checksum.
func (e *Engine) copyFile(ctx context.Context, file *models.File) (Outcome, bool) {
	destination := e.transfer.Destination(file.RemotePath)
	size := "unknown size"
	if info, err := os.Stat(file.LocalPath); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}

	e.log.Debug("Copying %s to %s (%s, archive '%s', attempt %d)",
		file.LocalPath, destination, size, file.ArchiveName, file.FailedCopyAttempts+1)

	copyCtx, cancel := context.WithTimeout(ctx, e.opts.CopyTimeout)
	err := e.transfer.Copy(copyCtx, file.LocalPath, file.RemotePath)
	cancel()

	if err == nil {
		err = e.verify(ctx, file)
	}
	if err != nil {
		return e.copyFailed(file, err)
	}

	now := e.now().UTC()
	file.CopyStatus = models.CopyVerified
	file.CopiedAt = &now
	file.LastError = ""

	e.log.Info("Copied %s to %s (%s, archive '%s')", file.LocalPath, destination, size, file.ArchiveName)
	return OutcomeCopied, false
}

func (e *Engine) verify(ctx context.Context, file *models.File) error {
	sum, err := e.transfer.Checksum(ctx, file.RemotePath)
	if err != nil {
		return fmt.Errorf("failed to verify copy: %w", err)
	}

	file.RemoteMD5Sum = sum
	if !strings.EqualFold(sum, file.LocalMD5Sum) {
		return fmt.Errorf("%w: local=%s remote=%s", transfer.ErrChecksumMismatch, file.LocalMD5Sum, sum)
	}
	return nil
}

func (e *Engine) copyFailed(file *models.File, err error) (Outcome, bool) {
	timedOut := transfer.IsTimeout(err)

	file.FailedCopyAttempts++
	file.LastError = truncate(err.Error())

	if e.opts.MaxCopyAttempts > 0 && file.FailedCopyAttempts >= e.opts.MaxCopyAttempts {
		file.CopyStatus = models.CopyFailed
		e.log.Error("Giving up on %s (archive '%s') after %d failed copy attempts: %v",
			file.LocalPath, file.ArchiveName, file.FailedCopyAttempts, err)
		return OutcomeGaveUp, timedOut
	}

	e.log.Warn("Failed to copy %s (archive '%s', attempt %d): %v",
		file.LocalPath, file.ArchiveName, file.FailedCopyAttempts, err)
	return OutcomeCopyFailed, timedOut
}

// removeFile deletes the local copy of a verified record. A file that is
// already gone counts as removed.
func (e *Engine) removeFile(file *models.File) Outcome {
	if file.Removed {
		return OutcomeRemoved
	}
	if file.CopyStatus != models.CopyVerified {
		e.log.Error("Refusing to remove %s (archive '%s'): copy status is '%s'",
			file.LocalPath, file.ArchiveName, file.CopyStatus)
		return OutcomeRemoveFailed
	}

	err := e.remove(file.LocalPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		file.LastError = truncate(fmt.Sprintf("local file was already missing at removal: %v", err))
		e.log.Warn("Local file %s (archive '%s') is already gone, marking it removed", file.LocalPath, file.ArchiveName)
	case err != nil:
		file.FailedRemoveAttempts++
		file.LastError = truncate(err.Error())
		e.log.Error("Failed to remove %s (archive '%s'): %v", file.LocalPath, file.ArchiveName, err)
		return OutcomeRemoveFailed
	default:
		e.log.Info("Removed %s (archive '%s')", file.LocalPath, file.ArchiveName)
	}

	now := e.now().UTC()
	file.Removed = true
	file.RemovedAt = &now
	return OutcomeRemoved
}

func truncate(msg string) string {
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength]
	}
	return msg
}
