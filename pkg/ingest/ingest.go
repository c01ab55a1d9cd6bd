// Package ingest registers new local files with the record store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mwantia/suprsync/pkg/db/models"
	"github.com/mwantia/suprsync/pkg/transfer"
)

type Store interface {
	CreateFile(ctx context.Context, file *models.File) error
}

// Request describes a file handed over by a producer. Only LocalPath is
// required.
type Request struct {
	ArchiveName string
	LocalPath   string
	RemotePath  string
	MD5Sum      string
	Timestamp   time.Time
}

type Ingester struct {
	store       Store
	archiveName string
	localRoot   string
	now         func() time.Time
}

// NewIngester returns an ingester for archiveName. Remote paths of files
// below localRoot keep their relative layout.
func NewIngester(st Store, archiveName, localRoot string) *Ingester {
	return &Ingester{
		store:       st,
		archiveName: archiveName,
		localRoot:   localRoot,
		now:         time.Now,
	}
}

// AddFile validates req, fills in the optional fields and stores a pending
// record for it.
func (i *Ingester) AddFile(ctx context.Context, req Request) (*models.File, error) {
	if req.LocalPath == "" {
		return nil, errors.New("local path is required")
	}
	if !filepath.IsAbs(req.LocalPath) {
		return nil, fmt.Errorf("local path must be absolute, got '%s'", req.LocalPath)
	}
	localPath := filepath.Clean(req.LocalPath)

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", localPath)
	}

	archiveName := req.ArchiveName
	if archiveName == "" {
		archiveName = i.archiveName
	}
	if archiveName == "" {
		return nil, errors.New("archive name is required")
	}

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = i.now()
	}

	sum := strings.ToLower(strings.TrimSpace(req.MD5Sum))
	if sum == "" {
		if sum, err = transfer.MD5File(localPath); err != nil {
			return nil, err
		}
	}

	remotePath := req.RemotePath
	if remotePath == "" {
		remotePath = i.remotePath(localPath, timestamp)
	}
	remotePath = strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(remotePath)), "/")
	if remotePath == "" {
		return nil, fmt.Errorf("invalid remote path '%s'", req.RemotePath)
	}

	file := &models.File{
		ArchiveName: archiveName,
		LocalPath:   localPath,
		LocalMD5Sum: sum,
		RemotePath:  remotePath,
		Timestamp:   timestamp.UTC(),
		CopyStatus:  models.CopyPending,
	}
	if err := i.store.CreateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("failed to add %s to archive '%s': %w", localPath, archiveName, err)
	}
	return file, nil
}

// remotePath keeps the layout below the local root, otherwise groups files
// by the first five digits of their unix timestamp.
func (i *Ingester) remotePath(localPath string, timestamp time.Time) string {
	if i.localRoot != "" {
		rel, err := filepath.Rel(filepath.Clean(i.localRoot), localPath)
		if err == nil && rel != "." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".." {
			return filepath.ToSlash(rel)
		}
	}

	prefix := strconv.FormatInt(timestamp.Unix(), 10)
	if len(prefix) > 5 {
		prefix = prefix[:5]
	}
	return path.Join(prefix, filepath.Base(localPath))
}
