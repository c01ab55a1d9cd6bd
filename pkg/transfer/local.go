package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalTransfer copies files into a directory on the local filesystem.
type LocalTransfer struct {
	BaseDir string
}

func NewLocalTransfer(baseDir string) *LocalTransfer {
	return &LocalTransfer{BaseDir: baseDir}
}

func (lt *LocalTransfer) Destination(remotePath string) string {
	return filepath.FromSlash(resolve(filepath.ToSlash(lt.BaseDir), remotePath))
}

// Copy writes to a temporary file next to the destination, syncs it and
// renames it into place, so readers never observe a partial artifact.
func (lt *LocalTransfer) Copy(ctx context.Context, localPath, remotePath string) error {
	dst := lt.Destination(remotePath)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	in, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(out, &contextReader{ctx: ctx, r: in})
	syncErr := out.Sync()
	closeErr := out.Close()

	for _, err := range []error{copyErr, syncErr, closeErr} {
		if err == nil {
			continue
		}
		os.Remove(tmp)
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("copy %s: %w", localPath, ErrTimeout)
		}
		return err
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename tmp->final: %w", err)
	}
	return nil
}

func (lt *LocalTransfer) Checksum(ctx context.Context, remotePath string) (string, error) {
	return MD5File(lt.Destination(remotePath))
}

// contextReader stops a copy once its context is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
