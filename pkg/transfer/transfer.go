// Package transfer moves archived files to their destination and reads back
// the checksum of the copied artifact.
package transfer

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	// ErrTimeout marks a copy or remote command that exceeded its time limit.
	ErrTimeout = errors.New("operation timed out")
	// ErrChecksumMismatch marks a copy whose destination checksum differs from the source.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Transferer copies a local file to a path relative to the destination base
// directory. Copies overwrite any previous artifact at the same path.
type Transferer interface {
	Copy(ctx context.Context, localPath, remotePath string) error
	Checksum(ctx context.Context, remotePath string) (string, error)
	Destination(remotePath string) string
}

// IsTimeout reports whether err was caused by an exceeded time limit.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// resolve joins a relative remote path onto base without letting it escape.
func resolve(base, remotePath string) string {
	return path.Join(base, path.Clean("/"+strings.TrimLeft(remotePath, "/")))
}
