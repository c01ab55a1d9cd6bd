package transfer

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// MD5File returns the hex encoded md5 digest of the file at path.
func MD5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// parseMD5Output extracts the digest from `md5sum <path>` output.
func parseMD5Output(out []byte) (string, error) {
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty md5sum output")
	}

	sum := strings.ToLower(strings.TrimPrefix(fields[0], "\\"))
	if len(sum) != md5.Size*2 {
		return "", fmt.Errorf("unexpected md5sum output '%s'", strings.TrimSpace(string(out)))
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return "", fmt.Errorf("unexpected md5sum output '%s'", strings.TrimSpace(string(out)))
	}
	return sum, nil
}
