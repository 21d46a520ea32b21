//go:build unix

package fileattr

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

func isHidden(path string) bool {
	name := filepath.Base(path)
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// A file is read-only when the caller lacks write access or no write bit is
// set at all. The second check keeps root from treating 0444 files as writable.
func isReadOnly(path string) bool {
	if err := unix.Access(path, unix.W_OK); err != nil {
		return true
	}
	info, err := os.Lstat(path)
	if err != nil {
		return true
	}
	return info.Mode().Perm()&0o222 == 0
}
