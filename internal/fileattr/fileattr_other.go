//go:build !unix && !windows

package fileattr

import (
	"os"
	"path/filepath"
	"strings"
)

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func isReadOnly(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return info.Mode().Perm()&0o200 == 0
}
