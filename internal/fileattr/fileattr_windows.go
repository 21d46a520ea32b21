//go:build windows

package fileattr

import (
	"golang.org/x/sys/windows"
)

func attributes(path string) (uint32, bool) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, false
	}
	attrs, err := windows.GetFileAttributes(p)
	if err != nil {
		return 0, false
	}
	return attrs, true
}

func isHidden(path string) bool {
	attrs, ok := attributes(path)
	return ok && attrs&windows.FILE_ATTRIBUTE_HIDDEN != 0
}

func isReadOnly(path string) bool {
	attrs, ok := attributes(path)
	if !ok {
		return true
	}
	return attrs&windows.FILE_ATTRIBUTE_READONLY != 0
}
