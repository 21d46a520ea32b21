// Package fileattr probes the platform attributes that protect a file from
// deletion.
package fileattr

// Prober reports whether a file is hidden or read-only
type Prober interface {
	IsHidden(path string) bool
	IsReadOnly(path string) bool
}

// System probes the real filesystem
type System struct{}

// IsHidden reports whether the platform treats path as hidden
func (System) IsHidden(path string) bool {
	return isHidden(path)
}

// IsReadOnly reports whether path cannot be written to
func (System) IsReadOnly(path string) bool {
	return isReadOnly(path)
}
