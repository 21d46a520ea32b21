package walker

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/yuya-takeyama/trusted-dedup/internal/fileattr"
)

// File represents one regular file found by a walk
type File struct {
	Path    string // Absolute path
	RelPath string // Relative path from the walk root
	Size    int64
	ModTime time.Time
}

// FileFunc is called for every file the walk accepts. Returning an error
// stops the walk.
type FileFunc func(ctx context.Context, f File) error

// Options controls which entries a walk visits
type Options struct {
	Recurse       bool
	IncludeHidden bool
	IncludeEmpty  bool
	Excludes      []string // doublestar patterns against the slash-separated relative path

	// OnFolder is called for every directory before its entries are visited
	OnFolder func(path string)
	// Debug receives a line for every skipped entry
	Debug func(line string)

	Attr fileattr.Prober
}

// Walker walks local trees in a deterministic order
type Walker struct {
	opts    Options
	readDir func(name string) ([]fs.DirEntry, error)
}

// New creates a new walker
func New(opts Options) *Walker {
	if opts.Attr == nil {
		opts.Attr = fileattr.System{}
	}
	return &Walker{opts: opts, readDir: os.ReadDir}
}

// Walk visits root, which may be a directory or a single regular file.
// Nothing at or below boundary is visited. Unreadable directories are
// treated as empty. On cancellation the walk stops before the next file or
// directory and returns ctx.Err().
func (w *Walker) Walk(ctx context.Context, root, boundary string, fn FileFunc) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat root: %w", err)
	}

	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return fmt.Errorf("root is not a regular file or directory: %s", root)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.Size() == 0 && !w.opts.IncludeEmpty {
			w.debug(root + " - ignoring zero-byte empty file")
			return nil
		}
		return fn(ctx, File{
			Path:    root,
			RelPath: filepath.Base(root),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	if boundary != "" {
		boundary = filepath.Clean(boundary)
	}
	return w.walkDir(ctx, root, "", boundary, fn)
}

func (w *Walker) walkDir(ctx context.Context, root, rel, boundary string, fn FileFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Join(root, rel)
	if w.opts.OnFolder != nil {
		w.opts.OnFolder(dir)
	}

	entries, err := w.readDir(dir)
	if err != nil {
		w.debug(fmt.Sprintf("%s - can't list folder: %v", dir, err))
		entries = nil
	}
	Sort(entries)

	for _, d := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := d.Name()
		path := filepath.Join(dir, name)
		relPath := name
		if rel != "" {
			relPath = filepath.Join(rel, name)
		}

		if boundary != "" && path == boundary {
			w.debug(path + " - ignoring folder being compared against")
			continue
		}

		if d.IsDir() {
			if w.isExcluded(filepath.ToSlash(relPath), true) {
				w.debug(path + " - ignoring excluded folder")
				continue
			}
			if !w.opts.IncludeHidden && w.opts.Attr.IsHidden(path) {
				w.debug(path + " - ignoring hidden file/folder")
				continue
			}
			if !w.opts.Recurse {
				w.debug(path + " - ignoring subfolder")
				continue
			}
			if err := w.walkDir(ctx, root, relPath, boundary, fn); err != nil {
				return err
			}
			continue
		}

		// Symlinks and special files are never followed or compared
		if !d.Type().IsRegular() {
			continue
		}

		if w.isExcluded(filepath.ToSlash(relPath), false) {
			w.debug(path + " - ignoring excluded file")
			continue
		}
		if !w.opts.IncludeHidden && w.opts.Attr.IsHidden(path) {
			w.debug(path + " - ignoring hidden file/folder")
			continue
		}

		info, err := d.Info()
		if err != nil {
			w.debug(fmt.Sprintf("%s - can't read file info: %v", path, err))
			continue
		}
		if info.Size() == 0 && !w.opts.IncludeEmpty {
			w.debug(path + " - ignoring zero-byte empty file")
			continue
		}

		if err := fn(ctx, File{
			Path:    path,
			RelPath: relPath,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}); err != nil {
			return err
		}
	}

	return nil
}

func (w *Walker) debug(line string) {
	if w.opts.Debug != nil {
		w.opts.Debug(line)
	}
}

// Sort orders directory entries files first, then folders. Names compare
// case-insensitively with a case-sensitive tie-break.
func Sort(entries []fs.DirEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return Less(entries[i].Name(), entries[i].IsDir(), entries[j].Name(), entries[j].IsDir())
	})
}

// Less reports whether entry a is visited before entry b
func Less(a string, aDir bool, b string, bDir bool) bool {
	if aDir != bDir {
		return !aDir
	}
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}

// Excluded reports whether a file at the slash-separated relative path
// matches an exclude pattern
func (w *Walker) Excluded(relPath string) bool {
	return w.isExcluded(relPath, false)
}

// isExcluded checks if a path matches any exclude pattern
func (w *Walker) isExcluded(path string, isDir bool) bool {
	for _, pattern := range w.opts.Excludes {
		// Directory patterns (ending with /) only match folders and
		// everything under them
		if strings.HasSuffix(pattern, "/") {
			dirPattern := strings.TrimSuffix(pattern, "/")
			parts := strings.Split(path, "/")
			limit := len(parts)
			if !isDir {
				limit--
			}
			for i := 1; i <= limit; i++ {
				if matched, _ := doublestar.Match(dirPattern, strings.Join(parts[:i], "/")); matched {
					return true
				}
			}
			continue
		}

		if matched, _ := doublestar.Match(pattern, path); matched {
			return true
		}
	}
	return false
}

// ValidateExcludes reports the first malformed pattern
func ValidateExcludes(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(strings.TrimSuffix(p, "/")) {
			return fmt.Errorf("invalid exclude pattern: %q", p)
		}
	}
	return nil
}
