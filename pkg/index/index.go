// Package index groups file entries by exact byte size.
//
// Entries are only ever compared by checksum against entries of the same
// bucket, so two files are checksummed against each other only when their
// sizes are equal. Bucket order is insertion order: the first entry of a
// bucket that matches a candidate is the authoritative original.
package index

import (
	"time"

	"github.com/yuya-takeyama/trusted-dedup/internal/checksum"
)

// Entry is one file known to the index
type Entry struct {
	Path    string // canonical local path, or s3://bucket/key for remote entries
	Size    int64
	ModTime time.Time
	Remote  bool // object of a remote trusted archive

	sum      checksum.Result
	computed bool
}

// NewEntry creates an entry without a checksum
func NewEntry(path string, size int64, modTime time.Time) *Entry {
	return &Entry{Path: path, Size: size, ModTime: modTime}
}

// Checksum returns the cached checksum and whether it has been computed
func (e *Entry) Checksum() (checksum.Result, bool) {
	return e.sum, e.computed
}

// SetChecksum caches a checksum. Cancelled results are not cached so the
// checksum is computed again if the entry is ever needed.
func (e *Entry) SetChecksum(r checksum.Result) {
	if r.Status == checksum.StatusCancelled {
		return
	}
	e.sum = r
	e.computed = true
}

// SizeIndex maps a file size to the entries of that size in insertion order
type SizeIndex struct {
	buckets map[int64][]*Entry
	count   int
}

// New returns an empty index
func New() *SizeIndex {
	return &SizeIndex{buckets: make(map[int64][]*Entry)}
}

// Add appends e to the bucket for its size
func (idx *SizeIndex) Add(e *Entry) {
	idx.buckets[e.Size] = append(idx.buckets[e.Size], e)
	idx.count++
}

// Bucket returns the entries of the given size. The slice must not be modified.
func (idx *SizeIndex) Bucket(size int64) []*Entry {
	return idx.buckets[size]
}

// Len returns the number of distinct sizes
func (idx *SizeIndex) Len() int {
	return len(idx.buckets)
}

// Count returns the total number of entries
func (idx *SizeIndex) Count() int {
	return idx.count
}
