// Package stats accumulates the counters of one deduplication run.
package stats

import (
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Stats holds running totals. All counters only grow during a run and may be
// read from any goroutine while the worker updates them.
type Stats struct {
	checksumFiles    atomic.Uint64
	checksumBytes    atomic.Uint64
	checksumFailures atomic.Uint64
	unknownFiles     atomic.Uint64
	unknownBytes     atomic.Uint64
	unknownFolders   atomic.Uint64
	duplicateFiles   atomic.Uint64
	duplicateBytes   atomic.Uint64
	deletedFiles     atomic.Uint64
	deletedBytes     atomic.Uint64
	deleteErrors     atomic.Uint64
}

// New returns zeroed counters
func New() *Stats {
	return &Stats{}
}

// RecordChecksum counts one computed checksum
func (s *Stats) RecordChecksum(size int64) {
	s.checksumFiles.Add(1)
	s.checksumBytes.Add(uint64(size))
}

// RecordChecksumFailure counts one file whose checksum could not be computed
func (s *Stats) RecordChecksumFailure() {
	s.checksumFailures.Add(1)
}

// RecordUnknownFile counts one scanned file of the unknown tree
func (s *Stats) RecordUnknownFile(size int64) {
	s.unknownFiles.Add(1)
	s.unknownBytes.Add(uint64(size))
}

// RecordUnknownFolder counts one scanned folder of the unknown tree
func (s *Stats) RecordUnknownFolder() {
	s.unknownFolders.Add(1)
}

// RecordDuplicate counts one confirmed duplicate
func (s *Stats) RecordDuplicate(size int64) {
	s.duplicateFiles.Add(1)
	s.duplicateBytes.Add(uint64(size))
}

// RecordDeleted counts one deleted (or simulated) file
func (s *Stats) RecordDeleted(size int64) {
	s.deletedFiles.Add(1)
	s.deletedBytes.Add(uint64(size))
}

// RecordDeleteError counts one failed deletion
func (s *Stats) RecordDeleteError() {
	s.deleteErrors.Add(1)
}

// Reset zeroes every counter. Only call between runs.
func (s *Stats) Reset() {
	for _, c := range []*atomic.Uint64{
		&s.checksumFiles, &s.checksumBytes, &s.checksumFailures,
		&s.unknownFiles, &s.unknownBytes, &s.unknownFolders,
		&s.duplicateFiles, &s.duplicateBytes,
		&s.deletedFiles, &s.deletedBytes, &s.deleteErrors,
	} {
		c.Store(0)
	}
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	ChecksumFiles    uint64 `json:"checksum_files"`
	ChecksumBytes    uint64 `json:"checksum_bytes"`
	ChecksumFailures uint64 `json:"checksum_failures"`
	UnknownFiles     uint64 `json:"unknown_files"`
	UnknownBytes     uint64 `json:"unknown_bytes"`
	UnknownFolders   uint64 `json:"unknown_folders"`
	DuplicateFiles   uint64 `json:"duplicate_files"`
	DuplicateBytes   uint64 `json:"duplicate_bytes"`
	DeletedFiles     uint64 `json:"deleted_files"`
	DeletedBytes     uint64 `json:"deleted_bytes"`
	DeleteErrors     uint64 `json:"delete_errors"`
}

// Snapshot copies the current counters
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		ChecksumFiles:    s.checksumFiles.Load(),
		ChecksumBytes:    s.checksumBytes.Load(),
		ChecksumFailures: s.checksumFailures.Load(),
		UnknownFiles:     s.unknownFiles.Load(),
		UnknownBytes:     s.unknownBytes.Load(),
		UnknownFolders:   s.unknownFolders.Load(),
		DuplicateFiles:   s.duplicateFiles.Load(),
		DuplicateBytes:   s.duplicateBytes.Load(),
		DeletedFiles:     s.deletedFiles.Load(),
		DeletedBytes:     s.deletedBytes.Load(),
		DeleteErrors:     s.deleteErrors.Load(),
	}
}

// SummaryLines renders the end-of-run report. A cancelled run reports what
// was found so far instead of what was finished.
func (s Snapshot) SummaryLines(cancelled bool) []string {
	verb := "Finished"
	if cancelled {
		verb = "Found"
	}
	return []string{
		fmt.Sprintf("Deleted %s using %s, with %s.",
			plural(s.DeletedFiles, "file"), plural(s.DeletedBytes, "byte"), plural(s.DeleteErrors, "error")),
		fmt.Sprintf("Found %s using %s.",
			plural(s.DuplicateFiles, "duplicate file"), plural(s.DuplicateBytes, "byte")),
		fmt.Sprintf("Calculated %s with %s.",
			plural(s.ChecksumFiles, "checksum"), plural(s.ChecksumBytes, "byte")),
		fmt.Sprintf("%s %s and %s using %s.",
			verb, plural(s.UnknownFolders, "unknown folder"), plural(s.UnknownFiles, "file"), plural(s.UnknownBytes, "byte")),
	}
}

// Progress is a one-line form suitable for periodic logging
func (s Snapshot) Progress() string {
	return fmt.Sprintf("%s files scanned (%s), %s checksums, %s duplicates, %s deleted",
		humanize.Comma(int64(s.UnknownFiles)), humanize.IBytes(s.UnknownBytes),
		humanize.Comma(int64(s.ChecksumFiles)), humanize.Comma(int64(s.DuplicateFiles)),
		humanize.Comma(int64(s.DeletedFiles)))
}

func plural(n uint64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return humanize.Comma(int64(n)) + " " + unit + "s"
}
