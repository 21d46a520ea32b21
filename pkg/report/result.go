package report

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/yuya-takeyama/trusted-dedup/pkg/stats"
)

// Actions recorded for a duplicate
const (
	ActionDeleted   = "deleted"
	ActionSimulated = "simulated"
	ActionDeclined  = "declined"
	ActionReadOnly  = "skipped_readonly"
	ActionHidden    = "skipped_hidden"
	ActionFailed    = "failed"
)

// Result represents the outcome of a run
type Result struct {
	Files     []ResultFile   `json:"files"`
	Errors    []ErrorFile    `json:"errors"`
	Summary   stats.Snapshot `json:"summary"`
	Cancelled bool           `json:"cancelled"`
}

type ResultFile struct {
	Action   string `json:"action"`
	Path     string `json:"path"`
	SameAs   string `json:"same_as"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

type ErrorFile struct {
	Action string `json:"action"`
	Path   string `json:"path"`
	SameAs string `json:"same_as"`
	Error  string `json:"error"`
}

// Journal records the duplicates of a run for the result file
type Journal struct {
	mu     sync.Mutex
	files  []ResultFile
	errors []ErrorFile
}

// NewJournal creates an empty journal
func NewJournal() *Journal {
	return &Journal{
		files:  []ResultFile{},
		errors: []ErrorFile{},
	}
}

// Add records one handled duplicate
func (j *Journal) Add(f ResultFile) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.files = append(j.files, f)
}

// AddError records one duplicate whose deletion failed
func (j *Journal) AddError(f ErrorFile) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, f)
}

// Result combines the journal with the final counters
func (j *Journal) Result(summary stats.Snapshot, cancelled bool) Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Result{
		Files:     append([]ResultFile{}, j.files...),
		Errors:    append([]ErrorFile{}, j.errors...),
		Summary:   summary,
		Cancelled: cancelled,
	}
}

// WriteResult writes result as indented JSON
func WriteResult(path string, result Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}
