// Package gate decides whether a confirmed duplicate is deleted.
//
// The checks run in a fixed order: read-only protection, hidden protection,
// confirmation, then deletion. A refused or declined duplicate is never an
// error. A failed deletion is counted and reported but never stops the run.
package gate

import (
	"context"
	"fmt"
	"os"

	"github.com/yuya-takeyama/trusted-dedup/internal/fileattr"
	"github.com/yuya-takeyama/trusted-dedup/pkg/confirm"
	"github.com/yuya-takeyama/trusted-dedup/pkg/index"
	"github.com/yuya-takeyama/trusted-dedup/pkg/report"
	"github.com/yuya-takeyama/trusted-dedup/pkg/stats"
)

// Outcome is what happened to one duplicate
type Outcome int

const (
	OutcomeReadOnly Outcome = iota + 1
	OutcomeHidden
	OutcomeDeclined
	OutcomeSimulated
	OutcomeDeleted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReadOnly:
		return report.ActionReadOnly
	case OutcomeHidden:
		return report.ActionHidden
	case OutcomeDeclined:
		return report.ActionDeclined
	case OutcomeSimulated:
		return report.ActionSimulated
	case OutcomeDeleted:
		return report.ActionDeleted
	case OutcomeFailed:
		return report.ActionFailed
	default:
		return "unknown"
	}
}

// Duplicate pairs a file with the earlier entry it duplicates
type Duplicate struct {
	File     *index.Entry
	Match    *index.Entry
	Checksum string
}

// Options controls the protections
type Options struct {
	AllowReadOnly bool
	AllowHidden   bool
	Simulate      bool // run every step except the removal

	Attr    fileattr.Prober
	Remove  func(path string) error
	Journal *report.Journal
}

// Gate applies the deletion policy
type Gate struct {
	opts      Options
	confirmer confirm.Confirmer
	sink      report.Sink
	stats     *stats.Stats
}

// New creates a gate. Attr and Remove default to the real filesystem.
func New(opts Options, confirmer confirm.Confirmer, sink report.Sink, st *stats.Stats) *Gate {
	if opts.Attr == nil {
		opts.Attr = fileattr.System{}
	}
	if opts.Remove == nil {
		opts.Remove = os.Remove
	}
	return &Gate{
		opts:      opts,
		confirmer: confirmer,
		sink:      sink,
		stats:     st,
	}
}

// Handle applies the policy to one duplicate. The only error returned is
// cancellation, in which case nothing was deleted.
func (g *Gate) Handle(ctx context.Context, dup Duplicate) (Outcome, error) {
	path := dup.File.Path
	readOnly := g.opts.Attr.IsReadOnly(path)
	hidden := g.opts.Attr.IsHidden(path)

	if readOnly && !g.opts.AllowReadOnly {
		g.sink.Line(path + " - can't delete read-only files")
		g.record(dup, OutcomeReadOnly)
		return OutcomeReadOnly, nil
	}
	if hidden && !g.opts.AllowHidden {
		g.sink.Line(path + " - can't delete hidden files")
		g.record(dup, OutcomeHidden)
		return OutcomeHidden, nil
	}

	decision, err := g.confirmer.Confirm(ctx, confirm.Request{
		Path:      path,
		MatchPath: dup.Match.Path,
		Checksum:  dup.Checksum,
		Size:      dup.File.Size,
		ModTime:   dup.File.ModTime,
		Hidden:    hidden,
		ReadOnly:  readOnly,
	})
	if err != nil {
		return 0, err
	}
	if decision.Base() != confirm.Delete {
		g.sink.Line(path + ` - user said "no" to deletion`)
		g.record(dup, OutcomeDeclined)
		return OutcomeDeclined, nil
	}

	// No file is removed once cancellation has been observed
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if g.opts.Simulate {
		g.sink.Line(path + " - simulated deletion (dry run)")
		g.stats.RecordDeleted(dup.File.Size)
		g.record(dup, OutcomeSimulated)
		return OutcomeSimulated, nil
	}

	if err := g.opts.Remove(path); err != nil {
		g.sink.Line(fmt.Sprintf("%s - failed to delete file: %v", path, err))
		g.stats.RecordDeleteError()
		if g.opts.Journal != nil {
			g.opts.Journal.AddError(report.ErrorFile{
				Action: report.ActionFailed,
				Path:   path,
				SameAs: dup.Match.Path,
				Error:  err.Error(),
			})
		}
		return OutcomeFailed, nil
	}

	g.sink.Line(path + " - deleted")
	g.stats.RecordDeleted(dup.File.Size)
	g.record(dup, OutcomeDeleted)
	return OutcomeDeleted, nil
}

func (g *Gate) record(dup Duplicate, o Outcome) {
	if g.opts.Journal == nil {
		return
	}
	g.opts.Journal.Add(report.ResultFile{
		Action:   o.String(),
		Path:     dup.File.Path,
		SameAs:   dup.Match.Path,
		Size:     dup.File.Size,
		Checksum: dup.Checksum,
	})
}
