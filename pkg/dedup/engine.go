// Package dedup deletes files of an unknown tree that duplicate files of a
// trusted tree.
//
// A run indexes the trusted tree by size, then walks the unknown tree in a
// fixed order. Each unknown file is compared by checksum only against earlier
// entries of exactly the same size; the first match wins. Unknown files that
// match nothing join the index, so identical files inside the unknown tree
// are also detected and only the first one seen is kept. This also holds
// when no trusted tree is given at all.
//
// Everything runs sequentially on the caller's goroutine. See
// internal/worker for running an Engine in the background.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuya-takeyama/trusted-dedup/internal/checksum"
	"github.com/yuya-takeyama/trusted-dedup/internal/fileattr"
	"github.com/yuya-takeyama/trusted-dedup/internal/logging"
	"github.com/yuya-takeyama/trusted-dedup/internal/s3client"
	"github.com/yuya-takeyama/trusted-dedup/internal/walker"
	"github.com/yuya-takeyama/trusted-dedup/pkg/confirm"
	"github.com/yuya-takeyama/trusted-dedup/pkg/report"
	"github.com/yuya-takeyama/trusted-dedup/pkg/stats"
)

var (
	// ErrConfig marks problems with the run inputs. Nothing is scanned.
	ErrConfig = errors.New("configuration error")
	// ErrOverlap is returned when one root is inside the other
	ErrOverlap = fmt.Errorf("%w: trusted and unknown folders overlap", ErrConfig)
)

// Request names the two trees of a run
type Request struct {
	// TrustedRoot is a local file or folder, an s3://bucket/prefix archive,
	// or empty to only detect duplicates among the unknown files
	TrustedRoot string
	UnknownRoot string
}

// Options is the configuration bundle of a run
type Options struct {
	RecurseSubfolders   bool
	IncludeHidden       bool
	IncludeEmptyFiles   bool
	AllowReadOnlyDelete bool
	AllowHiddenDelete   bool
	SimulateOnly        bool
	Debug               bool
	Excludes            []string
	Algorithm           checksum.Algorithm
}

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		RecurseSubfolders: true,
		Algorithm:         checksum.Default,
	}
}

// Archive is a remote trusted tree. Stored checksums are used when the
// archive has them; otherwise the object is downloaded and hashed locally.
type Archive interface {
	ListObjects(ctx context.Context, bucket, prefix string, fn func(s3client.Object) error) error
	Checksum(ctx context.Context, bucket, key string, alg checksum.Algorithm) checksum.Result
	Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error)
}

// Resetter is implemented by confirmers holding per-run state
type Resetter interface {
	Reset()
}

// Engine runs deduplication passes. An Engine must not run two passes at once.
type Engine struct {
	opts      Options
	confirmer confirm.Confirmer
	sink      report.Sink
	stats     *stats.Stats
	archive   Archive
	journal   *report.Journal
	attr      fileattr.Prober
	remove    func(path string) error
	progress  checksum.ProgressFunc
	logger    *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithConfirmer sets who approves deletions. The default deletes without asking.
func WithConfirmer(c confirm.Confirmer) Option {
	return func(e *Engine) { e.confirmer = c }
}

// WithSink sets the report stream
func WithSink(s report.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithStats shares counters with the caller so they can be read during a run
func WithStats(s *stats.Stats) Option {
	return func(e *Engine) { e.stats = s }
}

// WithArchive enables s3:// trusted roots
func WithArchive(a Archive) Option {
	return func(e *Engine) { e.archive = a }
}

// WithJournal records every duplicate for the result file
func WithJournal(j *report.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithAttr overrides the hidden and read-only probes
func WithAttr(p fileattr.Prober) Option {
	return func(e *Engine) { e.attr = p }
}

// WithRemove overrides file removal
func WithRemove(fn func(path string) error) Option {
	return func(e *Engine) { e.remove = fn }
}

// WithProgress reports checksum progress of big files
func WithProgress(fn checksum.ProgressFunc) Option {
	return func(e *Engine) { e.progress = fn }
}

// New creates an engine
func New(opts Options, options ...Option) *Engine {
	if opts.Algorithm == "" {
		opts.Algorithm = checksum.Default
	}
	e := &Engine{
		opts:      opts,
		confirmer: confirm.Auto(confirm.Delete),
		sink:      report.NullSink{},
		stats:     stats.New(),
		attr:      fileattr.System{},
		remove:    os.Remove,
		logger:    logging.L("dedup"),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Stats returns the live counters
func (e *Engine) Stats() *stats.Stats {
	return e.stats
}

// Sink returns the report stream
func (e *Engine) Sink() report.Sink {
	return e.sink
}

// Run performs one pass. Counters are reset first. The summary is written
// to the sink even when the run is cancelled, in which case the returned
// error wraps context.Canceled.
func (e *Engine) Run(ctx context.Context, req Request) (stats.Snapshot, error) {
	e.stats.Reset()
	if r, ok := e.confirmer.(Resetter); ok {
		r.Reset()
	}

	r, err := e.prepare(req)
	if err != nil {
		e.logger.Error("run refused", logging.KeyError, err)
		return e.stats.Snapshot(), err
	}

	e.logger.Info("run started", "trusted", r.trusted.display(), "unknown", r.unknown, "algorithm", e.opts.Algorithm)

	err = r.execute(ctx)
	cancelled := errors.Is(err, context.Canceled) || ctx.Err() != nil
	if cancelled {
		e.sink.Line("Cancelled by user.")
	}
	if err != nil && !cancelled {
		e.sink.Line("Run aborted: " + err.Error())
	}

	snap := e.stats.Snapshot()
	e.sink.Line("")
	for _, line := range snap.SummaryLines(cancelled) {
		e.sink.Line(line)
	}
	e.logger.Info("run finished", "cancelled", cancelled, "deleted", snap.DeletedFiles, "duplicates", snap.DuplicateFiles)

	if cancelled && err == nil {
		err = ctx.Err()
	}
	return snap, err
}

// trustedRoot is either a canonical local path or a remote archive
type trustedRoot struct {
	local  string
	bucket string
	prefix string
}

func (t trustedRoot) remote() bool {
	return t.bucket != ""
}

func (t trustedRoot) display() string {
	if t.remote() {
		return s3client.FormatS3URI(t.bucket, t.prefix)
	}
	return t.local
}

// prepare validates and canonicalizes the inputs. Every refusal is reported
// on the sink before returning.
func (e *Engine) prepare(req Request) (*run, error) {
	if _, err := checksum.ParseAlgorithm(string(e.opts.Algorithm)); err != nil {
		e.sink.Line(err.Error())
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := walker.ValidateExcludes(e.opts.Excludes); err != nil {
		e.sink.Line(err.Error())
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	var trusted trustedRoot
	switch {
	case req.TrustedRoot == "":
	case s3client.IsS3URI(req.TrustedRoot):
		bucket, prefix, err := s3client.ParseS3URI(req.TrustedRoot)
		if err != nil {
			e.sink.Line(err.Error())
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		if e.archive == nil {
			e.sink.Line("S3 trusted archives are not available: " + req.TrustedRoot)
			return nil, fmt.Errorf("%w: no S3 client for %s", ErrConfig, req.TrustedRoot)
		}
		if !s3client.SupportsAlgorithm(e.opts.Algorithm) {
			e.logger.Warn("S3 does not store this checksum, trusted objects will be downloaded",
				"algorithm", e.opts.Algorithm, "trusted", req.TrustedRoot)
		}
		trusted = trustedRoot{bucket: bucket, prefix: prefix}
	default:
		local, err := canonical(req.TrustedRoot)
		if err != nil {
			e.sink.Line("Trusted file/folder does not exist: " + req.TrustedRoot)
			return nil, fmt.Errorf("%w: trusted root: %w", ErrConfig, err)
		}
		trusted = trustedRoot{local: local}
	}

	if req.UnknownRoot == "" {
		e.sink.Line("Unknown file/folder is required.")
		return nil, fmt.Errorf("%w: unknown root is required", ErrConfig)
	}
	unknown, err := canonical(req.UnknownRoot)
	if err != nil {
		e.sink.Line("Unknown file/folder does not exist: " + req.UnknownRoot)
		return nil, fmt.Errorf("%w: unknown root: %w", ErrConfig, err)
	}

	if trusted.local != "" && (within(trusted.local, unknown) || within(unknown, trusted.local)) {
		e.sink.Line("Trusted folder can not be the same as, inside, or containing the unknown folder.")
		e.sink.Line("Trusted file/folder resolves to: " + trusted.local)
		e.sink.Line("Unknown file/folder resolves to: " + unknown)
		return nil, ErrOverlap
	}

	return newRun(e, trusted, unknown)
}

// canonical resolves path to an absolute path without symlinks
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("get absolute path: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if _, err := os.Stat(resolved); err != nil {
		return "", fmt.Errorf("stat root: %w", err)
	}
	return resolved, nil
}

// within reports whether path is dir itself or anywhere below it
func within(path, dir string) bool {
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dir)
}
