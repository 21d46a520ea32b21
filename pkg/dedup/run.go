package dedup

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/yuya-takeyama/trusted-dedup/internal/checksum"
	"github.com/yuya-takeyama/trusted-dedup/internal/logging"
	"github.com/yuya-takeyama/trusted-dedup/internal/s3client"
	"github.com/yuya-takeyama/trusted-dedup/internal/walker"
	"github.com/yuya-takeyama/trusted-dedup/pkg/gate"
	"github.com/yuya-takeyama/trusted-dedup/pkg/index"
	"github.com/yuya-takeyama/trusted-dedup/pkg/matcher"
)

// run is the state of one pass. It is owned by a single goroutine.
type run struct {
	e        *Engine
	trusted  trustedRoot
	unknown  string
	computer *checksum.Computer
	idx      *index.SizeIndex
	resolver *matcher.Resolver
	gate     *gate.Gate
}

func newRun(e *Engine, trusted trustedRoot, unknown string) (*run, error) {
	opts := []checksum.Option{checksum.WithRecorder(e.stats)}
	if e.progress != nil {
		opts = append(opts, checksum.WithProgress(e.progress))
	}
	computer, err := checksum.NewComputer(e.opts.Algorithm, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	r := &run{
		e:        e,
		trusted:  trusted,
		unknown:  unknown,
		computer: computer,
		idx:      index.New(),
	}
	r.resolver = matcher.New(r.idx, r)
	r.gate = gate.New(gate.Options{
		AllowReadOnly: e.opts.AllowReadOnlyDelete,
		AllowHidden:   e.opts.AllowHiddenDelete,
		Simulate:      e.opts.SimulateOnly,
		Attr:          e.attr,
		Remove:        e.remove,
		Journal:       e.journal,
	}, e.confirmer, e.sink, e.stats)
	return r, nil
}

func (r *run) execute(ctx context.Context) error {
	switch {
	case r.trusted.remote():
		if err := r.indexArchive(ctx); err != nil {
			return err
		}
	case r.trusted.local != "":
		if err := r.indexTrusted(ctx); err != nil {
			return err
		}
	}
	return r.checkUnknown(ctx)
}

func (r *run) newWalker(onFolder func(string)) *walker.Walker {
	var debug func(string)
	if r.e.opts.Debug {
		debug = r.e.sink.Line
	}
	return walker.New(walker.Options{
		Recurse:       r.e.opts.RecurseSubfolders,
		IncludeHidden: r.e.opts.IncludeHidden,
		IncludeEmpty:  r.e.opts.IncludeEmptyFiles,
		Excludes:      r.e.opts.Excludes,
		OnFolder:      onFolder,
		Debug:         debug,
		Attr:          r.e.attr,
	})
}

// indexTrusted adds every trusted file to the index without matching
func (r *run) indexTrusted(ctx context.Context) error {
	w := r.newWalker(func(dir string) {
		r.e.sink.Line("Scanning trusted folder " + dir)
	})
	err := w.Walk(ctx, r.trusted.local, r.unknown, func(ctx context.Context, f walker.File) error {
		r.resolver.Index(index.NewEntry(f.Path, f.Size, f.ModTime))
		return nil
	})
	if err != nil {
		return err
	}
	r.e.logger.Info("trusted folder indexed", "files", r.idx.Count(), "sizes", r.idx.Len())
	return nil
}

// indexArchive adds every object of the remote trusted archive to the index,
// applying the same filters and the same visiting order as a local walk
func (r *run) indexArchive(ctx context.Context) error {
	r.e.sink.Line("Scanning trusted folder " + r.trusted.display())
	w := r.newWalker(nil)
	var objects []s3client.Object
	err := r.e.archive.ListObjects(ctx, r.trusted.bucket, r.trusted.prefix, func(obj s3client.Object) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		uri := obj.URI()
		switch {
		case !r.e.opts.RecurseSubfolders && strings.Contains(obj.RelPath, "/"):
			r.debug(uri + " - ignoring subfolder")
			return nil
		case !r.e.opts.IncludeHidden && hiddenKey(obj.RelPath):
			r.debug(uri + " - ignoring hidden file/folder")
			return nil
		case w.Excluded(obj.RelPath):
			r.debug(uri + " - ignoring excluded file")
			return nil
		case obj.Size == 0 && !r.e.opts.IncludeEmptyFiles:
			r.debug(uri + " - ignoring zero-byte empty file")
			return nil
		}
		objects = append(objects, obj)
		return nil
	})
	if err != nil {
		return fmt.Errorf("list trusted archive: %w", err)
	}

	sort.SliceStable(objects, func(i, j int) bool {
		return scanOrderLess(objects[i].RelPath, objects[j].RelPath)
	})
	for _, obj := range objects {
		entry := index.NewEntry(obj.URI(), obj.Size, obj.ModTime)
		entry.Remote = true
		r.resolver.Index(entry)
	}
	r.e.logger.Info("trusted archive indexed", "objects", r.idx.Count(), "sizes", r.idx.Len())
	return nil
}

// scanOrderLess orders slash-separated relative paths the way a local walk
// visits them: files of a folder before its subfolders, each subtree whole
func scanOrderLess(a, b string) bool {
	pa, pb := strings.Split(a, "/"), strings.Split(b, "/")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] == pb[i] {
			continue
		}
		return walker.Less(pa[i], i < len(pa)-1, pb[i], i < len(pb)-1)
	}
	return len(pa) < len(pb)
}

func hiddenKey(relPath string) bool {
	for _, part := range strings.Split(relPath, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// checkUnknown resolves every unknown file and hands duplicates to the gate
func (r *run) checkUnknown(ctx context.Context) error {
	w := r.newWalker(func(dir string) {
		r.e.stats.RecordUnknownFolder()
		r.e.sink.Line("Checking unknown folder " + dir)
	})
	return w.Walk(ctx, r.unknown, r.trusted.local, r.checkFile)
}

func (r *run) checkFile(ctx context.Context, f walker.File) error {
	candidate := index.NewEntry(f.Path, f.Size, f.ModTime)
	match, err := r.resolver.Resolve(ctx, candidate)
	if err != nil {
		return err
	}
	r.e.stats.RecordUnknownFile(f.Size)
	if match == nil {
		return nil
	}

	sum, _ := match.Checksum()
	r.e.stats.RecordDuplicate(f.Size)
	r.e.sink.Line(f.Path + " - same as " + match.Path)

	_, err = r.gate.Handle(ctx, gate.Duplicate{
		File:     candidate,
		Match:    match,
		Checksum: sum.String(),
	})
	return err
}

// Sum computes the checksum of a local file or fetches the stored checksum
// of a remote object
func (r *run) Sum(ctx context.Context, e *index.Entry) checksum.Result {
	var res checksum.Result
	if e.Remote {
		res = r.sumRemote(ctx, e)
	} else {
		res = r.computer.File(ctx, e.Path)
	}

	switch res.Status {
	case checksum.StatusCancelled:
		return res
	case checksum.StatusUnknown:
		r.e.stats.RecordChecksumFailure()
		r.e.logger.Warn("checksum failed", logging.KeyPath, e.Path, logging.KeyError, res.Err)
		if !r.e.opts.Debug {
			r.e.sink.Line(res.String())
		}
	}

	r.debug(fmt.Sprintf("%s size %s checksum %s", e.Path, humanize.Comma(e.Size), res))
	return res
}

// sumRemote prefers the checksum stored with the object and falls back to
// downloading and hashing it
func (r *run) sumRemote(ctx context.Context, e *index.Entry) checksum.Result {
	bucket, key, err := s3client.SplitURI(e.Path)
	if err != nil {
		return checksum.Unknown(e.Path, err)
	}

	if s3client.SupportsAlgorithm(r.e.opts.Algorithm) {
		res := r.e.archive.Checksum(ctx, bucket, key, r.e.opts.Algorithm)
		switch res.Status {
		case checksum.StatusOK:
			r.e.stats.RecordChecksum(e.Size)
			return res
		case checksum.StatusCancelled:
			return res
		}
		r.e.logger.Debug("stored checksum unavailable, downloading", logging.KeyPath, e.Path, logging.KeyError, res.Err)
	}

	return r.downloadSum(ctx, bucket, key, e.Path)
}

// downloadSum fetches the object into a temporary file and hashes it
func (r *run) downloadSum(ctx context.Context, bucket, key, uri string) checksum.Result {
	f, err := os.CreateTemp("", "trusted-dedup-*")
	if err != nil {
		return checksum.Unknown(uri, fmt.Errorf("create temp file: %w", err))
	}
	defer os.Remove(f.Name())
	defer f.Close()

	n, err := r.e.archive.Download(ctx, bucket, key, f)
	if err != nil {
		if ctx.Err() != nil {
			return checksum.Result{Status: checksum.StatusCancelled, Path: uri}
		}
		return checksum.Unknown(uri, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return checksum.Unknown(uri, fmt.Errorf("rewind temp file: %w", err))
	}
	return r.computer.Reader(ctx, f, n, uri)
}

func (r *run) debug(line string) {
	if r.e.opts.Debug {
		r.e.sink.Line(line)
	}
}
