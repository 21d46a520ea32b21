package matcher

import (
	"context"

	"github.com/yuya-takeyama/trusted-dedup/internal/checksum"
	"github.com/yuya-takeyama/trusted-dedup/pkg/index"
)

// Summer computes the checksum of one entry
type Summer interface {
	Sum(ctx context.Context, e *index.Entry) checksum.Result
}

// Resolver finds the first entry of the same size with an identical checksum
type Resolver struct {
	idx    *index.SizeIndex
	summer Summer
}

// New creates a resolver over idx
func New(idx *index.SizeIndex, summer Summer) *Resolver {
	return &Resolver{
		idx:    idx,
		summer: summer,
	}
}

// Index adds a trusted entry without looking for matches
func (r *Resolver) Index(e *index.Entry) {
	r.idx.Add(e)
}

// Resolve returns the first entry in the candidate's size bucket whose
// checksum equals the candidate's, or nil when the candidate is unique.
// A unique candidate is appended to its bucket so later files can match it.
// On cancellation the candidate is not indexed and ctx.Err() is returned.
func (r *Resolver) Resolve(ctx context.Context, candidate *index.Entry) (*index.Entry, error) {
	bucket := r.idx.Bucket(candidate.Size)

	// Nothing to compare to, so no checksum is needed yet
	if len(bucket) == 0 {
		r.idx.Add(candidate)
		return nil, nil
	}

	sum, err := r.checksum(ctx, candidate)
	if err != nil {
		return nil, err
	}

	for _, known := range bucket {
		knownSum, err := r.checksum(ctx, known)
		if err != nil {
			return nil, err
		}
		if knownSum.Equal(sum) {
			return known, nil
		}
	}

	r.idx.Add(candidate)
	return nil, nil
}

// checksum returns the cached checksum of e, computing it on first use
func (r *Resolver) checksum(ctx context.Context, e *index.Entry) (checksum.Result, error) {
	if sum, ok := e.Checksum(); ok {
		return sum, nil
	}
	sum := r.summer.Sum(ctx, e)
	e.SetChecksum(sum)
	if err := ctx.Err(); err != nil {
		return checksum.Result{}, err
	}
	if sum.Status == checksum.StatusCancelled {
		return checksum.Result{}, context.Canceled
	}
	return sum, nil
}
