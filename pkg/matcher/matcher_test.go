package matcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/yuya-takeyama/trusted-dedup/internal/checksum"
	"github.com/yuya-takeyama/trusted-dedup/pkg/index"
)

// fakeSummer returns the digest registered for each path and counts calls.
type fakeSummer struct {
	digests map[string]string
	failing map[string]bool
	calls   map[string]int
	onSum   func(path string)
}

func newFakeSummer() *fakeSummer {
	return &fakeSummer{
		digests: map[string]string{},
		failing: map[string]bool{},
		calls:   map[string]int{},
	}
}

func (f *fakeSummer) Sum(ctx context.Context, e *index.Entry) checksum.Result {
	f.calls[e.Path]++
	if f.onSum != nil {
		f.onSum(e.Path)
	}
	if ctx.Err() != nil {
		return checksum.Result{Status: checksum.StatusCancelled, Path: e.Path}
	}
	if f.failing[e.Path] {
		return checksum.Unknown(e.Path, errors.New("permission denied"))
	}
	return checksum.Result{Status: checksum.StatusOK, Digest: []byte(f.digests[e.Path]), Path: e.Path}
}

func entry(path string, size int64) *index.Entry {
	return index.NewEntry(path, size, time.Time{})
}

func TestResolveEmptyBucketSkipsChecksum(t *testing.T) {
	sums := newFakeSummer()
	idx := index.New()
	r := New(idx, sums)

	cand := entry("/u/a", 10)
	match, err := r.Resolve(context.Background(), cand)
	if err != nil || match != nil {
		t.Fatalf("Resolve() = %v, %v; want nil, nil", match, err)
	}
	if len(sums.calls) != 0 {
		t.Errorf("checksums computed for empty bucket: %v", sums.calls)
	}
	if got := idx.Bucket(10); len(got) != 1 || got[0] != cand {
		t.Errorf("candidate not appended: %v", got)
	}
}

func TestResolveFirstMatchWins(t *testing.T) {
	sums := newFakeSummer()
	sums.digests = map[string]string{
		"/t/1": "H2",
		"/t/2": "H1",
		"/t/3": "H1",
		"/u/x": "H1",
	}
	idx := index.New()
	r := New(idx, sums)
	for _, p := range []string{"/t/1", "/t/2", "/t/3"} {
		r.Index(entry(p, 100))
	}

	match, err := r.Resolve(context.Background(), entry("/u/x", 100))
	if err != nil {
		t.Fatal(err)
	}
	if match == nil || match.Path != "/t/2" {
		t.Fatalf("Resolve() match = %v, want /t/2", match)
	}
	if sums.calls["/t/3"] != 0 {
		t.Errorf("bucket scan continued past the first match")
	}
	if idx.Count() != 3 {
		t.Errorf("duplicate candidate was indexed")
	}
}

func TestResolveOnlyComparesEqualSizes(t *testing.T) {
	sums := newFakeSummer()
	sums.digests = map[string]string{"/t/a": "H1", "/u/b": "H1"}
	r := New(index.New(), sums)
	r.Index(entry("/t/a", 100))

	match, err := r.Resolve(context.Background(), entry("/u/b", 101))
	if err != nil {
		t.Fatal(err)
	}
	if match != nil {
		t.Errorf("files of different sizes matched")
	}
	if len(sums.calls) != 0 {
		t.Errorf("checksums computed across size buckets: %v", sums.calls)
	}
}

func TestResolveLazyChecksums(t *testing.T) {
	sums := newFakeSummer()
	sums.digests = map[string]string{
		"/t/a": "H1",
		"/u/1": "H2",
		"/u/2": "H3",
		"/u/3": "H2",
	}
	r := New(index.New(), sums)
	r.Index(entry("/t/a", 5))

	for _, p := range []string{"/u/1", "/u/2", "/u/3"} {
		if _, err := r.Resolve(context.Background(), entry(p, 5)); err != nil {
			t.Fatal(err)
		}
	}

	for path, n := range sums.calls {
		if n != 1 {
			t.Errorf("checksum of %s computed %d times, want 1", path, n)
		}
	}
}

func TestResolveSelfReferential(t *testing.T) {
	sums := newFakeSummer()
	sums.digests = map[string]string{"/u/first": "H1", "/u/second": "H1"}
	r := New(index.New(), sums)

	first := entry("/u/first", 42)
	if match, _ := r.Resolve(context.Background(), first); match != nil {
		t.Fatalf("first file matched %v", match)
	}
	match, err := r.Resolve(context.Background(), entry("/u/second", 42))
	if err != nil {
		t.Fatal(err)
	}
	if match != first {
		t.Errorf("second file matched %v, want first unknown file", match)
	}
}

func TestResolveChecksumFailuresNeverMatch(t *testing.T) {
	sums := newFakeSummer()
	sums.failing = map[string]bool{"/t/bad": true, "/u/bad": true}
	idx := index.New()
	r := New(idx, sums)
	r.Index(entry("/t/bad", 7))

	match, err := r.Resolve(context.Background(), entry("/u/bad", 7))
	if err != nil {
		t.Fatal(err)
	}
	if match != nil {
		t.Errorf("unreadable files matched each other")
	}
	if idx.Count() != 2 {
		t.Errorf("unreadable candidate was not appended to its bucket")
	}

	// a later readable file of the same size still compares safely
	sums.digests["/u/ok"] = "H9"
	if match, err := r.Resolve(context.Background(), entry("/u/ok", 7)); err != nil || match != nil {
		t.Errorf("Resolve() = %v, %v; want no match", match, err)
	}
	if sums.calls["/t/bad"] != 1 || sums.calls["/u/bad"] != 1 {
		t.Errorf("failed checksums were recomputed: %v", sums.calls)
	}
}

func TestResolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sums := newFakeSummer()
	sums.digests = map[string]string{"/t/a": "H1", "/u/x": "H1"}
	sums.onSum = func(path string) {
		if path == "/u/x" {
			cancel()
		}
	}
	idx := index.New()
	r := New(idx, sums)
	r.Index(entry("/t/a", 3))

	match, err := r.Resolve(ctx, entry("/u/x", 3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Resolve() error = %v, want context.Canceled", err)
	}
	if match != nil {
		t.Errorf("cancelled resolution produced a match")
	}
	if idx.Count() != 1 {
		t.Errorf("cancelled candidate was indexed")
	}
	if sums.calls["/t/a"] != 0 {
		t.Errorf("bucket was scanned after cancellation")
	}
}

// A randomized check that the returned match is always the earliest
// inserted entry with an equal checksum, and that sizes never mix.
func TestResolveRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for round := 0; round < 50; round++ {
		sums := newFakeSummer()
		idx := index.New()
		r := New(idx, sums)

		type rec struct {
			e      *index.Entry
			digest string
		}
		var seen []rec

		for i := 0; i < 40; i++ {
			size := int64(rng.Intn(4) + 1)
			digest := fmt.Sprintf("D%d-%d", size, rng.Intn(3))
			e := entry(fmt.Sprintf("/f/%d/%d", round, i), size)
			sums.digests[e.Path] = digest

			var want *index.Entry
			for _, s := range seen {
				if s.e.Size == size && s.digest == digest {
					want = s.e
					break
				}
			}

			got, err := r.Resolve(context.Background(), e)
			if err != nil {
				t.Fatal(err)
			}
			if got != want {
				t.Fatalf("round %d file %d: match = %v, want %v", round, i, got, want)
			}
			if got != nil && got.Size != e.Size {
				t.Fatalf("matched entries of different sizes")
			}
			if got == nil {
				seen = append(seen, rec{e, digest})
			}
		}
	}
}
