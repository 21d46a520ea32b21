package index

import (
	"errors"
	"testing"
	"time"

	"github.com/yuya-takeyama/trusted-dedup/internal/checksum"
)

func TestSizeIndexBuckets(t *testing.T) {
	idx := New()
	now := time.Now()
	a := NewEntry("/t/a", 100, now)
	b := NewEntry("/t/b", 200, now)
	c := NewEntry("/t/c", 100, now)

	idx.Add(a)
	idx.Add(b)
	idx.Add(c)

	if idx.Len() != 2 {
		t.Errorf("Len() = %d, want 2", idx.Len())
	}
	if idx.Count() != 3 {
		t.Errorf("Count() = %d, want 3", idx.Count())
	}

	bucket := idx.Bucket(100)
	if len(bucket) != 2 || bucket[0] != a || bucket[1] != c {
		t.Errorf("Bucket(100) = %v, want [a c] in insertion order", bucket)
	}
	if got := idx.Bucket(300); len(got) != 0 {
		t.Errorf("Bucket(300) = %v, want empty", got)
	}
}

func TestEntryChecksumCaching(t *testing.T) {
	e := NewEntry("/u/x", 10, time.Time{})

	if _, ok := e.Checksum(); ok {
		t.Fatal("new entry reports a computed checksum")
	}

	e.SetChecksum(checksum.Result{Status: checksum.StatusCancelled, Path: e.Path})
	if _, ok := e.Checksum(); ok {
		t.Error("cancelled result was cached")
	}

	e.SetChecksum(checksum.Unknown(e.Path, errors.New("permission denied")))
	got, ok := e.Checksum()
	if !ok || got.Status != checksum.StatusUnknown {
		t.Errorf("Checksum() = %v, %v; want cached unknown result", got, ok)
	}
}
