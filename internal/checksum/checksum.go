package checksum

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc64"
	"io"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	bufferSize = 64 * 1024 // 64KB buffer

	// progressStep is how often a big file reports partial progress
	progressStep = 5 * 1024 * 1024
)

// Algorithm names a digest function
type Algorithm string

const (
	SHA256    Algorithm = "sha256"
	MD5       Algorithm = "md5"
	SHA1      Algorithm = "sha1"
	SHA512    Algorithm = "sha512"
	CRC64NVME Algorithm = "crc64nvme"
	XXHash    Algorithm = "xxhash"
)

// Default is used when no algorithm is configured
const Default = SHA256

// CRC64NVME polynomial as used by AWS S3
var crc64NVMETable = crc64.MakeTable(0x9a6c9329ac4bc9b5)

// ErrUnknownAlgorithm is returned by ParseAlgorithm for unsupported names
var ErrUnknownAlgorithm = errors.New("unknown checksum algorithm")

// Algorithms lists every supported algorithm
func Algorithms() []Algorithm {
	return []Algorithm{SHA256, MD5, SHA1, SHA512, CRC64NVME, XXHash}
}

// ParseAlgorithm converts a user supplied name into an Algorithm
func ParseAlgorithm(name string) (Algorithm, error) {
	if name == "" {
		return Default, nil
	}
	alg := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	for _, a := range Algorithms() {
		if a == alg {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
}

func (a Algorithm) newHash() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA512:
		return sha512.New()
	case CRC64NVME:
		return crc64.New(crc64NVMETable)
	case XXHash:
		return xxhash.New()
	default:
		return sha256.New()
	}
}

// Status describes whether a Result holds a usable digest
type Status int

const (
	// StatusOK means Digest holds the file's checksum
	StatusOK Status = iota
	// StatusUnknown means the file could not be read
	StatusUnknown
	// StatusCancelled means the computation was abandoned
	StatusCancelled
)

// Result is the outcome of one checksum computation
type Result struct {
	Status Status
	Digest []byte
	Path   string
	Err    error
}

// OK reports whether the result carries a digest
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Equal compares two results. Failed results never compare equal,
// not even to another failure.
func (r Result) Equal(other Result) bool {
	if r.Status != StatusOK || other.Status != StatusOK {
		return false
	}
	return bytes.Equal(r.Digest, other.Digest)
}

// String renders the digest as lowercase hex, or a diagnostic for failures
func (r Result) String() string {
	switch r.Status {
	case StatusOK:
		return hex.EncodeToString(r.Digest)
	case StatusCancelled:
		return "unknown: cancelled by user for " + r.Path
	default:
		if r.Err != nil {
			return fmt.Sprintf("unknown: %v for %s", r.Err, r.Path)
		}
		return "unknown: file I/O error for " + r.Path
	}
}

// Unknown builds a failed result for path
func Unknown(path string, err error) Result {
	return Result{Status: StatusUnknown, Path: path, Err: err}
}

// Recorder receives one call per successfully computed checksum
type Recorder interface {
	RecordChecksum(bytes int64)
}

// ProgressFunc is called while a big file is being read
type ProgressFunc func(path string, done, total int64)

// Option configures a Computer
type Option func(*Computer)

// WithRecorder counts successful computations
func WithRecorder(r Recorder) Option {
	return func(c *Computer) { c.recorder = r }
}

// WithProgress reports partial progress for files larger than a few megabytes
func WithProgress(fn ProgressFunc) Option {
	return func(c *Computer) { c.progress = fn }
}

// Computer streams files through a digest function
type Computer struct {
	alg      Algorithm
	recorder Recorder
	progress ProgressFunc
}

// NewComputer creates a Computer for the given algorithm
func NewComputer(alg Algorithm, opts ...Option) (*Computer, error) {
	if alg == "" {
		alg = Default
	}
	if _, err := ParseAlgorithm(string(alg)); err != nil {
		return nil, err
	}
	c := &Computer{alg: alg}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// File calculates the checksum of the file at path
func (c *Computer) File(ctx context.Context, path string) Result {
	if ctx.Err() != nil {
		return Result{Status: StatusCancelled, Path: path}
	}

	file, err := os.Open(path)
	if err != nil {
		return Unknown(path, fmt.Errorf("open file: %w", err))
	}
	defer file.Close()

	var size int64
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	return c.Reader(ctx, file, size, path)
}

// Reader calculates the checksum of everything read from r.
// size is only used for progress reporting.
func (c *Computer) Reader(ctx context.Context, r io.Reader, size int64, path string) Result {
	h := c.alg.newHash()
	buffer := make([]byte, bufferSize)

	var done, reported int64
	for {
		if ctx.Err() != nil {
			return Result{Status: StatusCancelled, Path: path}
		}

		n, err := r.Read(buffer)
		if n > 0 {
			if _, werr := h.Write(buffer[:n]); werr != nil {
				return Unknown(path, fmt.Errorf("write to hash: %w", werr))
			}
			done += int64(n)
			if c.progress != nil && done-reported > progressStep {
				c.progress(path, done, size)
				reported = done
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Unknown(path, fmt.Errorf("read: %w", err))
		}
	}

	if c.recorder != nil {
		c.recorder.RecordChecksum(done)
	}
	return Result{Status: StatusOK, Digest: h.Sum(nil), Path: path}
}

// Decode parses a base64 digest as returned by S3. Composite checksums
// of multipart uploads ("xxx-3") are rejected.
func Decode(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty checksum")
	}
	if strings.Contains(s, "-") {
		return nil, fmt.Errorf("composite checksum %q", s)
	}
	digest, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode checksum: %w", err)
	}
	return digest, nil
}
