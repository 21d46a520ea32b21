package s3client

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/yuya-takeyama/trusted-dedup/internal/checksum"
)

// mockAPI is a mock implementation of API for testing
type mockAPI struct {
	pages      []*s3.ListObjectsV2Output
	listCalls  int
	head       map[string]*s3.HeadObjectOutput
	headErrs   []error // returned in order before head succeeds
	headCalls  int
	lastHeadIn *s3.HeadObjectInput

	mu       sync.Mutex
	objects  map[string][]byte
	getCalls int
}

func (m *mockAPI) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	page := m.pages[m.listCalls]
	m.listCalls++
	return page, nil
}

func (m *mockAPI) HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.lastHeadIn = in
	m.headCalls++
	if len(m.headErrs) > 0 {
		err := m.headErrs[0]
		m.headErrs = m.headErrs[1:]
		return nil, err
	}
	out, ok := m.head[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return out, nil
}

// GetObject serves ranged reads the way S3 does for the download manager
func (m *mockAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	m.getCalls++
	data, ok := m.objects[aws.ToString(in.Key)]
	m.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	start, end := int64(0), int64(len(data))-1
	if r := aws.ToString(in.Range); r != "" {
		if _, err := fmt.Sscanf(r, "bytes=%d-%d", &start, &end); err != nil {
			return nil, err
		}
	}
	end = min(end, int64(len(data))-1)
	body := data[start : end+1]

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
		ContentRange:  aws.String(fmt.Sprintf("bytes %d-%d/%d", start, end, len(data))),
	}, nil
}

func newTestClient(api API) *Client {
	c := NewWithAPI(api)
	c.baseDelay = time.Millisecond
	c.maxDelay = 5 * time.Millisecond
	return c
}

func obj(key string, size int64) types.Object {
	return types.Object{Key: aws.String(key), Size: aws.Int64(size), LastModified: aws.Time(time.Unix(1700000000, 0))}
}

func TestListObjects(t *testing.T) {
	api := &mockAPI{pages: []*s3.ListObjectsV2Output{
		{
			Contents:              []types.Object{obj("photos/", 0), obj("photos/a.jpg", 10)},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("next"),
		},
		{
			Contents: []types.Object{obj("photos/sub/b.jpg", 20)},
		},
	}}

	var got []Object
	err := newTestClient(api).ListObjects(context.Background(), "bucket", "photos/", func(o Object) error {
		got = append(got, o)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d objects, want 2: %+v", len(got), got)
	}
	if got[0].RelPath != "a.jpg" || got[1].RelPath != "sub/b.jpg" {
		t.Errorf("relative paths = %q, %q", got[0].RelPath, got[1].RelPath)
	}
	if got[1].URI() != "s3://bucket/photos/sub/b.jpg" || got[1].Size != 20 {
		t.Errorf("object = %+v", got[1])
	}
	if api.listCalls != 2 {
		t.Errorf("ListObjectsV2 called %d times, want 2", api.listCalls)
	}
}

func TestChecksum(t *testing.T) {
	digest := []byte("0123456789abcdef0123456789abcdef")
	encoded := base64.StdEncoding.EncodeToString(digest)

	tests := []struct {
		name       string
		alg        checksum.Algorithm
		out        *s3.HeadObjectOutput
		wantStatus checksum.Status
		wantHead   bool
	}{
		{
			name:       "sha256",
			alg:        checksum.SHA256,
			out:        &s3.HeadObjectOutput{ChecksumSHA256: aws.String(encoded), ChecksumType: types.ChecksumTypeFullObject},
			wantStatus: checksum.StatusOK,
			wantHead:   true,
		},
		{
			name:       "crc64nvme",
			alg:        checksum.CRC64NVME,
			out:        &s3.HeadObjectOutput{ChecksumCRC64NVME: aws.String(base64.StdEncoding.EncodeToString(digest[:8]))},
			wantStatus: checksum.StatusOK,
			wantHead:   true,
		},
		{
			name:       "missing checksum",
			alg:        checksum.SHA256,
			out:        &s3.HeadObjectOutput{ChecksumCRC64NVME: aws.String(encoded)},
			wantStatus: checksum.StatusUnknown,
			wantHead:   true,
		},
		{
			name:       "composite checksum",
			alg:        checksum.SHA256,
			out:        &s3.HeadObjectOutput{ChecksumSHA256: aws.String(encoded + "-3"), ChecksumType: types.ChecksumTypeComposite},
			wantStatus: checksum.StatusUnknown,
			wantHead:   true,
		},
		{
			name:       "unsupported algorithm",
			alg:        checksum.MD5,
			out:        &s3.HeadObjectOutput{},
			wantStatus: checksum.StatusUnknown,
			wantHead:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{head: map[string]*s3.HeadObjectOutput{"k": tt.out}}
			got := newTestClient(api).Checksum(context.Background(), "b", "k", tt.alg)

			if got.Status != tt.wantStatus {
				t.Errorf("status = %v (%s), want %v", got.Status, got, tt.wantStatus)
			}
			if got.Path != "s3://b/k" {
				t.Errorf("path = %q", got.Path)
			}
			if (api.headCalls > 0) != tt.wantHead {
				t.Errorf("HeadObject calls = %d", api.headCalls)
			}
			if tt.wantHead && api.lastHeadIn.ChecksumMode != types.ChecksumModeEnabled {
				t.Error("HeadObject called without checksum mode")
			}
		})
	}
}

func TestDownload(t *testing.T) {
	small := []byte("trusted content")
	large := bytes.Repeat([]byte("0123456789abcdef"), 6*1024*1024/16)

	tests := []struct {
		name string
		data []byte
	}{
		{"single part", small},
		{"multiple parts", large},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{objects: map[string][]byte{"k": tt.data}}
			buf := manager.NewWriteAtBuffer(nil)

			n, err := newTestClient(api).Download(context.Background(), "b", "k", buf)
			if err != nil {
				t.Fatalf("Download() error = %v", err)
			}
			if n != int64(len(tt.data)) || !bytes.Equal(buf.Bytes(), tt.data) {
				t.Errorf("downloaded %d bytes, content equal = %v", n, bytes.Equal(buf.Bytes(), tt.data))
			}
		})
	}
}

func TestDownloadMissing(t *testing.T) {
	api := &mockAPI{objects: map[string][]byte{}}
	_, err := newTestClient(api).Download(context.Background(), "b", "gone", manager.NewWriteAtBuffer(nil))

	var noSuchKey *types.NoSuchKey
	if !errors.As(err, &noSuchKey) {
		t.Errorf("Download() error = %v, want NoSuchKey", err)
	}
}

func TestChecksumNotFound(t *testing.T) {
	api := &mockAPI{head: map[string]*s3.HeadObjectOutput{}}
	got := newTestClient(api).Checksum(context.Background(), "b", "gone", checksum.SHA256)

	if got.Status != checksum.StatusUnknown {
		t.Errorf("status = %v, want unknown", got.Status)
	}
	var notFound *types.NotFound
	if !errors.As(got.Err, &notFound) {
		t.Errorf("err = %v, want NotFound", got.Err)
	}
	if api.headCalls != 1 {
		t.Errorf("NotFound was retried: %d calls", api.headCalls)
	}
}

func TestHeadObjectRetries(t *testing.T) {
	api := &mockAPI{
		head: map[string]*s3.HeadObjectOutput{"k": {}},
		headErrs: []error{
			&smithy.GenericAPIError{Code: "SlowDown"},
			&smithy.GenericAPIError{Code: "ServiceUnavailable"},
		},
	}

	if _, err := newTestClient(api).HeadObject(context.Background(), "b", "k"); err != nil {
		t.Fatalf("HeadObject() error = %v", err)
	}
	if api.headCalls != 3 {
		t.Errorf("HeadObject calls = %d, want 3", api.headCalls)
	}
}

func TestHeadObjectNonRetryable(t *testing.T) {
	api := &mockAPI{headErrs: []error{&smithy.GenericAPIError{Code: "AccessDenied"}}}

	if _, err := newTestClient(api).HeadObject(context.Background(), "b", "k"); err == nil {
		t.Fatal("HeadObject() succeeded, want AccessDenied")
	}
	if api.headCalls != 1 {
		t.Errorf("HeadObject calls = %d, want 1", api.headCalls)
	}
}

func TestIsRetryableError(t *testing.T) {
	c := newTestClient(&mockAPI{})
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	c := &Client{baseDelay: 100 * time.Millisecond, maxDelay: time.Second}
	for attempt := 0; attempt < 10; attempt++ {
		d := c.calculateDelay(attempt)
		if d <= 0 || d > time.Second {
			t.Errorf("calculateDelay(%d) = %v", attempt, d)
		}
	}
}
