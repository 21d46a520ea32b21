package s3client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/yuya-takeyama/trusted-dedup/internal/checksum"
)

// ErrUnsupportedAlgorithm is returned for digests S3 does not store
var ErrUnsupportedAlgorithm = errors.New("checksum algorithm not stored by S3")

// Object is one object of a trusted archive
type Object struct {
	Bucket  string
	Key     string
	RelPath string // key relative to the listed prefix
	Size    int64
	ModTime time.Time
}

// URI returns the s3:// form of the object
func (o Object) URI() string {
	return FormatS3URI(o.Bucket, o.Key)
}

// SupportsAlgorithm reports whether S3 can return a full-object checksum
// comparable with a local digest of alg
func SupportsAlgorithm(alg checksum.Algorithm) bool {
	return alg == checksum.SHA256 || alg == checksum.CRC64NVME
}

// ListObjects calls fn for every object under prefix in key order.
// Folder placeholder keys are skipped.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string, fn func(Object) error) error {
	return c.ListObjectsV2Pages(ctx, bucket, prefix, func(objects []types.Object) error {
		for _, obj := range objects {
			if obj.Key == nil || obj.Size == nil {
				continue
			}
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			if err := fn(Object{
				Bucket:  bucket,
				Key:     key,
				RelPath: strings.TrimPrefix(key, prefix),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Checksum fetches the stored checksum of an object. Objects without a
// full-object checksum of the requested algorithm yield an unknown result.
func (c *Client) Checksum(ctx context.Context, bucket, key string, alg checksum.Algorithm) checksum.Result {
	uri := FormatS3URI(bucket, key)
	if ctx.Err() != nil {
		return checksum.Result{Status: checksum.StatusCancelled, Path: uri}
	}
	if !SupportsAlgorithm(alg) {
		return checksum.Unknown(uri, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, alg))
	}

	out, err := c.HeadObject(ctx, bucket, key)
	if err != nil {
		if ctx.Err() != nil {
			return checksum.Result{Status: checksum.StatusCancelled, Path: uri}
		}
		return checksum.Unknown(uri, fmt.Errorf("head object: %w", err))
	}

	if out.ChecksumType == types.ChecksumTypeComposite {
		return checksum.Unknown(uri, errors.New("composite checksum of a multipart upload"))
	}

	var stored *string
	switch alg {
	case checksum.SHA256:
		stored = out.ChecksumSHA256
	case checksum.CRC64NVME:
		stored = out.ChecksumCRC64NVME
	}
	if stored == nil {
		return checksum.Unknown(uri, fmt.Errorf("object has no %s checksum", alg))
	}

	digest, err := checksum.Decode(*stored)
	if err != nil {
		return checksum.Unknown(uri, err)
	}
	return checksum.Result{Status: checksum.StatusOK, Digest: digest, Path: uri}
}
