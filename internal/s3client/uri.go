package s3client

import (
	"fmt"
	"strings"
)

// IsS3URI reports whether s names an S3 location
func IsS3URI(s string) bool {
	return strings.HasPrefix(s, "s3://")
}

// ParseS3URI parses an S3 URI into bucket and prefix
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	if !IsS3URI(uri) {
		return "", "", fmt.Errorf("invalid S3 URI: must start with s3://")
	}

	path := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(path, "/", 2)

	if len(parts) == 0 || parts[0] == "" {
		return "", "", fmt.Errorf("invalid S3 URI: missing bucket name")
	}

	bucket = parts[0]
	if len(parts) > 1 {
		prefix = strings.TrimRight(parts[1], "/")
		// Ensure prefix ends with / if not empty
		if prefix != "" {
			prefix += "/"
		}
	}

	return bucket, prefix, nil
}

// FormatS3URI is the inverse of ParseS3URI for a single key
func FormatS3URI(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// SplitURI splits s3://bucket/key into bucket and key
func SplitURI(uri string) (bucket, key string, err error) {
	if !IsS3URI(uri) {
		return "", "", fmt.Errorf("invalid S3 URI: must start with s3://")
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "s3://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid S3 object URI: %s", uri)
	}
	return parts[0], parts[1], nil
}
