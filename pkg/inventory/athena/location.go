package athena

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Location parsing errors.
var (
	// ErrInvalidLocation indicates the location could not be parsed.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrUnsupportedScheme indicates a scheme other than s3.
	ErrUnsupportedScheme = errors.New("unsupported scheme")

	// ErrMissingBucket indicates the location has no bucket name.
	ErrMissingBucket = errors.New("missing bucket name")
)

// Location is a parsed s3:// URI such as a query output location.
type Location struct {
	Bucket string

	// Prefix is the key prefix. Empty for the bucket root.
	Prefix string
}

// String returns the location in canonical form.
func (l Location) String() string {
	return fmt.Sprintf("s3://%s/%s", l.Bucket, l.Prefix)
}

// ParseLocation parses an s3:// URI.
//
// Supported formats:
//   - s3://bucket
//   - s3://bucket/
//   - s3://bucket/prefix/
func ParseLocation(uri string) (Location, error) {
	if uri == "" {
		return Location{}, fmt.Errorf("%w: empty URI", ErrInvalidLocation)
	}

	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return Location{}, fmt.Errorf("%w: missing scheme (expected s3://...)", ErrInvalidLocation)
	}
	if scheme := uri[:schemeEnd]; scheme != "s3" {
		return Location{}, fmt.Errorf("%w: %s (supported: s3)", ErrUnsupportedScheme, scheme)
	}

	remainder := uri[schemeEnd+3:]
	bucket, prefix, _ := strings.Cut(remainder, "/")
	if bucket == "" {
		return Location{}, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}

	// Basic validation: bucket names can't contain most special chars.
	if _, err := url.Parse("s3://" + bucket + "/"); err != nil {
		return Location{}, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidLocation, bucket)
	}

	return Location{Bucket: bucket, Prefix: prefix}, nil
}
