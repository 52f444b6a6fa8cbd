// Package location models a file location as a closed tagged variant
// (local path, S3 object, internal blob) with a single read capability per
// variant. A location string is parsed once and the variant threaded
// through; downstream code never re-inspects the raw string.
package location

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"miqa/internal/blob"
)

// Kind tags the storage variant of a parsed location.
type Kind string

const (
	KindLocal Kind = "local"
	KindS3    Kind = "s3"
	KindBlob  Kind = "blob"
)

const (
	s3Scheme   = "s3://"
	blobScheme = "blob://"
)

// Location is a parsed file location. Exactly one variant's fields are set.
type Location struct {
	Kind   Kind
	Path   string // local
	Bucket string // s3
	Key    string // s3 or blob
}

// Parse classifies a location string into its variant. "s3://bucket/key"
// becomes S3, "blob://key" the internal blob store, everything else a local
// filesystem path.
func Parse(value string) (Location, error) {
	trimmed := strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(trimmed, s3Scheme):
		rest := strings.TrimPrefix(trimmed, s3Scheme)
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return Location{}, fmt.Errorf("malformed s3 uri %q", value)
		}
		return Location{Kind: KindS3, Bucket: bucket, Key: key}, nil
	case strings.HasPrefix(trimmed, blobScheme):
		key := strings.TrimPrefix(trimmed, blobScheme)
		if key == "" {
			return Location{}, fmt.Errorf("malformed blob uri %q", value)
		}
		return Location{Kind: KindBlob, Key: key}, nil
	case trimmed == "":
		return Location{}, fmt.Errorf("empty location")
	default:
		return Location{Kind: KindLocal, Path: trimmed}, nil
	}
}

// String renders the location back to its canonical string form.
func (l Location) String() string {
	switch l.Kind {
	case KindS3:
		return s3Scheme + l.Bucket + "/" + l.Key
	case KindBlob:
		return blobScheme + l.Key
	default:
		return l.Path
	}
}

// S3Fetcher reads one object from an arbitrary bucket.
type S3Fetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// Reader resolves any location variant to its byte content. The S3 and blob
// backends are optional; reading a variant without its backend configured is
// an error naming the missing capability.
type Reader struct {
	S3    S3Fetcher
	Blobs blob.Store
}

// ReadBytes returns the full content at the location.
func (r *Reader) ReadBytes(ctx context.Context, loc Location) ([]byte, error) {
	switch loc.Kind {
	case KindLocal:
		data, err := os.ReadFile(loc.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", loc.Path, err)
		}
		return data, nil
	case KindS3:
		if r.S3 == nil {
			return nil, fmt.Errorf("no s3 backend configured for %s", loc)
		}
		return r.S3.Fetch(ctx, loc.Bucket, loc.Key)
	case KindBlob:
		if r.Blobs == nil {
			return nil, fmt.Errorf("no blob backend configured for %s", loc)
		}
		_, rc, err := r.Blobs.Get(ctx, loc.Key)
		if err != nil {
			return nil, fmt.Errorf("read blob %s: %w", loc.Key, err)
		}
		defer func() { _ = rc.Close() }()
		return io.ReadAll(rc)
	default:
		return nil, fmt.Errorf("unknown location kind %q", loc.Kind)
	}
}
