// Package source discovers date-partitioned message files and reads their contents.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrScan marks a failure to enumerate the partition root.
var ErrScan = errors.New("scan failed")

// ScanError reports that the root of a scan could not be read.
type ScanError struct {
	Root string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() []error {
	return []error{ErrScan, e.Err}
}

// PartitionKey identifies one (channel, date) bucket of scraped messages.
type PartitionKey struct {
	Channel string
	Date    string
}

func (k PartitionKey) String() string {
	if k.Date == "" {
		return k.Channel
	}
	return k.Date + "/" + k.Channel
}

// PartitionFile is one discovered partition file.
type PartitionFile struct {
	Path       string // filesystem path or bucket-qualified object URI, passed back to Open
	RelPath    string // slash-separated path relative to the scan root
	Key        PartitionKey
	Compressed bool
	Size       int64
}

// Scanner enumerates partition files below a root and reads them.
type Scanner interface {
	// Scan returns every partition file below the root, sorted by RelPath.
	// An empty result is not an error.
	Scan(ctx context.Context) ([]PartitionFile, error)
	// Open returns the decompressed content of a file returned by Scan.
	Open(ctx context.Context, file PartitionFile) ([]byte, error)
	Root() string
	Close() error
}

// Config selects and parameterizes a scanner.
type Config struct {
	// Root is a local directory or a bucket URL (gs://, s3://, file://, mem://).
	Root string
	// Prefix restricts a bucket listing to keys below it.
	Prefix   string
	Region   string
	Endpoint string
	// Since and Until bound partition dates (YYYY-MM-DD, inclusive). Empty means unbounded.
	Since string
	Until string
}

// IsBucketURL reports whether root names object storage rather than a local directory.
func IsBucketURL(root string) bool {
	return strings.Contains(root, "://")
}

// NewScanner builds a scanner for cfg.Root.
func NewScanner(ctx context.Context, cfg Config) (Scanner, error) {
	if cfg.Root == "" {
		return nil, &ScanError{Root: cfg.Root, Err: errors.New("root is empty")}
	}
	if err := validateWindow(cfg.Since, cfg.Until); err != nil {
		return nil, err
	}
	if IsBucketURL(cfg.Root) {
		return NewBlobScanner(ctx, cfg)
	}
	return NewLocalScanner(cfg)
}
