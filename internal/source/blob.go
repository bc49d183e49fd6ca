package source

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// BlobScanner reads partition files from object storage.
// Works with GCS, AWS S3 and S3-compatible stores such as MinIO or R2.
type BlobScanner struct {
	bucket  *blob.Bucket
	root    string
	base    string // root without query, ending in a separator
	prefix  string
	since   string
	until   string
	decoder *Decoder
	owned   bool
}

// BucketURL adds S3 connection parameters to an s3:// root.
// For AWS: s3://bucket-name?region=us-east-1
// For custom endpoints: s3://bucket-name?endpoint=https://...&region=...&s3ForcePathStyle=true
func BucketURL(root, region, endpoint string) string {
	if !strings.HasPrefix(root, "s3://") {
		return root
	}
	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) == 0 {
		return root
	}
	sep := "?"
	if strings.Contains(root, "?") {
		sep = "&"
	}
	return root + sep + params.Encode()
}

// NewBlobScanner opens the bucket named by cfg.Root.
func NewBlobScanner(ctx context.Context, cfg Config) (*BlobScanner, error) {
	bucket, err := blob.OpenBucket(ctx, BucketURL(cfg.Root, cfg.Region, cfg.Endpoint))
	if err != nil {
		return nil, &ScanError{Root: cfg.Root, Err: fmt.Errorf("open bucket: %w", err)}
	}
	s, err := NewBlobScannerFromBucket(bucket, cfg)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewBlobScannerFromBucket wraps an already opened bucket. The caller keeps
// ownership of the bucket.
func NewBlobScannerFromBucket(bucket *blob.Bucket, cfg Config) (*BlobScanner, error) {
	decoder, err := NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	prefix := strings.TrimPrefix(cfg.Prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &BlobScanner{
		bucket:  bucket,
		root:    cfg.Root,
		base:    objectBase(cfg.Root),
		prefix:  prefix,
		since:   cfg.Since,
		until:   cfg.Until,
		decoder: decoder,
	}, nil
}

func (s *BlobScanner) Root() string { return s.root + "/" + s.prefix }

// objectBase strips connection parameters from a bucket URL so object URIs
// name the bucket and key only.
func objectBase(root string) string {
	if i := strings.Index(root, "?"); i >= 0 {
		root = root[:i]
	}
	if strings.HasSuffix(root, "://") {
		return root
	}
	return strings.TrimSuffix(root, "/") + "/"
}

// ObjectURI qualifies an object key with its bucket, e.g. s3://bucket/key.
func (s *BlobScanner) ObjectURI(key string) string { return s.base + key }

func (s *BlobScanner) objectKey(path string) string { return strings.TrimPrefix(path, s.base) }

// Scan lists all objects below the prefix and indexes them.
func (s *BlobScanner) Scan(ctx context.Context) ([]PartitionFile, error) {
	index := NewPartitionIndex(s.since, s.until)

	iter := s.bucket.List(&blob.ListOptions{Prefix: s.prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &ScanError{Root: s.Root(), Err: fmt.Errorf("list objects: %w", err)}
		}
		if obj.IsDir || !IsPartitionFile(obj.Key) {
			continue
		}
		index.AddFile(s.ObjectURI(obj.Key), strings.TrimPrefix(obj.Key, s.prefix), obj.Size)
	}

	log.Printf("[source:blob] indexed %d partition files with prefix %q", index.Count(), s.prefix)
	return index.Files(), nil
}

// Open reads and decodes a single object.
func (s *BlobScanner) Open(ctx context.Context, file PartitionFile) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, s.objectKey(file.Path))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", file.Path, err)
	}
	return s.decoder.Decode(data, file.Compressed)
}

// Close releases resources.
func (s *BlobScanner) Close() error {
	if s.decoder != nil {
		s.decoder.Close()
	}
	if s.owned && s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
