// Package archive publishes normalized message rows as Parquet files with a
// JSON manifest, partitioned by date and channel.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/source"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/tables"
)

// PartitionRef locates one archived partition.
type PartitionRef struct {
	Table   string
	Date    string
	Channel string
}

// RefFor builds the archive location for a partition key.
func RefFor(key source.PartitionKey) PartitionRef {
	return PartitionRef{
		Table:   tables.MessagesTable,
		Date:    key.Date,
		Channel: strings.TrimPrefix(key.Channel, "@"),
	}
}

func (r PartitionRef) date() string {
	if r.Date == "" {
		return "undated"
	}
	return r.Date
}

// DirPath returns the directory path for this partition.
func (r PartitionRef) DirPath(prefix string) string {
	return fmt.Sprintf("%s%s/date=%s/channel=%s", prefix, r.Table, r.date(), r.Channel)
}

// Path returns the storage path for this partition's parquet file.
func (r PartitionRef) Path(prefix string) string {
	return fmt.Sprintf("%s/part-%s-%s.parquet", r.DirPath(prefix), r.Channel, r.date())
}

// ManifestPath returns the storage path for this partition's manifest.
func (r PartitionRef) ManifestPath(prefix string) string {
	return r.DirPath(prefix) + "/_manifest.json"
}

// Manifest describes one archived partition.
type Manifest struct {
	Partition     PartitionInfo `json:"partition"`
	Table         string        `json:"table"`
	File          string        `json:"file"`
	Checksum      string        `json:"checksum"`
	RowCount      int64         `json:"row_count"`
	ByteSize      int64         `json:"byte_size"`
	SourceFile    string        `json:"source_file"`
	SchemaVersion string        `json:"schema_version"`
	Producer      ProducerInfo  `json:"producer"`
	CreatedAt     time.Time     `json:"created_at"`
}

// PartitionInfo identifies the partition in a manifest.
type PartitionInfo struct {
	Channel string `json:"channel"`
	Date    string `json:"date"`
}

// ProducerInfo describes the software that produced the archive.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

func (m *Manifest) encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Store writes archive objects with a temp-then-finalize protocol so readers
// never observe a half-written partition.
type Store interface {
	// WriteParquetTemp writes parquet bytes to a temporary location and
	// returns the temp key that can be passed to Finalize.
	WriteParquetTemp(ctx context.Context, ref PartitionRef, data []byte) (string, error)

	// WriteManifestTemp writes a manifest to a temporary location.
	WriteManifestTemp(ctx context.Context, ref PartitionRef, manifest *Manifest) (string, error)

	// Finalize moves [parquet, manifest] temp keys to their canonical location.
	// If either fails, both are rolled back.
	Finalize(ctx context.Context, ref PartitionRef, tempKeys []string) error

	// Abort removes temporary files without publishing.
	Abort(ctx context.Context, tempKeys []string) error

	// Exists reports whether the partition's parquet file is published.
	Exists(ctx context.Context, ref PartitionRef) (bool, error)

	// URI returns the canonical URI for a key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	Close() error
}

// Config configures the archive.
type Config struct {
	Enabled bool
	Backend string // "local" | "gcs" | "s3" | "mem"

	LocalDir string
	Bucket   string
	Endpoint string // custom endpoint for MinIO/R2/B2
	Region   string
	Prefix   string // "archive/"

	Compression    string // parquet codec
	AllowOverwrite bool
}

// NewStore creates a storage backend based on configuration.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "local", "":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for gcs backend")
		}
		return NewBlobStore(ctx, "gs://"+cfg.Bucket, cfg.Prefix)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("Bucket required for s3 backend")
		}
		url := source.BucketURL("s3://"+cfg.Bucket, cfg.Region, cfg.Endpoint)
		return NewBlobStore(ctx, url, cfg.Prefix)
	case "mem":
		return NewBlobStore(ctx, "mem://", cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Backend)
	}
}
