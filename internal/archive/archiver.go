package archive

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/source"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/tables"
)

// Result describes one archive attempt.
type Result struct {
	URI      string
	Checksum string
	ByteSize int64
	Rows     int64
	Skipped  bool // already published, or nothing to archive
}

// Archiver encodes rows to Parquet and publishes them with a manifest.
type Archiver struct {
	store    Store
	cfg      Config
	producer ProducerInfo
	log      *slog.Logger
}

// NewArchiver creates an archiver over store.
func NewArchiver(store Store, cfg Config, producer ProducerInfo) *Archiver {
	return &Archiver{
		store:    store,
		cfg:      cfg,
		producer: producer,
		log:      slog.Default().With("component", "archive"),
	}
}

// Archive publishes rows for key. An existing partition is left alone unless
// AllowOverwrite is set.
func (a *Archiver) Archive(ctx context.Context, key source.PartitionKey, sourceFile string, rows []tables.MessageRow) (*Result, error) {
	ref := RefFor(key)
	if len(rows) == 0 {
		return &Result{Skipped: true}, nil
	}

	if !a.cfg.AllowOverwrite {
		exists, err := a.store.Exists(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("check archive exists: %w", err)
		}
		if exists {
			a.log.Debug("archive partition exists, skipping", "partition", key.String())
			return &Result{URI: a.store.URI(ref.Path(a.cfg.Prefix)), Skipped: true}, nil
		}
	}

	pcfg := tables.DefaultParquetConfig()
	if a.cfg.Compression != "" {
		pcfg.Compression = a.cfg.Compression
	}
	data, checksum, err := tables.ToParquet(rows, pcfg)
	if err != nil {
		return nil, fmt.Errorf("encode parquet: %w", err)
	}

	manifest := &Manifest{
		Partition:     PartitionInfo{Channel: key.Channel, Date: key.Date},
		Table:         ref.Table,
		File:          path.Base(ref.Path("")),
		Checksum:      checksum,
		RowCount:      int64(len(rows)),
		ByteSize:      int64(len(data)),
		SourceFile:    sourceFile,
		SchemaVersion: tables.SchemaVersion,
		Producer:      a.producer,
		CreatedAt:     time.Now().UTC(),
	}

	parquetTemp, err := a.store.WriteParquetTemp(ctx, ref, data)
	if err != nil {
		return nil, fmt.Errorf("write parquet temp: %w", err)
	}
	manifestTemp, err := a.store.WriteManifestTemp(ctx, ref, manifest)
	if err != nil {
		a.store.Abort(ctx, []string{parquetTemp})
		return nil, fmt.Errorf("write manifest temp: %w", err)
	}
	if err := a.store.Finalize(ctx, ref, []string{parquetTemp, manifestTemp}); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}

	return &Result{
		URI:      a.store.URI(ref.Path(a.cfg.Prefix)),
		Checksum: checksum,
		ByteSize: int64(len(data)),
		Rows:     int64(len(rows)),
	}, nil
}

// Close releases the underlying store.
func (a *Archiver) Close() error {
	return a.store.Close()
}
