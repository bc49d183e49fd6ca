package warehouse

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/tables"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

const postgresDedupSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS uq_raw_messages_channel_message
    ON raw.raw_telegram_messages (channel_username, message_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_raw_channel_info_partition
    ON raw.raw_channel_info (channel_username, partition_date);
`

var messageColumns = []string{
	"message_id", "channel_title", "channel_username", "message_text",
	"message_date", "media_path", "views", "forwards", "replies",
	"edit_date", "has_media", "media_type", "partition_date",
	"source_file", "raw_data", "loaded_at",
}

var detectionColumns = []string{
	"message_id", "image_path", "detected_object_class", "confidence_score", "loaded_at",
}

const insertMessageSQL = `
	INSERT INTO raw.raw_telegram_messages (
		message_id, channel_title, channel_username, message_text,
		message_date, media_path, views, forwards, replies,
		edit_date, has_media, media_type, partition_date,
		source_file, raw_data, loaded_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (channel_username, message_id) DO NOTHING
`

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool  *pgxpool.Pool
	dedup DedupMode
}

// NewPostgresWriter connects to the warehouse. Schema setup is left to EnsureSchema.
func NewPostgresWriter(ctx context.Context, cfg Config) (*PostgresWriter, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Println("[warehouse] connected to PostgreSQL")
	return &PostgresWriter{pool: pool, dedup: cfg.Dedup}, nil
}

// Pool exposes the connection pool for read-side consumers.
func (w *PostgresWriter) Pool() *pgxpool.Pool {
	return w.pool
}

// EnsureSchema creates the raw schema and tables if they don't exist.
func (w *PostgresWriter) EnsureSchema(ctx context.Context) error {
	if _, err := w.pool.Exec(ctx, postgresSchemaSQL); err != nil {
		return writeErr("ensure schema", tables.RawSchema, err)
	}
	if w.dedup == DedupMessage {
		if _, err := w.pool.Exec(ctx, postgresDedupSQL); err != nil {
			return writeErr("ensure dedup index", tables.MessagesTable, err)
		}
	}
	return nil
}

// AppendMessages writes rows with COPY, or with conflict-skipping inserts in
// dedup mode, inside a single transaction.
func (w *PostgresWriter) AppendMessages(ctx context.Context, rows []tables.MessageRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stampLoadedAt(rows, time.Now().UTC())

	var written int64
	err := pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		var err error
		if w.dedup == DedupMessage {
			written, err = insertMessagesSkippingConflicts(ctx, tx, rows)
			return err
		}
		written, err = tx.CopyFrom(ctx,
			pgx.Identifier{tables.RawSchema, tables.MessagesTable},
			messageColumns,
			pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
				return messageValues(rows[i]), nil
			}),
		)
		return err
	})
	if err != nil {
		return 0, writeErr("append", tables.MessagesTable, err)
	}
	return written, nil
}

func insertMessagesSkippingConflicts(ctx context.Context, tx pgx.Tx, rows []tables.MessageRow) (int64, error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertMessageSQL, messageValues(r)...)
	}

	results := tx.SendBatch(ctx, batch)
	var written int64
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, err
		}
		written += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return 0, err
	}
	return written, nil
}

func messageValues(r tables.MessageRow) []any {
	return []any{
		r.MessageID, r.ChannelTitle, r.ChannelUsername, r.MessageText,
		r.MessageDate, r.MediaPath, r.Views, r.Forwards, r.Replies,
		r.EditDate, r.HasMedia, r.MediaType, r.PartitionDate,
		r.SourceFile, json.RawMessage(r.RawData), r.LoadedAt,
	}
}

// AppendChannel inserts one channel-metadata row.
func (w *PostgresWriter) AppendChannel(ctx context.Context, row tables.ChannelRow) error {
	if row.LoadedAt.IsZero() {
		row.LoadedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO raw.raw_channel_info (
			channel_username, channel_title, scraped_at, message_count,
			partition_date, source_file, raw_data, loaded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if w.dedup == DedupMessage {
		query += ` ON CONFLICT (channel_username, partition_date) DO NOTHING`
	}

	var raw any
	if row.RawData != nil {
		raw = json.RawMessage(*row.RawData)
	}

	err := pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			row.ChannelUsername,
			row.ChannelTitle,
			row.ScrapedAt,
			row.MessageCount,
			row.PartitionDate,
			row.SourceFile,
			raw,
			row.LoadedAt,
		)
		return err
	})
	return writeErr("append", tables.ChannelsTable, err)
}

// AppendDetections copies detection rows in one transaction.
func (w *PostgresWriter) AppendDetections(ctx context.Context, rows []tables.DetectionRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()

	var written int64
	err := pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		var err error
		written, err = tx.CopyFrom(ctx,
			pgx.Identifier{tables.RawSchema, tables.DetectionsTable},
			detectionColumns,
			pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
				r := rows[i]
				loadedAt := r.LoadedAt
				if loadedAt.IsZero() {
					loadedAt = now
				}
				return []any{r.MessageID, r.ImagePath, r.DetectedObjectClass, r.ConfidenceScore, loadedAt}, nil
			}),
		)
		return err
	})
	if err != nil {
		return 0, writeErr("append", tables.DetectionsTable, err)
	}
	return written, nil
}

// RecordLoad writes a lineage record for a committed partition file.
func (w *PostgresWriter) RecordLoad(ctx context.Context, rec LoadRecord) error {
	if rec.LoadedAt.IsZero() {
		rec.LoadedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO raw.load_lineage (
			run_id, source_file, partition_date, channel_username,
			checksum, message_rows, channel_recorded, loaded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := w.pool.Exec(ctx, query,
		rec.RunID,
		rec.SourceFile,
		rec.PartitionDate,
		rec.ChannelUsername,
		rec.Checksum,
		rec.MessageRows,
		rec.ChannelRecorded,
		rec.LoadedAt,
	)
	return writeErr("record load", "load_lineage", err)
}

// LoadExists checks if a file with this checksum has already been committed.
func (w *PostgresWriter) LoadExists(ctx context.Context, sourceFile, checksum string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM raw.load_lineage
			WHERE source_file = $1 AND checksum = $2
		)
	`
	var exists bool
	if err := w.pool.QueryRow(ctx, query, sourceFile, checksum).Scan(&exists); err != nil {
		return false, fmt.Errorf("check load exists: %w", err)
	}
	return exists, nil
}

// Close releases the connection pool.
func (w *PostgresWriter) Close() error {
	w.pool.Close()
	return nil
}
