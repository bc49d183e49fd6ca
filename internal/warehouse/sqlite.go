package warehouse

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/tables"

	_ "modernc.org/sqlite" // SQLite driver registration
)

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

var sqliteDedupStatements = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_raw_messages_channel_message
		ON raw_telegram_messages (channel_username, message_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_raw_channel_info_partition
		ON raw_channel_info (channel_username, partition_date)`,
}

const sqliteBusyTimeout = 5000

// SQLiteWriter implements Writer on an embedded SQLite database. It is meant
// for local runs and tests; the query API targets Postgres.
type SQLiteWriter struct {
	db    *sql.DB
	dedup DedupMode
}

// NewSQLiteWriter opens (or creates) the database file named by cfg.DSN.
func NewSQLiteWriter(ctx context.Context, cfg Config) (*SQLiteWriter, error) {
	path := strings.TrimPrefix(cfg.DSN, "sqlite://")
	if path == "" {
		return nil, fmt.Errorf("sqlite: empty database path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	// One connection so PRAGMAs apply to every statement; SQLite serialises
	// writers anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", sqliteBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	log.Printf("[warehouse] opened SQLite database %s", path)
	return &SQLiteWriter{db: db, dedup: cfg.Dedup}, nil
}

// DB exposes the underlying handle for read-side consumers and tests.
func (w *SQLiteWriter) DB() *sql.DB {
	return w.db
}

// splitStatements drops "--" comment lines and splits the rest on ";".
func splitStatements(script string) []string {
	var lines []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}

	var out []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EnsureSchema creates the tables and indexes if they don't exist.
func (w *SQLiteWriter) EnsureSchema(ctx context.Context) error {
	stmts := splitStatements(sqliteSchemaSQL)
	if w.dedup == DedupMessage {
		stmts = append(stmts, sqliteDedupStatements...)
	}
	for _, stmt := range stmts {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return writeErr("ensure schema", "sqlite", err)
		}
	}
	return nil
}

func sqliteTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// withTx runs fn in a transaction, rolling back on any error.
func (w *SQLiteWriter) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// AppendMessages inserts rows in a single transaction.
func (w *SQLiteWriter) AppendMessages(ctx context.Context, rows []tables.MessageRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	stampLoadedAt(rows, now)

	verb := "INSERT"
	if w.dedup == DedupMessage {
		verb = "INSERT OR IGNORE"
	}
	query := verb + ` INTO raw_telegram_messages (` + strings.Join(messageColumns, ", ") + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var written int64
	err := w.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			res, err := stmt.ExecContext(ctx,
				r.MessageID, r.ChannelTitle, r.ChannelUsername, r.MessageText,
				sqliteTime(r.MessageDate), r.MediaPath, r.Views, r.Forwards, r.Replies,
				sqliteTime(r.EditDate), r.HasMedia, r.MediaType, r.PartitionDate,
				r.SourceFile, r.RawData, sqliteTime(&r.LoadedAt),
			)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			written += n
		}
		return nil
	})
	if err != nil {
		return 0, writeErr("append", tables.MessagesTable, err)
	}
	return written, nil
}

// AppendChannel inserts one channel-metadata row.
func (w *SQLiteWriter) AppendChannel(ctx context.Context, row tables.ChannelRow) error {
	if row.LoadedAt.IsZero() {
		row.LoadedAt = time.Now().UTC()
	}
	verb := "INSERT"
	if w.dedup == DedupMessage {
		verb = "INSERT OR IGNORE"
	}
	query := verb + ` INTO raw_channel_info (
			channel_username, channel_title, scraped_at, message_count,
			partition_date, source_file, raw_data, loaded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	err := w.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			row.ChannelUsername, row.ChannelTitle, sqliteTime(row.ScrapedAt), row.MessageCount,
			row.PartitionDate, row.SourceFile, row.RawData, sqliteTime(&row.LoadedAt),
		)
		return err
	})
	return writeErr("append", tables.ChannelsTable, err)
}

// AppendDetections inserts detection rows in a single transaction.
func (w *SQLiteWriter) AppendDetections(ctx context.Context, rows []tables.DetectionRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()

	var written int64
	err := w.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO image_detections (`+
			strings.Join(detectionColumns, ", ")+`) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			loadedAt := r.LoadedAt
			if loadedAt.IsZero() {
				loadedAt = now
			}
			if _, err := stmt.ExecContext(ctx, r.MessageID, r.ImagePath, r.DetectedObjectClass, r.ConfidenceScore, sqliteTime(&loadedAt)); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, writeErr("append", tables.DetectionsTable, err)
	}
	return written, nil
}

// RecordLoad writes a lineage record for a committed partition file.
func (w *SQLiteWriter) RecordLoad(ctx context.Context, rec LoadRecord) error {
	if rec.LoadedAt.IsZero() {
		rec.LoadedAt = time.Now().UTC()
	}
	_, err := w.db.ExecContext(ctx, `
		INSERT INTO load_lineage (
			run_id, source_file, partition_date, channel_username,
			checksum, message_rows, channel_recorded, loaded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.SourceFile, rec.PartitionDate, rec.ChannelUsername,
		rec.Checksum, rec.MessageRows, rec.ChannelRecorded, sqliteTime(&rec.LoadedAt),
	)
	return writeErr("record load", "load_lineage", err)
}

// LoadExists checks if a file with this checksum has already been committed.
func (w *SQLiteWriter) LoadExists(ctx context.Context, sourceFile, checksum string) (bool, error) {
	var exists bool
	err := w.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM load_lineage WHERE source_file = ? AND checksum = ?)`,
		sourceFile, checksum,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check load exists: %w", err)
	}
	return exists, nil
}

// Close closes the database.
func (w *SQLiteWriter) Close() error {
	return w.db.Close()
}
