// Package warehouse persists normalized rows into the relational warehouse.
package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/tables"
)

// DedupMode selects how re-loaded messages are treated.
type DedupMode string

const (
	// DedupNone appends every row. Re-running over the same files
	// duplicates messages.
	DedupNone DedupMode = "none"
	// DedupMessage keeps one row per (channel_username, message_id) and one
	// channel row per (channel_username, partition_date); conflicting rows
	// are skipped.
	DedupMessage DedupMode = "message"
)

// ParseDedupMode validates a dedup mode name. Empty means DedupNone.
func ParseDedupMode(s string) (DedupMode, error) {
	switch DedupMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DedupNone:
		return DedupNone, nil
	case DedupMessage:
		return DedupMessage, nil
	default:
		return "", fmt.Errorf("unknown dedup mode %q (want none or message)", s)
	}
}

// Config holds warehouse connection settings.
type Config struct {
	Driver   string // "postgres" | "sqlite"
	DSN      string
	Dedup    DedupMode
	MaxConns int32
}

// LoadRecord is the lineage entry stored for every committed partition file.
type LoadRecord struct {
	RunID           string
	SourceFile      string
	PartitionDate   string
	ChannelUsername string
	Checksum        string
	MessageRows     int64
	ChannelRecorded bool
	LoadedAt        time.Time
}

// Writer appends rows to the warehouse. Each append is its own transaction:
// it either fully lands or leaves no trace. Implementations are safe for
// concurrent use.
type Writer interface {
	// EnsureSchema creates schema, tables and indexes if absent. It never
	// drops or rewrites existing data and is safe to call on every run.
	EnsureSchema(ctx context.Context) error
	// AppendMessages inserts rows in one transaction and returns the number
	// of rows stored. An empty slice is a no-op.
	AppendMessages(ctx context.Context, rows []tables.MessageRow) (int64, error)
	// AppendChannel inserts one channel-metadata row in its own transaction.
	AppendChannel(ctx context.Context, row tables.ChannelRow) error
	// AppendDetections inserts detection rows in one transaction.
	AppendDetections(ctx context.Context, rows []tables.DetectionRow) (int64, error)
	// RecordLoad stores lineage for a committed partition file.
	RecordLoad(ctx context.Context, rec LoadRecord) error
	// LoadExists reports whether a file with this checksum was already loaded.
	LoadExists(ctx context.Context, sourceFile, checksum string) (bool, error)
	Close() error
}

// NewWriter opens a writer for cfg.Driver.
func NewWriter(ctx context.Context, cfg Config) (Writer, error) {
	if cfg.Dedup == "" {
		cfg.Dedup = DedupNone
	}
	switch strings.ToLower(cfg.Driver) {
	case "", "postgres", "postgresql", "pgx":
		return NewPostgresWriter(ctx, cfg)
	case "sqlite", "sqlite3":
		return NewSQLiteWriter(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown warehouse driver %q", cfg.Driver)
	}
}

// stampLoadedAt fills LoadedAt on rows that have none.
func stampLoadedAt(rows []tables.MessageRow, now time.Time) {
	for i := range rows {
		if rows[i].LoadedAt.IsZero() {
			rows[i].LoadedAt = now
		}
	}
}
