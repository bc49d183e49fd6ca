// Package query serves read-only reports over the transformed warehouse marts.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
	// SearchLimit bounds keyword search results.
	SearchLimit = 50
)

// ErrEmptyQuery is returned by SearchMessages for a blank keyword.
var ErrEmptyQuery = errors.New("query is required")

// TopProduct is a detected object class and how often it appears.
type TopProduct struct {
	ProductName  string `json:"product_name"`
	MentionCount int64  `json:"mention_count"`
}

// ChannelActivity is the number of messages a channel posted on one day.
type ChannelActivity struct {
	ChannelName  string `json:"channel_name"`
	Date         string `json:"date"`
	MessageCount int64  `json:"message_count"`
}

// MessageSearchResult is one message matching a keyword search.
type MessageSearchResult struct {
	MessageID        int64  `json:"message_id"`
	ChannelName      string `json:"channel_name"`
	MessageText      string `json:"message_text"`
	MessageTimestamp string `json:"message_timestamp"`
}

// Store answers the report queries.
type Store interface {
	TopProducts(ctx context.Context, limit int) ([]TopProduct, error)
	ChannelActivity(ctx context.Context, channel string) ([]ChannelActivity, error)
	SearchMessages(ctx context.Context, keyword string) ([]MessageSearchResult, error)
	Ping(ctx context.Context) error
}

// ClampLimit applies the default and upper bound to a requested limit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// PostgresStore reads the dbt mart tables fct_messages and
// fct_image_detections.
type PostgresStore struct {
	pool     *pgxpool.Pool
	messages string
	detects  string
}

// NewPostgresStore uses pool for queries against tables in schema.
func NewPostgresStore(pool *pgxpool.Pool, schema string) *PostgresStore {
	if schema == "" {
		schema = "dbt_dev"
	}
	return &PostgresStore{
		pool:     pool,
		messages: pgx.Identifier{schema, "fct_messages"}.Sanitize(),
		detects:  pgx.Identifier{schema, "fct_image_detections"}.Sanitize(),
	}
}

// Connect opens a dedicated pool for the query API.
func Connect(ctx context.Context, dsn, schema string) (*PostgresStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPostgresStore(pool, schema), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) TopProducts(ctx context.Context, limit int) ([]TopProduct, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT detected_object_class, COUNT(*) AS mention_count
		FROM `+s.detects+`
		GROUP BY detected_object_class
		ORDER BY mention_count DESC, detected_object_class
		LIMIT $1`, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query top products: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TopProduct, error) {
		var p TopProduct
		err := row.Scan(&p.ProductName, &p.MentionCount)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan top products: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ChannelActivity(ctx context.Context, channel string) ([]ChannelActivity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT channel_name, DATE(message_timestamp) AS day, COUNT(*)
		FROM `+s.messages+`
		WHERE channel_name = $1
		GROUP BY channel_name, DATE(message_timestamp)
		ORDER BY day`, channel)
	if err != nil {
		return nil, fmt.Errorf("query channel activity: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ChannelActivity, error) {
		var (
			a   ChannelActivity
			day *time.Time
		)
		if err := row.Scan(&a.ChannelName, &day, &a.MessageCount); err != nil {
			return a, err
		}
		if day != nil {
			a.Date = day.Format(time.DateOnly)
		}
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan channel activity: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SearchMessages(ctx context.Context, keyword string) ([]MessageSearchResult, error) {
	if keyword == "" {
		return nil, ErrEmptyQuery
	}
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, channel_name, COALESCE(message_text, ''), message_timestamp
		FROM `+s.messages+`
		WHERE message_text ILIKE $1
		ORDER BY message_timestamp DESC NULLS LAST
		LIMIT $2`, "%"+keyword+"%", SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MessageSearchResult, error) {
		var (
			m  MessageSearchResult
			ts *time.Time
		)
		if err := row.Scan(&m.MessageID, &m.ChannelName, &m.MessageText, &ts); err != nil {
			return m, err
		}
		if ts != nil {
			m.MessageTimestamp = ts.UTC().Format(time.RFC3339)
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan search results: %w", err)
	}
	return out, nil
}
