package warehouse

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/logging"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/tables"
)

// RetryConfig bounds retries of a single warehouse call.
type RetryConfig struct {
	MaxAttempts     int // total attempts including the first; <= 1 disables retry
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  time.Minute,
	}
}

// RetryingWriter retries transient failures of the wrapped writer with
// exponential backoff. Each attempt is a fresh transaction, so a retried
// append never half-commits.
type RetryingWriter struct {
	Writer
	cfg     RetryConfig
	onRetry func(op string, err error)
}

// NewRetryingWriter wraps w. onRetry may be nil.
func NewRetryingWriter(w Writer, cfg RetryConfig, onRetry func(op string, err error)) *RetryingWriter {
	return &RetryingWriter{Writer: w, cfg: cfg, onRetry: onRetry}
}

func (r *RetryingWriter) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		b.InitialInterval = r.cfg.InitialInterval
	}
	if r.cfg.MaxInterval > 0 {
		b.MaxInterval = r.cfg.MaxInterval
	}
	b.MaxElapsedTime = r.cfg.MaxElapsedTime

	attempts := r.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

func (r *RetryingWriter) do(ctx context.Context, op string, fn func() error) error {
	logger := logging.Component("warehouse")
	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, r.policy(ctx), func(err error, wait time.Duration) {
		logger.Warn("transient write failure, retrying", "op", op, "error", err, "backoff", wait)
		if r.onRetry != nil {
			r.onRetry(op, err)
		}
	})
}

func (r *RetryingWriter) EnsureSchema(ctx context.Context) error {
	return r.do(ctx, "ensure_schema", func() error {
		return r.Writer.EnsureSchema(ctx)
	})
}

func (r *RetryingWriter) AppendMessages(ctx context.Context, rows []tables.MessageRow) (int64, error) {
	var n int64
	err := r.do(ctx, "append_messages", func() error {
		var err error
		n, err = r.Writer.AppendMessages(ctx, rows)
		return err
	})
	return n, err
}

func (r *RetryingWriter) AppendChannel(ctx context.Context, row tables.ChannelRow) error {
	return r.do(ctx, "append_channel", func() error {
		return r.Writer.AppendChannel(ctx, row)
	})
}

func (r *RetryingWriter) AppendDetections(ctx context.Context, rows []tables.DetectionRow) (int64, error) {
	var n int64
	err := r.do(ctx, "append_detections", func() error {
		var err error
		n, err = r.Writer.AppendDetections(ctx, rows)
		return err
	})
	return n, err
}

func (r *RetryingWriter) RecordLoad(ctx context.Context, rec LoadRecord) error {
	return r.do(ctx, "record_load", func() error {
		return r.Writer.RecordLoad(ctx, rec)
	})
}

// IsTransient reports whether err is worth retrying: network and connection
// failures, Postgres resource or serialization conditions, and SQLite
// busy/locked errors. Constraint and data errors are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return isTransientSQLState(pgErr.Code)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		switch coded.Code() & 0xff {
		case 5, 6: // SQLITE_BUSY, SQLITE_LOCKED
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// isTransientSQLState matches connection exceptions (08), insufficient
// resources (53), operator intervention (57) and serialization/deadlock
// failures (40001, 40P01).
func isTransientSQLState(code string) bool {
	if len(code) < 2 {
		return false
	}
	switch code[:2] {
	case "08", "53", "57":
		return true
	}
	return code == "40001" || code == "40P01"
}
