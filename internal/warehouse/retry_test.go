package warehouse

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/tables"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// flakyWriter fails AppendMessages with err for the first failures calls.
type flakyWriter struct {
	Writer
	failures int
	err      error
	calls    int
}

func (f *flakyWriter) AppendMessages(_ context.Context, rows []tables.MessageRow) (int64, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, &WriteError{Op: "append", Table: tables.MessagesTable, Err: f.err}
	}
	return int64(len(rows)), nil
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestRetryingWriterRetriesTransient(t *testing.T) {
	inner := &flakyWriter{failures: 2, err: timeoutError{}}
	var retries int
	w := NewRetryingWriter(inner, fastRetry(4), func(string, error) { retries++ })

	n, err := w.AppendMessages(context.Background(), sampleRows(1, 2))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if n != 2 || inner.calls != 3 || retries != 2 {
		t.Errorf("n=%d calls=%d retries=%d, want 2/3/2", n, inner.calls, retries)
	}
}

func TestRetryingWriterGivesUp(t *testing.T) {
	inner := &flakyWriter{failures: 10, err: timeoutError{}}
	w := NewRetryingWriter(inner, fastRetry(3), nil)

	_, err := w.AppendMessages(context.Background(), sampleRows(1))
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestRetryingWriterDoesNotRetryPermanent(t *testing.T) {
	inner := &flakyWriter{failures: 10, err: &pgconn.PgError{Code: "23505", Message: "duplicate key"}}
	w := NewRetryingWriter(inner, fastRetry(5), nil)

	_, err := w.AppendMessages(context.Background(), sampleRows(1))
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{fmt.Errorf("wrap: %w", context.DeadlineExceeded), false},
		{timeoutError{}, true},
		{&pgconn.PgError{Code: "08006"}, true},
		{&pgconn.PgError{Code: "40P01"}, true},
		{&pgconn.PgError{Code: "53300"}, true},
		{&pgconn.PgError{Code: "23505"}, false},
		{&pgconn.PgError{Code: "22P02"}, false},
		{errors.New("syntax"), false},
	}
	for _, c := range cases {
		if got := IsTransient(c.err); got != c.want {
			t.Errorf("IsTransient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
