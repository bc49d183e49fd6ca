package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config configures audit emission.
type Config struct {
	Enabled     bool
	Endpoint    string // optional HTTP collector
	BackupDir   string
	Timeout     time.Duration
	MaxAttempts int
}

// Emitter records committed loads.
type Emitter interface {
	Emit(ctx context.Context, evt *Event) error
	Close() error
}

// NewEmitter creates an emitter based on configuration.
func NewEmitter(cfg Config) (Emitter, error) {
	if !cfg.Enabled {
		return noopEmitter{}, nil
	}

	tracker, err := NewChainTracker(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create chain tracker: %w", err)
	}
	backup, err := NewFileBackup(cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("create file backup: %w", err)
	}

	e := &ChainEmitter{
		cfg:     cfg,
		tracker: tracker,
		backup:  backup,
	}
	if cfg.Endpoint != "" {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		e.client = &http.Client{Timeout: timeout}
		log.Printf("[audit] using HTTP emitter -> %s", cfg.Endpoint)
	} else {
		log.Printf("[audit] using file-only emitter -> %s", cfg.BackupDir)
	}
	return e, nil
}

// ChainEmitter links events per channel, backs each one up to a file and
// optionally POSTs it to a collector. Emit calls are serialized so chain heads
// advance in emission order.
type ChainEmitter struct {
	mu      sync.Mutex
	cfg     Config
	client  *http.Client
	tracker *ChainTracker
	backup  *FileBackup
}

// Emit seals evt into its chain and delivers it.
func (e *ChainEmitter) Emit(ctx context.Context, evt *Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	chainKey := evt.Partition.ChainKey()
	prevHash, err := e.tracker.GetHead(chainKey)
	if err != nil && !errors.Is(err, ErrNoChainHead) {
		return fmt.Errorf("get chain head: %w", err)
	}

	evt.Version = EventVersion
	evt.EventType = EventType
	evt.EventID = NewEventID()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.SetChainHashes(prevHash)

	// Backup first; the HTTP collector is best-effort on top of it.
	if _, err := e.backup.Save(evt); err != nil {
		return fmt.Errorf("backup event: %w", err)
	}

	if e.client != nil {
		if err := e.postWithRetry(ctx, evt); err != nil {
			return fmt.Errorf("audit emit failed: %w", err)
		}
	}

	if err := e.tracker.Advance(evt); err != nil {
		log.Printf("[audit] warning: failed to update chain head: %v", err)
	}
	return nil
}

func (e *ChainEmitter) postWithRetry(ctx context.Context, evt *Event) error {
	attempts := e.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		return e.post(ctx, evt)
	}, policy, func(err error, wait time.Duration) {
		log.Printf("[audit] POST failed: %v, retrying in %v", err, wait)
	})
}

type statusError struct {
	code int
	body string
}

func (s *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", s.code, s.body)
}

func (e *ChainEmitter) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal event: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	serr := &statusError{code: resp.StatusCode, body: string(respBody)}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(serr)
	}
	return serr
}

// Close releases resources.
func (e *ChainEmitter) Close() error {
	if e.client != nil {
		e.client.CloseIdleConnections()
	}
	return nil
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *Event) error { return nil }
func (noopEmitter) Close() error                       { return nil }
