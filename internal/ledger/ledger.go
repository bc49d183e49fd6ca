// Package ledger keeps the per-partition load status file.
//
// The file maps channel -> date -> Entry and is fully rewritten after every
// status change. It is read once at startup.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/source"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/tables"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/util"
)

// ErrNoLedger is returned when no status file exists yet.
var ErrNoLedger = errors.New("no ledger found")

var errInvalidLedger = errors.New("invalid ledger file")

// Timestamp accepts any ISO-8601 form on read, including the offset-less
// timestamps the scraper writes, and writes RFC 3339.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil || *s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := tables.ParseTimestamp(*s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// Entry is the status of the last processing of one partition.
type Entry struct {
	MessageCount int64     `json:"message_count"`
	Success      bool      `json:"success"`
	Timestamp    Timestamp `json:"timestamp"`
	Error        *string   `json:"error"`
}

// Status is the full ledger content.
type Status map[string]map[string]Entry

// Ledger records load status per partition. Implementations are safe for
// concurrent use.
type Ledger interface {
	Get(key source.PartitionKey) (Entry, bool)
	// Update overwrites the entry for key and persists the whole ledger.
	Update(ctx context.Context, key source.PartitionKey, e Entry) error
	Snapshot() Status
}

// Config configures the status ledger.
type Config struct {
	Enabled bool
	Path    string
}

// New opens the ledger described by cfg. A missing file starts empty; an
// unparsable one is logged and replaced on the next save.
func New(cfg Config) (Ledger, error) {
	if !cfg.Enabled {
		return &noopLedger{}, nil
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("ledger path is empty")
	}

	status, err := Load(cfg.Path)
	switch {
	case errors.Is(err, ErrNoLedger):
		status = Status{}
	case errors.Is(err, errInvalidLedger):
		log.Printf("[ledger] invalid status file %s, starting fresh: %v", cfg.Path, err)
		status = Status{}
	case err != nil:
		return nil, err
	}

	return &fileLedger{path: cfg.Path, status: status}, nil
}

// Load reads a status file.
func Load(path string) (Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoLedger
		}
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	status := Status{}
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidLedger, err)
	}
	return status, nil
}

type fileLedger struct {
	mu     sync.Mutex
	path   string
	status Status
}

func (l *fileLedger) Get(key source.PartitionKey) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.status[key.Channel][key.Date]
	return e, ok
}

// Update holds the lock across the write so concurrent updates of the same
// partition cannot interleave on disk.
func (l *fileLedger) Update(ctx context.Context, key source.PartitionKey, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = Timestamp{time.Now().UTC()}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status[key.Channel] == nil {
		l.status[key.Channel] = map[string]Entry{}
	}
	l.status[key.Channel][key.Date] = e

	data, err := json.MarshalIndent(l.status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	if err := util.WriteFileAtomic(l.path, data); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

func (l *fileLedger) Snapshot() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(Status, len(l.status))
	for ch, dates := range l.status {
		inner := make(map[string]Entry, len(dates))
		for d, e := range dates {
			inner[d] = e
		}
		out[ch] = inner
	}
	return out
}

// Keys lists every partition in the snapshot, sorted by channel then date.
func (s Status) Keys() []source.PartitionKey {
	var keys []source.PartitionKey
	for ch, dates := range s {
		for d := range dates {
			keys = append(keys, source.PartitionKey{Channel: ch, Date: d})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Channel != keys[j].Channel {
			return keys[i].Channel < keys[j].Channel
		}
		return keys[i].Date < keys[j].Date
	})
	return keys
}

// noopLedger is used when the status ledger is disabled.
type noopLedger struct{}

func (noopLedger) Get(source.PartitionKey) (Entry, bool)                    { return Entry{}, false }
func (noopLedger) Update(context.Context, source.PartitionKey, Entry) error { return nil }
func (noopLedger) Snapshot() Status                                         { return Status{} }
