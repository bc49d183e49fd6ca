package loader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/source"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/tables"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/warehouse"
)

var errUnavailable = errors.New("warehouse unavailable")

// memWriter implements warehouse.Writer in memory.
type memWriter struct {
	mu sync.Mutex

	schemaErr       error
	failMessages    func(rows []tables.MessageRow) error
	failChannel     error
	schemaCalls     int
	messages        []tables.MessageRow
	channels        []tables.ChannelRow
	detections      []tables.DetectionRow
	loads           []warehouse.LoadRecord
	appendCalls     int
	nonEmptyAppends int
}

func (m *memWriter) EnsureSchema(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemaCalls++
	return m.schemaErr
}

func (m *memWriter) AppendMessages(ctx context.Context, rows []tables.MessageRow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCalls++
	if len(rows) == 0 {
		return 0, nil
	}
	if m.failMessages != nil {
		if err := m.failMessages(rows); err != nil {
			return 0, &warehouse.WriteError{Op: "append", Table: tables.MessagesTable, Err: err}
		}
	}
	m.nonEmptyAppends++
	m.messages = append(m.messages, rows...)
	return int64(len(rows)), nil
}

func (m *memWriter) AppendChannel(ctx context.Context, row tables.ChannelRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failChannel != nil {
		return &warehouse.WriteError{Op: "append", Table: tables.ChannelsTable, Err: m.failChannel}
	}
	m.channels = append(m.channels, row)
	return nil
}

func (m *memWriter) AppendDetections(ctx context.Context, rows []tables.DetectionRow) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = append(m.detections, rows...)
	return int64(len(rows)), nil
}

func (m *memWriter) RecordLoad(ctx context.Context, rec warehouse.LoadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads = append(m.loads, rec)
	return nil
}

func (m *memWriter) LoadExists(ctx context.Context, sourceFile, checksum string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loads {
		if l.SourceFile == sourceFile && l.Checksum == checksum {
			return true, nil
		}
	}
	return false, nil
}

func (m *memWriter) Close() error { return nil }

func (m *memWriter) messagesFrom(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.messages {
		if strings.Contains(r.SourceFile, channel) {
			n++
		}
	}
	return n
}

// writeLake creates files under a fresh root. Keys are "date/channel.json".
func writeLake(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newScanner(t *testing.T, root string) source.Scanner {
	t.Helper()
	s, err := source.NewLocalScanner(source.Config{Root: root})
	if err != nil {
		t.Fatalf("NewLocalScanner: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

const chemedFile = `{
  "channel_info": {"title": "CheMed", "username": "@CheMed123", "scraped_at": "2024-06-01T10:00:00", "message_count": 2},
  "messages": [
    {"id": 101, "message": "Amoxicillin restocked", "date": "2024-06-01T08:15:00+00:00", "views": 120, "has_media": false},
    {"id": 102, "message": "Call for prices", "date": "", "views": 40, "has_media": true, "media_path": "photos/@CheMed123_102.jpg"}
  ]
}`

func channelFile(title, username string, ids ...int) string {
	var msgs []string
	for _, id := range ids {
		msgs = append(msgs, `{"id": `+strconv.Itoa(id)+`, "message": "m", "date": "2024-06-01T09:00:00"}`)
	}
	return `{"channel_info": {"title": "` + title + `", "username": "` + username + `", "message_count": ` +
		strconv.Itoa(len(ids)) + `}, "messages": [` + strings.Join(msgs, ",") + `]}`
}
