package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/source"
)

func TestLedgerUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraping_status.json")
	ctx := context.Background()

	l, err := New(Config{Enabled: true, Path: path})
	if err != nil {
		t.Fatal(err)
	}

	key := source.PartitionKey{Channel: "chemed", Date: "2024-06-01"}
	if err := l.Update(ctx, key, Entry{MessageCount: 2, Success: true}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	msg := "parse failed"
	if err := l.Update(ctx, key, Entry{MessageCount: 0, Success: false, Error: &msg}); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(Config{Enabled: true, Path: path})
	if err != nil {
		t.Fatal(err)
	}
	e, ok := reopened.Get(key)
	if !ok {
		t.Fatal("entry missing after reopen")
	}
	if e.Success || e.Error == nil || *e.Error != msg {
		t.Errorf("entry should be overwritten by the latest status: %+v", e)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestLedgerReadsOffsetlessTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraping_status.json")
	content := `{
  "@CheMed123": {
    "2024-01-15": {"message_count": 12, "success": true, "timestamp": "2024-01-15T18:02:11.532001", "error": null}
  }
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	l, err := New(Config{Enabled: true, Path: path})
	if err != nil {
		t.Fatal(err)
	}
	e, ok := l.Get(source.PartitionKey{Channel: "@CheMed123", Date: "2024-01-15"})
	if !ok || e.MessageCount != 12 || !e.Success || e.Error != nil {
		t.Errorf("unexpected entry: %+v (ok=%v)", e, ok)
	}
	if e.Timestamp.Year() != 2024 {
		t.Errorf("timestamp = %v", e.Timestamp)
	}
}

func TestLedgerCorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scraping_status.json")
	os.WriteFile(path, []byte(`{not json`), 0644)

	l, err := New(Config{Enabled: true, Path: path})
	if err != nil {
		t.Fatalf("corrupt ledger should not be fatal: %v", err)
	}
	if len(l.Snapshot()) != 0 {
		t.Error("expected empty ledger")
	}
}

func TestLedgerConcurrentUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	l, _ := New(Config{Enabled: true, Path: path})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := source.PartitionKey{Channel: "chemed", Date: "2024-06-01"}
			if i%2 == 0 {
				key.Channel = "lobelia"
			}
			if err := l.Update(ctx, key, Entry{MessageCount: int64(i), Success: true}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("ledger file is not valid JSON after concurrent writes: %v", err)
	}
	if keys := status.Keys(); len(keys) != 2 {
		t.Errorf("keys = %v, want 2 partitions", keys)
	}
}

func TestDisabledLedger(t *testing.T) {
	l, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Update(context.Background(), source.PartitionKey{Channel: "x"}, Entry{}); err != nil {
		t.Error(err)
	}
	if _, ok := l.Get(source.PartitionKey{Channel: "x"}); ok {
		t.Error("disabled ledger should not retain entries")
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "none.json")); err != ErrNoLedger {
		t.Errorf("expected ErrNoLedger, got %v", err)
	}
}
