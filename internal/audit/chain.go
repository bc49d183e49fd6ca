package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/util"
)

// ErrNoChainHead indicates no event has been emitted for a channel yet.
var ErrNoChainHead = errors.New("no chain head found")

const chainHeadsFile = "audit-chain-heads.json"

// Head is the latest event of one channel's chain.
type Head struct {
	EventHash string    `json:"event_hash"`
	EventID   string    `json:"event_id"`
	Date      string    `json:"partition_date"`
	Length    int64     `json:"length"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChainTracker keeps one head per channel, persisted next to the event
// backups so chains continue across runs.
type ChainTracker struct {
	mu    sync.RWMutex
	heads map[string]Head
	path  string
}

// NewChainTracker opens the heads file in dir. A corrupt heads file is an
// error rather than an empty start.
func NewChainTracker(dir string) (*ChainTracker, error) {
	if dir == "" {
		dir = "./state/audit"
	}
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create chain tracker dir: %w", err)
	}

	ct := &ChainTracker{heads: map[string]Head{}, path: filepath.Join(dir, chainHeadsFile)}
	data, err := os.ReadFile(ct.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read chain heads: %w", err)
	default:
		if err := json.Unmarshal(data, &ct.heads); err != nil {
			return nil, fmt.Errorf("decode chain heads %s: %w", ct.path, err)
		}
	}
	return ct, nil
}

// GetHead returns the hash of the last event in a channel's chain.
func (ct *ChainTracker) GetHead(chainKey string) (string, error) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	h, ok := ct.heads[chainKey]
	if !ok || h.EventHash == "" {
		return "", ErrNoChainHead
	}
	return h.EventHash, nil
}

// Head returns the full head record of a chain.
func (ct *ChainTracker) Head(chainKey string) (Head, bool) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	h, ok := ct.heads[chainKey]
	return h, ok
}

// Advance moves a chain's head to evt and rewrites the heads file.
func (ct *ChainTracker) Advance(evt *Event) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	key := evt.Partition.ChainKey()
	prev := ct.heads[key]
	ct.heads[key] = Head{
		EventHash: evt.Chain.EventHash,
		EventID:   evt.EventID,
		Date:      evt.Partition.Date,
		Length:    prev.Length + 1,
		UpdatedAt: evt.Timestamp,
	}

	data, err := json.MarshalIndent(ct.heads, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(ct.path, data)
}
