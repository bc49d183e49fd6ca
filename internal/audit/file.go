package audit

import (
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/util"
)

// FileBackup saves events to local files.
type FileBackup struct {
	dir string
}

// NewFileBackup creates a new file backup handler.
func NewFileBackup(dir string) (*FileBackup, error) {
	if dir == "" {
		dir = "./audit-backup"
	}
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &FileBackup{dir: dir}, nil
}

func safeName(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "@", "").Replace(s)
}

// Save writes evt to {date}_{channel}_{event_id}.json.
func (f *FileBackup) Save(evt *Event) (string, error) {
	filename := fmt.Sprintf("%s_%s_%s.json",
		safeName(evt.Partition.Date),
		safeName(evt.Partition.Channel),
		evt.EventID,
	)
	path := filepath.Join(f.dir, filename)

	data, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	if err := util.WriteFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	log.Printf("[audit] backed up to %s", path)
	return path, nil
}
