package source

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	extJSON       = ".json"
	extJSONZstd   = ".json.zst"
	partitionDate = "2006-01-02"
)

// IsPartitionFile checks if a path has a recognized partition extension.
func IsPartitionFile(p string) bool {
	lower := strings.ToLower(p)
	return strings.HasSuffix(lower, extJSON) || strings.HasSuffix(lower, extJSONZstd)
}

// IsCompressed checks if a file is zstd compressed.
func IsCompressed(p string) bool {
	return strings.HasSuffix(strings.ToLower(p), ".zst")
}

// IsPartitionDate reports whether s is a YYYY-MM-DD date.
func IsPartitionDate(s string) bool {
	_, err := time.Parse(partitionDate, s)
	return err == nil
}

// ParsePartitionPath recovers the partition key from a slash-separated path
// of the form [.../]<date>/<channel>.json[.zst]. The date is taken from the
// immediate parent directory verbatim, even if it is not a calendar date.
func ParsePartitionPath(rel string) (PartitionKey, bool) {
	rel = strings.Trim(rel, "/")
	if !IsPartitionFile(rel) {
		return PartitionKey{}, false
	}

	base := path.Base(rel)
	lower := strings.ToLower(base)
	switch {
	case strings.HasSuffix(lower, extJSONZstd):
		base = base[:len(base)-len(extJSONZstd)]
	default:
		base = base[:len(base)-len(extJSON)]
	}
	if base == "" {
		return PartitionKey{}, false
	}

	key := PartitionKey{Channel: base}
	if dir := path.Dir(rel); dir != "." {
		key.Date = path.Base(dir)
	}
	return key, true
}

// PartitionIndex collects discovered files and orders them deterministically.
type PartitionIndex struct {
	files []PartitionFile
	since string
	until string
}

// NewPartitionIndex creates an empty index restricted to [since, until].
func NewPartitionIndex(since, until string) *PartitionIndex {
	return &PartitionIndex{since: since, until: until}
}

// AddFile adds a file to the index if its name and date qualify.
func (idx *PartitionIndex) AddFile(location, rel string, size int64) bool {
	key, ok := ParsePartitionPath(rel)
	if !ok {
		return false
	}
	if !idx.inWindow(key.Date) {
		return false
	}
	idx.files = append(idx.files, PartitionFile{
		Path:       location,
		RelPath:    rel,
		Key:        key,
		Compressed: IsCompressed(rel),
		Size:       size,
	})
	return true
}

// inWindow applies the date window. Non-date directories only pass when no
// window is configured.
func (idx *PartitionIndex) inWindow(date string) bool {
	if idx.since == "" && idx.until == "" {
		return true
	}
	if !IsPartitionDate(date) {
		return false
	}
	if idx.since != "" && date < idx.since {
		return false
	}
	if idx.until != "" && date > idx.until {
		return false
	}
	return true
}

// Sort orders files lexicographically by relative path.
func (idx *PartitionIndex) Sort() {
	sort.Slice(idx.files, func(i, j int) bool {
		return idx.files[i].RelPath < idx.files[j].RelPath
	})
}

// Files returns the sorted file list.
func (idx *PartitionIndex) Files() []PartitionFile {
	idx.Sort()
	out := make([]PartitionFile, len(idx.files))
	copy(out, idx.files)
	return out
}

// Count returns the total number of indexed files.
func (idx *PartitionIndex) Count() int {
	return len(idx.files)
}

// Dates returns the distinct partition dates in ascending order.
func (idx *PartitionIndex) Dates() []string {
	seen := make(map[string]struct{})
	var dates []string
	for _, f := range idx.files {
		if _, ok := seen[f.Key.Date]; ok {
			continue
		}
		seen[f.Key.Date] = struct{}{}
		dates = append(dates, f.Key.Date)
	}
	sort.Strings(dates)
	return dates
}

func validateWindow(since, until string) error {
	for _, d := range []string{since, until} {
		if d != "" && !IsPartitionDate(d) {
			return fmt.Errorf("invalid partition date %q: want YYYY-MM-DD", d)
		}
	}
	if since != "" && until != "" && since > until {
		return fmt.Errorf("invalid date window: since %s is after until %s", since, until)
	}
	return nil
}
