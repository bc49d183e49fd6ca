package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/util"
)

// LocalStore writes archive files under a local directory.
type LocalStore struct {
	baseDir string
	prefix  string
}

// NewLocalStore creates a new local filesystem store.
func NewLocalStore(baseDir, prefix string) (*LocalStore, error) {
	if err := util.EnsureDir(baseDir); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}
	return &LocalStore{baseDir: baseDir, prefix: prefix}, nil
}

func (s *LocalStore) writeTemp(final string, data []byte) (string, error) {
	if err := util.EnsureDir(filepath.Dir(final)); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", final, err)
	}
	tempPath := final + ".tmp." + uuid.NewString()
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return "", fmt.Errorf("write temp file %s: %w", tempPath, err)
	}
	return tempPath, nil
}

// WriteParquetTemp writes parquet bytes next to their final path.
func (s *LocalStore) WriteParquetTemp(ctx context.Context, ref PartitionRef, data []byte) (string, error) {
	return s.writeTemp(filepath.Join(s.baseDir, ref.Path(s.prefix)), data)
}

// WriteManifestTemp writes a manifest next to its final path.
func (s *LocalStore) WriteManifestTemp(ctx context.Context, ref PartitionRef, manifest *Manifest) (string, error) {
	data, err := manifest.encode()
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	return s.writeTemp(filepath.Join(s.baseDir, ref.ManifestPath(s.prefix)), data)
}

// Finalize renames temp files into place.
func (s *LocalStore) Finalize(ctx context.Context, ref PartitionRef, tempKeys []string) error {
	finalPaths := []string{
		filepath.Join(s.baseDir, ref.Path(s.prefix)),
		filepath.Join(s.baseDir, ref.ManifestPath(s.prefix)),
	}
	if len(tempKeys) != len(finalPaths) {
		return fmt.Errorf("expected %d temp keys, got %d", len(finalPaths), len(tempKeys))
	}

	for i, tempKey := range tempKeys {
		if err := os.Rename(tempKey, finalPaths[i]); err != nil {
			for j := 0; j < i; j++ {
				os.Remove(finalPaths[j])
			}
			s.Abort(ctx, tempKeys[i:])
			return fmt.Errorf("finalize %s -> %s: %w", tempKey, finalPaths[i], err)
		}
	}
	return nil
}

// Abort removes temporary files without publishing.
func (s *LocalStore) Abort(ctx context.Context, tempKeys []string) error {
	var lastErr error
	for _, key := range tempKeys {
		if err := os.Remove(key); err != nil && !os.IsNotExist(err) {
			lastErr = err
		}
	}
	return lastErr
}

// Exists checks if a partition already exists.
func (s *LocalStore) Exists(ctx context.Context, ref PartitionRef) (bool, error) {
	_, err := os.Stat(filepath.Join(s.baseDir, ref.Path(s.prefix)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	abs, err := filepath.Abs(filepath.Join(s.baseDir, key))
	if err != nil {
		abs = filepath.Join(s.baseDir, key)
	}
	return "file://" + abs
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}

var _ Store = (*LocalStore)(nil)
