package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
)

// LocalScanner reads partition files from the local filesystem.
type LocalScanner struct {
	basePath string
	since    string
	until    string
	decoder  *Decoder
}

// NewLocalScanner creates a new local filesystem scanner. The root is not
// checked until Scan so that an inaccessible root surfaces as a ScanError.
func NewLocalScanner(cfg Config) (*LocalScanner, error) {
	decoder, err := NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	return &LocalScanner{
		basePath: cfg.Root,
		since:    cfg.Since,
		until:    cfg.Until,
		decoder:  decoder,
	}, nil
}

func (s *LocalScanner) Root() string { return s.basePath }

// Scan walks the directory tree and indexes all partition files.
func (s *LocalScanner) Scan(ctx context.Context) ([]PartitionFile, error) {
	info, err := os.Stat(s.basePath)
	if err != nil {
		return nil, &ScanError{Root: s.basePath, Err: err}
	}
	if !info.IsDir() {
		return nil, &ScanError{Root: s.basePath, Err: errors.New("not a directory")}
	}

	index := NewPartitionIndex(s.since, s.until)
	err = filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == s.basePath {
				return err
			}
			// Unreadable subtrees are reported and skipped.
			log.Printf("[source:local] skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !IsPartitionFile(path) {
			return nil
		}

		rel, relErr := filepath.Rel(s.basePath, path)
		if relErr != nil {
			return relErr
		}
		var size int64
		if fi, infoErr := d.Info(); infoErr == nil {
			size = fi.Size()
		}
		index.AddFile(path, filepath.ToSlash(rel), size)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &ScanError{Root: s.basePath, Err: err}
	}

	log.Printf("[source:local] indexed %d partition files in %s", index.Count(), s.basePath)
	return index.Files(), nil
}

// Open reads and decodes a single partition file.
func (s *LocalScanner) Open(ctx context.Context, file PartitionFile) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file.Path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return s.decoder.Decode(data, file.Compressed)
}

// Close releases resources.
func (s *LocalScanner) Close() error {
	if s.decoder != nil {
		s.decoder.Close()
	}
	return nil
}
