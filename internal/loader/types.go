package loader

import (
	"errors"
	"time"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/archive"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/source"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/tables"
)

// ErrSystemicOutage aborts a run after too many consecutive write failures.
var ErrSystemicOutage = errors.New("systemic warehouse outage")

// Kind classifies the outcome of one partition file.
type Kind int

const (
	KindOK Kind = iota
	KindSkipped
	KindRead
	KindParse
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindSkipped:
		return "skipped"
	case KindRead:
		return "read"
	case KindParse:
		return "parse"
	case KindWrite:
		return "write"
	default:
		return "unknown"
	}
}

// FileResult is the tagged outcome of processing one partition file.
type FileResult struct {
	Key  source.PartitionKey
	Path string

	Kind Kind
	Err  error

	Rows            int64 // message rows stored
	ChannelRecorded bool
	MessagesErr     error // message batch failure, if any
	ChannelErr      error // channel row failure, if any

	Records    int // message records in the file
	Dropped    []tables.DroppedRecord
	Warnings   []tables.FieldWarning
	Validation *ValidationResult

	Checksum   string
	Bytes      int64
	Archive    *archive.Result
	SkipReason string
	Duration   time.Duration
}

// Failed reports whether the file counts as a failure in the summary.
func (r FileResult) Failed() bool {
	return r.Kind == KindRead || r.Kind == KindParse || r.Kind == KindWrite
}

// Summary reports a whole run. Every discovered file appears in Results or
// is counted in FilesNotAttempted.
type Summary struct {
	RunID    string
	Started  time.Time
	Finished time.Time

	FilesFound        int
	FilesSucceeded    int
	FilesFailed       int
	FilesSkipped      int
	FilesNotAttempted int

	RowsWritten   int64
	RowsDropped   int64
	ChannelRows   int64
	FieldWarnings int64

	Results []FileResult
}

func (s *Summary) add(r FileResult) {
	s.Results = append(s.Results, r)
	switch {
	case r.Kind == KindOK:
		s.FilesSucceeded++
	case r.Kind == KindSkipped:
		s.FilesSkipped++
	default:
		s.FilesFailed++
	}
	s.RowsWritten += r.Rows
	s.RowsDropped += int64(len(r.Dropped))
	s.FieldWarnings += int64(len(r.Warnings))
	if r.ChannelRecorded {
		s.ChannelRows++
	}
}

// Failures returns the failed file results.
func (s *Summary) Failures() []FileResult {
	var out []FileResult
	for _, r := range s.Results {
		if r.Failed() {
			out = append(out, r)
		}
	}
	return out
}

// Duration returns the wall time of the run.
func (s *Summary) Duration() time.Duration {
	if s.Finished.IsZero() {
		return time.Since(s.Started)
	}
	return s.Finished.Sub(s.Started)
}
