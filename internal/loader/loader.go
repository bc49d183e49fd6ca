// Package loader coordinates incremental loads of partitioned Telegram
// message files into the warehouse.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/archive"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/audit"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/ledger"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/logging"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/metrics"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/source"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/tables"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/warehouse"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

const producerName = "tg-warehouse"

// Archiver publishes the normalized rows of a committed file.
type Archiver interface {
	Archive(ctx context.Context, key source.PartitionKey, sourceFile string, rows []tables.MessageRow) (*archive.Result, error)
}

// Options tunes a load run.
type Options struct {
	Workers                     int
	MaxConsecutiveWriteFailures int // 0 disables the outage check
	RunTimeout                  time.Duration
	SkipLoaded                  bool
	SkipSucceeded               bool
}

// Loader runs load passes over a scanner into a writer.
type Loader struct {
	opts     Options
	scanner  source.Scanner
	writer   warehouse.Writer
	ledger   ledger.Ledger
	archiver Archiver
	audit    audit.Emitter
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// New creates a loader. A nil ledger disables status tracking.
func New(opts Options, scanner source.Scanner, writer warehouse.Writer, l ledger.Ledger) *Loader {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if l == nil {
		l, _ = ledger.New(ledger.Config{})
	}
	return &Loader{
		opts:    opts,
		scanner: scanner,
		writer:  writer,
		ledger:  l,
		log:     logging.Component("loader"),
	}
}

// WithArchiver enables the parquet archive for committed files.
func (l *Loader) WithArchiver(a Archiver) *Loader {
	l.archiver = a
	return l
}

// WithAudit enables audit events for committed files.
func (l *Loader) WithAudit(e audit.Emitter) *Loader {
	l.audit = e
	return l
}

// WithMetrics records run metrics.
func (l *Loader) WithMetrics(m *metrics.Metrics) *Loader {
	l.metrics = m
	return l
}

// Run performs one load pass. It returns an error only when the run as a
// whole could not proceed: schema setup or scan failure, a systemic write
// outage, or the run deadline. Per-file failures are reported in the summary.
func (l *Loader) Run(ctx context.Context) (*Summary, error) {
	runID := logging.NewRunID()
	ctx = logging.WithCorrelationID(ctx, runID)
	if l.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.RunTimeout)
		defer cancel()
	}

	sum := &Summary{RunID: runID, Started: time.Now().UTC()}
	defer func() {
		sum.Finished = time.Now().UTC()
		l.metrics.ObserveRun(sum.Duration().Seconds(), float64(sum.Finished.Unix()))
	}()

	log := l.log.With("correlation_id", runID)
	log.Info("starting load run",
		"root", l.scanner.Root(),
		"workers", l.opts.Workers,
		"version", Version,
	)

	if err := l.writer.EnsureSchema(ctx); err != nil {
		log.Error("schema setup failed, no files attempted", "error", err)
		return sum, fmt.Errorf("ensure schema: %w", err)
	}

	files, err := l.scanner.Scan(ctx)
	if err != nil {
		log.Error("scan failed", "error", err)
		return sum, err
	}
	sum.FilesFound = len(files)
	if len(files) == 0 {
		log.Warn("no partition files found")
		return sum, nil
	}

	var runErr error
	if l.opts.Workers > 1 {
		runErr = l.runParallel(ctx, files, sum)
	} else {
		runErr = l.runSequential(ctx, files, sum)
	}

	log.Info("load run complete",
		"files_found", sum.FilesFound,
		"succeeded", sum.FilesSucceeded,
		"failed", sum.FilesFailed,
		"skipped", sum.FilesSkipped,
		"not_attempted", sum.FilesNotAttempted,
		"rows_written", sum.RowsWritten,
		"rows_dropped", sum.RowsDropped,
		"channel_rows", sum.ChannelRows,
		"field_warnings", sum.FieldWarnings,
		"duration", sum.Duration().String(),
	)
	return sum, runErr
}

func (l *Loader) runSequential(ctx context.Context, files []source.PartitionFile, sum *Summary) error {
	tracker := newFailureTracker(l.opts.MaxConsecutiveWriteFailures)

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			sum.FilesNotAttempted += len(files) - i
			return fmt.Errorf("run interrupted: %w", err)
		}

		res := l.processFile(ctx, f)
		l.commit(ctx, res, sum)

		if err := tracker.observe(res); err != nil {
			sum.FilesNotAttempted += len(files) - i - 1
			l.log.Error("aborting run", "error", err)
			return err
		}
	}
	return nil
}

// commit records a finished file: audit event, status ledger, metrics and
// summary. Calls are made in path order.
func (l *Loader) commit(ctx context.Context, res FileResult, sum *Summary) {
	log := logging.PartitionLogger(ctx, res.Key.Channel, res.Key.Date, res.Path)

	if res.Kind == KindOK && l.audit != nil {
		if err := l.audit.Emit(context.WithoutCancel(ctx), l.auditEvent(ctx, res)); err != nil {
			l.metrics.IncAuditErrors()
			log.Warn("audit emit failed", "error", err)
		}
	}

	if res.Kind != KindSkipped {
		entry := ledger.Entry{
			MessageCount: int64(res.Records),
			Success:      res.Kind == KindOK,
			Timestamp:    ledger.Timestamp{Time: time.Now().UTC()},
		}
		if res.Err != nil {
			msg := res.Err.Error()
			entry.Error = &msg
		}
		if err := l.ledger.Update(context.WithoutCancel(ctx), res.Key, entry); err != nil {
			l.metrics.IncLedgerErrors()
			log.Warn("status ledger update failed", "error", err)
		}
	}

	l.record(res)
	sum.add(res)

	switch res.Kind {
	case KindOK:
		log.Info("file loaded",
			"rows", res.Rows,
			"dropped", len(res.Dropped),
			"field_warnings", len(res.Warnings),
			"duration", res.Duration.String(),
		)
	case KindSkipped:
		log.Info("file skipped", "reason", res.SkipReason)
	default:
		log.Error("file failed",
			"kind", res.Kind.String(),
			"rows", res.Rows,
			"channel_recorded", res.ChannelRecorded,
			"error", res.Err,
		)
	}
}

func (l *Loader) record(res FileResult) {
	if l.metrics == nil {
		return
	}
	channel := res.Key.Channel
	switch res.Kind {
	case KindOK:
		l.metrics.IncFilesProcessed(channel)
	case KindSkipped:
		l.metrics.IncFilesSkipped(channel)
	default:
		l.metrics.IncFilesFailed(channel, res.Kind.String())
	}
	l.metrics.AddRowsWritten(tables.MessagesTable, res.Rows)
	if res.ChannelRecorded {
		l.metrics.AddRowsWritten(tables.ChannelsTable, 1)
	}
	l.metrics.AddRowsDropped(channel, len(res.Dropped))
	for _, w := range res.Warnings {
		l.metrics.IncFieldWarning(w.Field)
	}
	l.metrics.ObserveFileLoadDuration(res.Kind.String(), res.Duration.Seconds())
}

func (l *Loader) auditEvent(ctx context.Context, res FileResult) *audit.Event {
	evt := &audit.Event{
		RunID:     logging.CorrelationID(ctx),
		Timestamp: time.Now().UTC(),
		Partition: audit.PartitionInfo{Channel: res.Key.Channel, Date: res.Key.Date},
		Source: audit.SourceInfo{
			Path:     res.Path,
			Checksum: res.Checksum,
			ByteSize: res.Bytes,
		},
		Rows: audit.RowInfo{
			Messages:        res.Rows,
			Dropped:         int64(len(res.Dropped)),
			ChannelRecorded: res.ChannelRecorded,
		},
		Producer: audit.ProducerInfo{Name: producerName, Version: Version, GitSHA: GitSHA},
	}
	if a := res.Archive; a != nil && !a.Skipped {
		evt.Archive = &audit.ArchiveInfo{URI: a.URI, Checksum: a.Checksum, ByteSize: a.ByteSize}
	}
	return evt
}

// failureTracker escalates consecutive write failures to a systemic outage.
type failureTracker struct {
	limit       int
	consecutive int
	last        error
}

func newFailureTracker(limit int) *failureTracker {
	return &failureTracker{limit: limit}
}

func (t *failureTracker) observe(res FileResult) error {
	switch res.Kind {
	case KindWrite:
		t.consecutive++
		t.last = res.Err
	case KindOK:
		t.consecutive = 0
	}
	if t.limit > 0 && t.consecutive >= t.limit {
		return fmt.Errorf("%w: %d consecutive write failures, last: %w", ErrSystemicOutage, t.consecutive, t.last)
	}
	return nil
}
