package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/logging"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/source"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/tables"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/warehouse"
)

// processFile runs one partition file through open, normalize and write.
// It never panics outward and never returns an error: every outcome is
// folded into the FileResult. A panic before the commit fails the file as a
// parse error.
func (l *Loader) processFile(ctx context.Context, f source.PartitionFile) (res FileResult) {
	start := time.Now()
	res = FileResult{Key: f.Key, Path: f.Path}
	log := logging.PartitionLogger(ctx, f.Key.Channel, f.Key.Date, f.RelPath)

	defer func() {
		if r := recover(); r != nil {
			res.Kind = KindParse
			res.Err = fmt.Errorf("panic while processing %s: %v", f.Path, r)
		}
		res.Duration = time.Since(start)
	}()

	if l.opts.SkipSucceeded {
		if entry, ok := l.ledger.Get(f.Key); ok && entry.Success {
			res.Kind = KindSkipped
			res.SkipReason = "ledger entry succeeded"
			return res
		}
	}

	data, err := l.scanner.Open(ctx, f)
	if err != nil {
		res.Kind = KindRead
		res.Err = fmt.Errorf("read %s: %w", f.Path, err)
		return res
	}
	res.Bytes = int64(len(data))
	res.Checksum = tables.ComputeChecksum(data)

	if l.opts.SkipLoaded {
		loaded, err := l.writer.LoadExists(ctx, f.Path, res.Checksum)
		switch {
		case err != nil:
			log.Warn("lineage lookup failed, loading anyway", "error", err)
		case loaded:
			res.Kind = KindSkipped
			res.SkipReason = "already loaded with same checksum"
			return res
		}
	}

	doc, err := tables.ParseDocument(data, f.Key)
	if err != nil {
		res.Kind = KindParse
		res.Err = err
		return res
	}
	doc.SourceFile = f.Path

	rows := doc.Collect()
	res.Records = doc.MessageCount()
	res.Dropped = doc.Dropped()
	res.Warnings = doc.Warnings()
	for _, w := range res.Warnings {
		log.Debug("field coerced to null", "warning", w.String())
	}

	v := ValidateDocument(doc, rows)
	res.Validation = &v
	for _, msg := range v.Warnings {
		log.Warn("validation warning", "detail", msg)
	}
	for _, msg := range v.Errors {
		log.Warn("validation error", "detail", msg)
	}

	// Message batch and channel row are separate failure domains.
	res.Rows, res.MessagesErr = l.writer.AppendMessages(ctx, rows)
	if res.MessagesErr != nil {
		res.Rows = 0
	}
	res.ChannelErr = l.writer.AppendChannel(ctx, doc.ChannelRow())
	res.ChannelRecorded = res.ChannelErr == nil

	if res.MessagesErr != nil || res.ChannelErr != nil {
		res.Kind = KindWrite
		res.Err = errors.Join(res.MessagesErr, res.ChannelErr)
		return res
	}
	res.Kind = KindOK

	// The rows are committed: from here on nothing can fail the file.
	l.afterCommit(log, "lineage", func() {
		err := l.writer.RecordLoad(ctx, warehouse.LoadRecord{
			RunID:           logging.CorrelationID(ctx),
			SourceFile:      f.Path,
			PartitionDate:   f.Key.Date,
			ChannelUsername: doc.Channel.Username,
			Checksum:        res.Checksum,
			MessageRows:     res.Rows,
			ChannelRecorded: res.ChannelRecorded,
			LoadedAt:        time.Now().UTC(),
		})
		if err != nil {
			log.Warn("lineage record failed", "error", err)
		}
	})

	if l.archiver != nil {
		l.afterCommit(log, "archive", func() {
			ar, err := l.archiver.Archive(ctx, f.Key, f.Path, rows)
			if err != nil {
				l.metrics.IncArchiveErrors()
				log.Warn("archive failed", "error", err)
				return
			}
			res.Archive = ar
		})
	}

	return res
}

// afterCommit runs one post-commit step, turning a panic into a logged
// archive error.
func (l *Loader) afterCommit(log *slog.Logger, step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.metrics.IncArchiveErrors()
			log.Error("post-commit step panicked", "step", step, "panic", r)
		}
	}()
	fn()
}
