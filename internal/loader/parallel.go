package loader

import (
	"context"
	"fmt"
	"sync"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/logging"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/source"
)

// slot holds one file's outcome until it can be committed in path order.
type slot struct {
	done   chan struct{}
	result *FileResult // nil when the file was never dispatched
}

// runParallel processes files on a bounded pool of workers. Reading,
// normalizing and writing run concurrently, each write on its own pooled
// connection; commit (audit chain, ledger, summary) happens in path order.
func (l *Loader) runParallel(ctx context.Context, files []source.PartitionFile, sum *Summary) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([]*slot, len(files))
	for i := range slots {
		slots[i] = &slot{done: make(chan struct{})}
	}

	sem := make(chan struct{}, l.opts.Workers)
	var wg sync.WaitGroup

	go func() {
		for i, f := range files {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				for _, s := range slots[i:] {
					close(s.done)
				}
				return
			}

			wg.Add(1)
			l.metrics.AddInFlightFiles(1)
			go func(workerID int, s *slot, f source.PartitionFile) {
				defer wg.Done()
				defer func() { <-sem }()
				defer l.metrics.AddInFlightFiles(-1)

				logging.WorkerLogger(workerID).Debug("processing", "path", f.RelPath)
				res := l.processFile(ctx, f)
				s.result = &res
				close(s.done)
			}(i%l.opts.Workers, slots[i], f)
		}
	}()

	tracker := newFailureTracker(l.opts.MaxConsecutiveWriteFailures)
	var runErr error

	for _, s := range slots {
		<-s.done
		if s.result == nil {
			sum.FilesNotAttempted++
			continue
		}
		// A dispatched file counts as attempted even when a deadline or an
		// abort cut it short, as in the sequential path.
		res := *s.result
		l.commit(ctx, res, sum)
		if runErr != nil {
			continue
		}
		if err := tracker.observe(res); err != nil {
			runErr = err
			l.log.Error("aborting run", "error", err)
			cancel()
		}
	}

	wg.Wait()

	if runErr == nil {
		if err := ctx.Err(); err != nil && sum.FilesNotAttempted > 0 {
			runErr = fmt.Errorf("run interrupted: %w", err)
		}
	}
	return runErr
}
