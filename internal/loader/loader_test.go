package loader

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/archive"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/ledger"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/source"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/tables"
)

func newLedger(t *testing.T) ledger.Ledger {
	t.Helper()
	l, err := ledger.New(ledger.Config{Enabled: true, Path: filepath.Join(t.TempDir(), "scraping_status.json")})
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	return l
}

func TestRunIsolatesCorruptFile(t *testing.T) {
	root := writeLake(t, map[string]string{
		"2024-06-01/alpha.json": channelFile("Alpha", "@alpha", 1, 2),
		"2024-06-01/beta.json":  `{"channel_info": {"title": "Beta"}, "messages": [`,
		"2024-06-01/gamma.json": channelFile("Gamma", "@gamma", 7, 8, 9),
	})
	w := &memWriter{}
	led := newLedger(t)

	sum, err := New(Options{}, newScanner(t, root), w, led).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.FilesFound != 3 || sum.FilesSucceeded != 2 || sum.FilesFailed != 1 {
		t.Fatalf("summary = found %d ok %d failed %d", sum.FilesFound, sum.FilesSucceeded, sum.FilesFailed)
	}
	if sum.RowsWritten != 5 {
		t.Errorf("rows written = %d, want 5", sum.RowsWritten)
	}
	if w.messagesFrom("alpha") != 2 || w.messagesFrom("gamma") != 3 {
		t.Errorf("rows from good files missing: alpha=%d gamma=%d", w.messagesFrom("alpha"), w.messagesFrom("gamma"))
	}

	failures := sum.Failures()
	if len(failures) != 1 || failures[0].Key.Channel != "beta" || failures[0].Kind != KindParse {
		t.Fatalf("failures = %+v", failures)
	}
	if !errors.Is(failures[0].Err, tables.ErrParse) {
		t.Errorf("failure error %v should wrap ErrParse", failures[0].Err)
	}

	beta, ok := led.Get(source.PartitionKey{Channel: "beta", Date: "2024-06-01"})
	if !ok || beta.Success || beta.Error == nil {
		t.Errorf("ledger entry for beta = %+v, %v", beta, ok)
	}
	gamma, ok := led.Get(source.PartitionKey{Channel: "gamma", Date: "2024-06-01"})
	if !ok || !gamma.Success || gamma.MessageCount != 3 {
		t.Errorf("ledger entry for gamma = %+v, %v", gamma, ok)
	}

	// Results are reported in path order.
	for i, want := range []string{"alpha", "beta", "gamma"} {
		if sum.Results[i].Key.Channel != want {
			t.Errorf("result %d = %s, want %s", i, sum.Results[i].Key.Channel, want)
		}
	}
}

func TestRunSchemaFailureIsFatal(t *testing.T) {
	root := writeLake(t, map[string]string{"2024-06-01/alpha.json": channelFile("Alpha", "@alpha", 1)})
	w := &memWriter{schemaErr: errUnavailable}

	sum, err := New(Options{}, newScanner(t, root), w, nil).Run(context.Background())
	if !errors.Is(err, errUnavailable) {
		t.Fatalf("Run error = %v, want schema failure", err)
	}
	if sum.FilesFound != 0 || w.appendCalls != 0 {
		t.Errorf("no files should be attempted: found=%d appends=%d", sum.FilesFound, w.appendCalls)
	}
}

func TestRunScanFailureIsFatal(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	s, err := source.NewLocalScanner(source.Config{Root: missing})
	if err != nil {
		t.Fatal(err)
	}

	_, err = New(Options{}, s, &memWriter{}, nil).Run(context.Background())
	if !errors.Is(err, source.ErrScan) {
		t.Fatalf("Run error = %v, want ErrScan", err)
	}
}

func TestRunEmptyRootIsNotAnError(t *testing.T) {
	sum, err := New(Options{}, newScanner(t, t.TempDir()), &memWriter{}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.FilesFound != 0 || len(sum.Results) != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestRunAbortsAfterConsecutiveWriteFailures(t *testing.T) {
	files := map[string]string{}
	for i := 1; i <= 5; i++ {
		files["2024-06-0"+strconv.Itoa(i)+"/alpha.json"] = channelFile("Alpha", "@alpha", i)
	}
	root := writeLake(t, files)
	w := &memWriter{failMessages: func([]tables.MessageRow) error { return errUnavailable }}

	sum, err := New(Options{MaxConsecutiveWriteFailures: 2}, newScanner(t, root), w, nil).Run(context.Background())
	if !errors.Is(err, ErrSystemicOutage) {
		t.Fatalf("Run error = %v, want ErrSystemicOutage", err)
	}
	if sum.FilesFailed != 2 || sum.FilesNotAttempted != 3 {
		t.Errorf("failed=%d not_attempted=%d, want 2 and 3", sum.FilesFailed, sum.FilesNotAttempted)
	}
	if got := sum.FilesFailed + sum.FilesSucceeded + sum.FilesSkipped + sum.FilesNotAttempted; got != sum.FilesFound {
		t.Errorf("every file must be accounted for: %d of %d", got, sum.FilesFound)
	}
}

func TestWriteFailuresBelowThresholdContinue(t *testing.T) {
	root := writeLake(t, map[string]string{
		"2024-06-01/alpha.json": channelFile("Alpha", "@alpha", 1),
		"2024-06-01/beta.json":  channelFile("Beta", "@beta", 2),
		"2024-06-01/gamma.json": channelFile("Gamma", "@gamma", 3),
	})
	w := &memWriter{failMessages: func(rows []tables.MessageRow) error {
		if rows[0].ChannelUsername == "@beta" {
			return errUnavailable
		}
		return nil
	}}

	sum, err := New(Options{MaxConsecutiveWriteFailures: 2}, newScanner(t, root), w, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.FilesSucceeded != 2 || sum.FilesFailed != 1 {
		t.Errorf("ok=%d failed=%d", sum.FilesSucceeded, sum.FilesFailed)
	}
	beta := sum.Failures()[0]
	if beta.Kind != KindWrite || !beta.ChannelRecorded || beta.Rows != 0 {
		t.Errorf("beta result = kind %v channel %v rows %d", beta.Kind, beta.ChannelRecorded, beta.Rows)
	}
}

func TestChannelFailureTrackedSeparately(t *testing.T) {
	root := writeLake(t, map[string]string{"2024-06-01/alpha.json": channelFile("Alpha", "@alpha", 1, 2)})
	w := &memWriter{failChannel: errUnavailable}

	sum, err := New(Options{}, newScanner(t, root), w, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := sum.Results[0]
	if res.Kind != KindWrite || res.Rows != 2 || res.ChannelRecorded {
		t.Errorf("result = kind %v rows %d channel %v", res.Kind, res.Rows, res.ChannelRecorded)
	}
	if res.MessagesErr != nil || res.ChannelErr == nil {
		t.Errorf("errors = messages %v channel %v", res.MessagesErr, res.ChannelErr)
	}
	if len(w.loads) != 0 {
		t.Error("partially written file should not be recorded as loaded")
	}
}

func TestEmptyMessagesYieldsOneChannelRow(t *testing.T) {
	root := writeLake(t, map[string]string{
		"2024-06-01/quiet.json": `{"channel_info": {"title": "Quiet", "username": "@quiet", "message_count": 0}, "messages": []}`,
	})
	w := &memWriter{}

	sum, err := New(Options{}, newScanner(t, root), w, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.FilesSucceeded != 1 || sum.RowsWritten != 0 || sum.ChannelRows != 1 {
		t.Errorf("summary = ok %d rows %d channel %d", sum.FilesSucceeded, sum.RowsWritten, sum.ChannelRows)
	}
	if w.nonEmptyAppends != 0 {
		t.Error("empty batch must not issue a write")
	}
	if len(w.channels) != 1 || w.channels[0].ChannelUsername != "@quiet" {
		t.Errorf("channels = %+v", w.channels)
	}
}

func TestSkipLoadedOnRerun(t *testing.T) {
	root := writeLake(t, map[string]string{
		"2024-06-01/alpha.json": channelFile("Alpha", "@alpha", 1, 2),
		"2024-06-02/alpha.json": channelFile("Alpha", "@alpha", 3),
	})
	w := &memWriter{}
	l := New(Options{SkipLoaded: true}, newScanner(t, root), w, nil)

	if _, err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	sum, err := l.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.FilesSkipped != 2 || sum.RowsWritten != 0 {
		t.Errorf("second run: skipped=%d rows=%d", sum.FilesSkipped, sum.RowsWritten)
	}
	if len(w.messages) != 3 {
		t.Errorf("messages stored = %d, want 3", len(w.messages))
	}
}

func TestSkipSucceededUsesLedger(t *testing.T) {
	root := writeLake(t, map[string]string{
		"2024-06-01/alpha.json": channelFile("Alpha", "@alpha", 1),
		"2024-06-01/beta.json":  channelFile("Beta", "@beta", 2),
	})
	led := newLedger(t)
	if err := led.Update(context.Background(), source.PartitionKey{Channel: "alpha", Date: "2024-06-01"},
		ledger.Entry{MessageCount: 1, Success: true, Timestamp: ledger.Timestamp{Time: time.Now()}}); err != nil {
		t.Fatal(err)
	}
	w := &memWriter{}

	sum, err := New(Options{SkipSucceeded: true}, newScanner(t, root), w, led).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.FilesSkipped != 1 || sum.FilesSucceeded != 1 {
		t.Errorf("skipped=%d ok=%d", sum.FilesSkipped, sum.FilesSucceeded)
	}
	if w.messagesFrom("alpha") != 0 {
		t.Error("alpha should not have been reloaded")
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	files := map[string]string{}
	for i := 1; i <= 8; i++ {
		date := "2024-06-0" + strconv.Itoa(i)
		files[date+"/alpha.json"] = channelFile("Alpha", "@alpha", i*10, i*10+1)
		files[date+"/beta.json"] = channelFile("Beta", "@beta", i*10+2)
	}
	files["2024-06-04/broken.json"] = `not json`
	root := writeLake(t, files)

	seq, err := New(Options{}, newScanner(t, root), &memWriter{}, nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	par, err := New(Options{Workers: 4}, newScanner(t, root), &memWriter{}, newLedger(t)).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if par.FilesSucceeded != seq.FilesSucceeded || par.FilesFailed != seq.FilesFailed || par.RowsWritten != seq.RowsWritten {
		t.Errorf("parallel %d/%d/%d vs sequential %d/%d/%d",
			par.FilesSucceeded, par.FilesFailed, par.RowsWritten,
			seq.FilesSucceeded, seq.FilesFailed, seq.RowsWritten)
	}
	for i := range seq.Results {
		if par.Results[i].Path != seq.Results[i].Path {
			t.Fatalf("result %d out of order: %s vs %s", i, par.Results[i].Path, seq.Results[i].Path)
		}
	}
}

func TestParallelAbortsOnOutage(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 20; i++ {
		files["2024-06-01/ch"+strconv.Itoa(100+i)+".json"] = channelFile("C", "@c", i+1)
	}
	root := writeLake(t, files)
	w := &memWriter{failMessages: func([]tables.MessageRow) error { return errUnavailable }}

	sum, err := New(Options{Workers: 3, MaxConsecutiveWriteFailures: 3}, newScanner(t, root), w, nil).Run(context.Background())
	if !errors.Is(err, ErrSystemicOutage) {
		t.Fatalf("Run error = %v, want ErrSystemicOutage", err)
	}
	if got := sum.FilesFailed + sum.FilesSucceeded + sum.FilesSkipped + sum.FilesNotAttempted; got != sum.FilesFound {
		t.Errorf("every file must be accounted for: %d of %d", got, sum.FilesFound)
	}
	if sum.FilesFailed < 3 {
		t.Errorf("failed = %d, want at least 3", sum.FilesFailed)
	}
}

func TestRunTimeoutInterruptsRun(t *testing.T) {
	root := writeLake(t, map[string]string{
		"2024-06-01/alpha.json": channelFile("Alpha", "@alpha", 1),
		"2024-06-01/beta.json":  channelFile("Beta", "@beta", 2),
	})
	ctx, cancel := context.WithCancel(context.Background())
	w := &memWriter{failMessages: func([]tables.MessageRow) error {
		cancel()
		return nil
	}}

	sum, err := New(Options{}, newScanner(t, root), w, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if sum.FilesNotAttempted != 1 {
		t.Errorf("not attempted = %d, want 1", sum.FilesNotAttempted)
	}
}

type panickingArchiver struct{}

func (panickingArchiver) Archive(context.Context, source.PartitionKey, string, []tables.MessageRow) (*archive.Result, error) {
	panic("encoder exploded")
}

func TestPanicAfterCommitKeepsFileLoaded(t *testing.T) {
	root := writeLake(t, map[string]string{"2024-06-01/chemed.json": chemedFile})
	w := &memWriter{}
	led := newLedger(t)

	sum, err := New(Options{}, newScanner(t, root), w, led).
		WithArchiver(panickingArchiver{}).
		Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.FilesSucceeded != 1 || sum.FilesFailed != 0 || sum.RowsWritten != 2 {
		t.Fatalf("ok=%d failed=%d rows=%d", sum.FilesSucceeded, sum.FilesFailed, sum.RowsWritten)
	}
	if res := sum.Results[0]; res.Kind != KindOK || res.Err != nil || res.Archive != nil {
		t.Errorf("result = kind %s err %v archive %+v", res.Kind, res.Err, res.Archive)
	}
	if len(w.loads) != 1 {
		t.Errorf("lineage records = %d, want 1", len(w.loads))
	}
	entry, ok := led.Get(source.PartitionKey{Channel: "chemed", Date: "2024-06-01"})
	if !ok || !entry.Success {
		t.Errorf("ledger entry = %+v, %v", entry, ok)
	}
}

func TestInterruptedFileIsRecordedTheSameInBothModes(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run("workers="+strconv.Itoa(workers), func(t *testing.T) {
			root := writeLake(t, map[string]string{"2024-06-01/chemed.json": chemedFile})
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			// The message batch commits, then the deadline hits the channel row.
			w := &memWriter{
				failMessages: func([]tables.MessageRow) error {
					cancel()
					return nil
				},
				failChannel: context.Canceled,
			}
			led := newLedger(t)

			sum, _ := New(Options{Workers: workers}, newScanner(t, root), w, led).Run(ctx)
			if sum.FilesFailed != 1 || sum.FilesNotAttempted != 0 {
				t.Fatalf("failed=%d not_attempted=%d, want 1 and 0", sum.FilesFailed, sum.FilesNotAttempted)
			}
			if sum.RowsWritten != 2 {
				t.Errorf("rows written = %d, want the 2 committed rows", sum.RowsWritten)
			}
			entry, ok := led.Get(source.PartitionKey{Channel: "chemed", Date: "2024-06-01"})
			if !ok || entry.Success || entry.Error == nil {
				t.Errorf("ledger entry = %+v, %v", entry, ok)
			}
		})
	}
}
