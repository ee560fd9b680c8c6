// Package engine runs the conversion pipeline: a reader feeding a pool of
// parse workers, followed by a single writer that sorts and compresses the
// records into a content-addressed artifact.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DefectiveCube/XPlaneGen/internal/metrics"
	"github.com/DefectiveCube/XPlaneGen/internal/record"
)

// HashFunc returns the content digest of the file at path.
type HashFunc func(path string) ([]byte, error)

// LedgerFunc persists the report of a successful run next to its artifact.
type LedgerFunc func(dir string, r *Report) error

// Options configures a Converter. Hash and Write are required.
type Options struct {
	Workers      int // 0 means runtime.NumCPU()
	LineBuffer   int // capacity of the line channel
	MaxLineBytes int // longest line the reader accepts

	Hash   HashFunc
	Write  WriterFunc
	Ledger LedgerFunc // optional

	Logger  *zap.Logger
	Metrics *metrics.Pipeline
	Bus     *Bus
}

const (
	defaultLineBuffer   = 4096
	defaultMaxLineBytes = 1 << 20
)

// Converter turns telemetry logs of record type T into sorted, compressed
// artifacts. It holds no per-run state and may be reused.
type Converter[T any, PT record.Ptr[T]] struct {
	opts    Options
	fields  int
	log     *zap.Logger
	metrics *metrics.Pipeline
	bus     *Bus

	recordSizeHint int
}

// NewConverter validates opts and resolves the schema of T once.
func NewConverter[T any, PT record.Ptr[T]](opts Options) (*Converter[T, PT], error) {
	if opts.Hash == nil || opts.Write == nil {
		return nil, errors.New("engine: Hash and Write are required")
	}
	if opts.Workers < 0 || opts.LineBuffer < 0 || opts.MaxLineBytes < 0 {
		return nil, errors.New("engine: negative option")
	}
	if opts.Workers == 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.LineBuffer == 0 {
		opts.LineBuffer = defaultLineBuffer
	}
	if opts.MaxLineBytes == 0 {
		opts.MaxLineBytes = defaultMaxLineBytes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Bus == nil {
		opts.Bus = NewBus()
	}

	var zero T
	return &Converter[T, PT]{
		opts:           opts,
		fields:         PT(&zero).FieldCount(),
		log:            opts.Logger,
		metrics:        opts.Metrics,
		bus:            opts.Bus,
		recordSizeHint: len(PT(&zero).AppendBinary(nil)),
	}, nil
}

// Bus returns the bus the converter publishes run events on.
func (c *Converter[T, PT]) Bus() *Bus {
	return c.bus
}

// Workers returns the size of the parse pool.
func (c *Converter[T, PT]) Workers() int {
	return c.opts.Workers
}

// Convert parses input and writes its artifact under outputRoot/<hash>.
// The digest only names the directory: an existing artifact is rewritten,
// never reused.
func (c *Converter[T, PT]) Convert(ctx context.Context, input, outputRoot string) (*Report, error) {
	started := time.Now()

	info, err := os.Stat(input)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, c.fail(nil, started, fmt.Errorf("%w: %s", ErrFileNotFound, input))
		}
		return nil, c.fail(nil, started, fmt.Errorf("%w: stat %s: %w", ErrIOFailure, input, err))
	}
	if info.IsDir() {
		return nil, c.fail(nil, started, fmt.Errorf("%w: %s is a directory", ErrIOFailure, input))
	}

	digest, err := c.opts.Hash(input)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, c.fail(nil, started, fmt.Errorf("%w: %s", ErrFileNotFound, input))
		}
		return nil, c.fail(nil, started, fmt.Errorf("%w: hash %s: %w", ErrIOFailure, input, err))
	}

	layout := NewLayout(outputRoot, input, digest)
	run := newRun[T, PT](uuid.NewString(), input, layout, c.opts.Workers, c.opts.LineBuffer)
	report := &Report{
		RunID:     run.ID,
		StartedAt: started,
		Input:     input,
		InputSize: info.Size(),
		Hash:      layout.Hash,
		Artifact:  layout.Artifact,
		Index:     layout.Index,
	}

	c.log.Info("Conversion started",
		zap.String("run", run.ID),
		zap.String("input", input),
		zap.String("hash", layout.Hash),
		zap.Int("workers", c.opts.Workers),
	)

	// Parse phase: producer plus every worker. Wait is the completion
	// barrier; a fatal producer error cancels the workers.
	parseStart := time.Now()
	c.publish(run, ParseStarted, "")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.produce(gctx, run) })
	for _, s := range run.shards {
		s := s
		g.Go(func() error { return c.work(gctx, run, s) })
	}
	if err := g.Wait(); err != nil {
		return nil, c.fail(run, started, err)
	}

	table, sessions := run.collect()
	report.Lines = run.read.Load()
	report.ValidLines = run.valid.Load()
	report.DroppedLines = run.dropped.Load()
	report.Sessions = sessions
	report.ParseTime = time.Since(parseStart)
	c.publish(run, ParseCompleted, "")

	c.log.Info("Parsing completed",
		zap.String("run", run.ID),
		zap.Int64("valid", report.ValidLines),
		zap.Int64("dropped", report.DroppedLines),
		zap.Int("sessions", report.Sessions),
		zap.Duration("elapsed", report.ParseTime),
	)

	if err := ctx.Err(); err != nil {
		return nil, c.fail(run, started, err)
	}

	w, err := c.consume(run, table)
	if err != nil {
		return nil, c.fail(run, started, err)
	}
	report.Uncompressed = w.uncompressed
	report.Compressed = w.compressed
	report.Ratio = compressionRatio(w.compressed, w.uncompressed)
	report.WriteTime = w.elapsed

	if c.opts.Ledger != nil {
		if err := c.opts.Ledger(layout.Dir, report); err != nil {
			c.log.Warn("Run ledger not updated", zap.String("run", run.ID), zap.Error(err))
		}
	}

	c.publish(run, WriteCompleted, "")
	c.publish(run, MessageWritten, report.String())
	c.metrics.RunSucceeded(time.Since(started), report.Uncompressed, report.Compressed)
	return report, nil
}

// fail records a fatal run error and hands it back.
func (c *Converter[T, PT]) fail(run *Run[T, PT], started time.Time, err error) error {
	id := ""
	if run != nil {
		id = run.ID
	}
	c.bus.Publish(Event{Kind: ErrorWritten, RunID: id, Message: err.Error(), Err: err})
	c.metrics.RunFailed(time.Since(started))
	c.log.Error("Conversion failed", zap.String("run", id), zap.Error(err))
	return err
}

func (c *Converter[T, PT]) publish(run *Run[T, PT], kind EventKind, msg string) {
	c.bus.Publish(Event{Kind: kind, RunID: run.ID, Message: msg})
}
