package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// WriterFunc compresses payload into the artifact at path, creating or
// truncating it, and returns the number of bytes that reached the file.
// This keeps the engine free of any storage format dependency.
type WriterFunc func(path string, payload []byte) (int64, error)

// written is what the consumer hands back to the orchestrator.
type written struct {
	uncompressed int64
	compressed   int64
	elapsed      time.Duration
}

// consume sorts the merged table, serializes it in key order and writes the
// compressed artifact. It runs once, after the parse phase.
func (c *Converter[T, PT]) consume(run *Run[T, PT], table *Table[T, PT]) (written, error) {
	start := time.Now()
	c.publish(run, WriteStarted, "")

	table.Sort()
	payload := table.AppendBinary(make([]byte, 0, table.Len()*c.recordSizeHint))

	n, err := c.opts.Write(run.Layout.Artifact, payload)
	if err != nil {
		return written{}, fmt.Errorf("%w: write %s: %w", ErrIOFailure, run.Layout.Artifact, err)
	}

	w := written{
		uncompressed: int64(len(payload)),
		compressed:   n,
		elapsed:      time.Since(start),
	}
	c.log.Info("Artifact written",
		zap.String("run", run.ID),
		zap.String("path", run.Layout.Artifact),
		zap.Int("records", table.Len()),
		zap.Int64("uncompressed", w.uncompressed),
		zap.Int64("compressed", w.compressed),
		zap.Time("first", table.MinKey().Time()),
		zap.Time("last", table.MaxKey().Time()),
	)
	return w, nil
}
