package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/DefectiveCube/XPlaneGen/internal/metrics"
	"github.com/DefectiveCube/XPlaneGen/internal/record"
)

// work is the loop of one parse worker. It waits for the start gate, then
// drains the line channel until the producer has closed it.
func (c *Converter[T, PT]) work(ctx context.Context, run *Run[T, PT], out *shard[T, PT]) error {
	select {
	case <-run.start.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	for ln := range run.lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.classify(run, out, ln)
	}
	return nil
}

// classify splits one line and routes it by arity. The schema shape wins
// over the power-on shape when both have the same field count.
func (c *Converter[T, PT]) classify(run *Run[T, PT], out *shard[T, PT], ln line) {
	fields := strings.Split(ln.text, record.Delimiter)

	switch {
	case len(fields) == c.fields:
		var rec T
		if err := PT(&rec).Parse(fields); err != nil {
			c.drop(run, ln, len(fields), metrics.ReasonParse, err)
			return
		}
		out.table.Append(ln.seq, rec)
		run.valid.Add(1)
		c.metrics.RecordParsed()

	case record.IsPowerOn(fields):
		s, err := record.ParseSession(fields)
		if err != nil {
			c.drop(run, ln, len(fields), metrics.ReasonSession, err)
			return
		}
		out.sessions = append(out.sessions, s)
		c.metrics.Session()

	default:
		c.drop(run, ln, len(fields), metrics.ReasonArity, nil)
	}
}

// drop discards a malformed line. It is a diagnostic, never a run error.
func (c *Converter[T, PT]) drop(run *Run[T, PT], ln line, fields int, reason string, err error) {
	run.dropped.Add(1)
	c.metrics.Dropped(reason)
	if ce := c.log.Check(zap.DebugLevel, "Skipping line"); ce != nil {
		ce.Write(
			zap.String("run", run.ID),
			zap.Int64("line", ln.seq+2), // 1-based, counting the header
			zap.Int("fields", fields),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}
