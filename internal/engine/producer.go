package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/DefectiveCube/XPlaneGen/internal/metrics"
)

// produce streams the input into the line channel. It skips the header,
// opens the start gate after the first enqueue and closes the channel at
// EOF so workers can drain it to the end.
func (c *Converter[T, PT]) produce(ctx context.Context, run *Run[T, PT]) error {
	// Workers must never stay parked on the gate, even for a header-only
	// file or a failed open.
	defer run.start.Open()
	defer close(run.lines)

	f, err := os.Open(run.Input)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, run.Input)
		}
		return fmt.Errorf("%w: open %s: %w", ErrIOFailure, run.Input, err)
	}
	defer f.Close()

	c.publish(run, ReadStarted, "")
	c.log.Info("Reading input", zap.String("run", run.ID), zap.String("path", run.Input))

	// One extra byte so a line of exactly MaxLineBytes fits with its '\n'.
	br := bufio.NewReaderSize(f, c.opts.MaxLineBytes+1)

	header := true
	var seq int64
	for {
		text, long, err := readLine(br)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: read %s: %w", ErrIOFailure, run.Input, err)
		}
		if header {
			header = false
			continue
		}

		ln := line{seq: seq, text: text}
		if long {
			c.drop(run, ln, 0, metrics.ReasonLength, nil)
		} else {
			select {
			case run.lines <- ln:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		seq++
		run.read.Add(1)
		c.metrics.LineRead()

		if seq == 1 {
			run.start.Open()
		}
	}

	c.publish(run, ReadCompleted, "")
	c.log.Info("Input exhausted", zap.String("run", run.ID), zap.Int64("lines", seq))
	return nil
}

// readLine returns the next line without its "\n" or "\r\n" terminator. A
// line that does not fit the reader's buffer is consumed to its end and
// reported with long set and no text. io.EOF is returned only once no bytes
// remain.
func readLine(br *bufio.Reader) (text string, long bool, err error) {
	b, err := br.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = br.ReadSlice('\n')
		}
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return "", true, err
	}
	if errors.Is(err, io.EOF) && len(b) > 0 {
		err = nil
	}
	if err != nil {
		return "", false, err
	}

	b = bytes.TrimSuffix(b, []byte("\n"))
	b = bytes.TrimSuffix(b, []byte("\r"))
	return string(b), false, nil
}
