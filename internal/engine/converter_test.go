package engine_test

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DefectiveCube/XPlaneGen/internal/engine"
	"github.com/DefectiveCube/XPlaneGen/internal/metrics"
	"github.com/DefectiveCube/XPlaneGen/internal/record"
	"github.com/DefectiveCube/XPlaneGen/internal/record/flight"
	"github.com/DefectiveCube/XPlaneGen/internal/storage"
)

func writeLog(t *testing.T, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func baseOptions(t *testing.T) engine.Options {
	t.Helper()
	w, err := storage.NewArtifactWriter(storage.CodecGzip)
	require.NoError(t, err)
	return engine.Options{
		Workers: 4,
		Hash:    storage.HashFile,
		Write:   w.Write,
		Ledger:  storage.AppendRun,
	}
}

func newReadingConverter(t *testing.T, opts engine.Options) *engine.Converter[reading, *reading] {
	t.Helper()
	c, err := engine.NewConverter[reading](opts)
	require.NoError(t, err)
	return c
}

func assertSorted[T any, PT record.Ptr[T]](t *testing.T, recs []T) {
	t.Helper()
	for i := 1; i < len(recs); i++ {
		prev, cur := PT(&recs[i-1]).Key(), PT(&recs[i]).Key()
		require.LessOrEqual(t, prev.Compare(cur), 0, "record %d out of order", i)
	}
}

func TestConvertMixedInput(t *testing.T) {
	input := writeLog(t, "flight.csv",
		"H",
		readingLine(19, 7200, 3),
		readingLine(19, 3600, 2),
		"#,2016-06-19,00:59:00,POWER ON",
		readingLine(18, 86000, 1),
		"only,three,fields",
	)
	root := filepath.Join(t.TempDir(), "out")

	report, err := newReadingConverter(t, baseOptions(t)).Convert(context.Background(), input, root)
	require.NoError(t, err)

	assert.Equal(t, int64(5), report.Lines)
	assert.Equal(t, int64(3), report.ValidLines)
	assert.Equal(t, 1, report.Sessions)
	assert.Equal(t, int64(1), report.DroppedLines)
	assert.Equal(t, int64(3*26), report.Uncompressed)
	assert.Equal(t, compressedSize(t, report.Artifact), report.Compressed)
	assert.InDelta(t, 1-float64(report.Compressed)/float64(report.Uncompressed), report.Ratio, 1e-9)

	recs, err := storage.ReadAll[reading](report.Artifact)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{recs[0].Value, recs[1].Value, recs[2].Value})
	assertSorted(t, recs)

	assert.NoFileExists(t, report.Index, "index path is reserved, not written")
}

func compressedSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}

func TestConvertHeaderOnly(t *testing.T) {
	input := writeLog(t, "empty.csv", "Lcl Date,Lcl Time,Value,A,B")

	report, err := newReadingConverter(t, baseOptions(t)).Convert(context.Background(), input, t.TempDir())
	require.NoError(t, err)

	assert.Zero(t, report.ValidLines)
	assert.Zero(t, report.Uncompressed)
	assert.Zero(t, report.Ratio)

	recs, err := storage.ReadAll[reading](report.Artifact)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestConvertEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zero.csv")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	report, err := newReadingConverter(t, baseOptions(t)).Convert(context.Background(), path, t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, report.Lines)
}

func TestConvertMissingInput(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	c := newReadingConverter(t, baseOptions(t))
	events, cancel := c.Bus().Subscribe(8)
	defer cancel()

	_, err := c.Convert(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), root)
	require.ErrorIs(t, err, engine.ErrFileNotFound)
	assert.NoDirExists(t, root)

	ev := <-events
	assert.Equal(t, engine.ErrorWritten, ev.Kind)
	assert.ErrorIs(t, ev.Err, engine.ErrFileNotFound)
}

func TestConvertDirectoryInput(t *testing.T) {
	_, err := newReadingConverter(t, baseOptions(t)).Convert(context.Background(), t.TempDir(), t.TempDir())
	assert.ErrorIs(t, err, engine.ErrIOFailure)
}

func TestConvertRecordCountAndOrder(t *testing.T) {
	const n = 20000
	rng := rand.New(rand.NewSource(7))

	lines := []string{"header"}
	for i := 0; i < n; i++ {
		lines = append(lines, readingLine(1+rng.Intn(28), rng.Intn(86400), int64(i)))
		if i%1000 == 0 {
			lines = append(lines, "garbage")
		}
	}
	input := writeLog(t, "big.csv", lines...)

	opts := baseOptions(t)
	opts.Workers = 8
	opts.LineBuffer = 1
	c, err := engine.NewConverter[slowReading](opts)
	require.NoError(t, err)

	report, err := c.Convert(context.Background(), input, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(n), report.ValidLines)
	assert.Equal(t, int64(n/1000), report.DroppedLines)

	recs, err := storage.ReadAll[slowReading](report.Artifact)
	require.NoError(t, err)
	assert.Len(t, recs, n)
	assertSorted(t, recs)
}

func TestConvertDeterministicAcrossPoolSizes(t *testing.T) {
	lines := []string{"header"}
	for i := 0; i < 2000; i++ {
		// Few distinct keys, so ties are common.
		lines = append(lines, readingLine(19, i%17, int64(i)))
	}
	input := writeLog(t, "ties.csv", lines...)

	var runs [][]reading
	for _, workers := range []int{1, 3, 16} {
		opts := baseOptions(t)
		opts.Workers = workers
		report, err := newReadingConverter(t, opts).Convert(context.Background(), input, t.TempDir())
		require.NoError(t, err)

		recs, err := storage.ReadAll[reading](report.Artifact)
		require.NoError(t, err)
		runs = append(runs, recs)
	}
	assert.Equal(t, runs[0], runs[1])
	assert.Equal(t, runs[0], runs[2])
}

func TestConvertNamingIsContentAddressed(t *testing.T) {
	root := t.TempDir()
	c := newReadingConverter(t, baseOptions(t))

	a := writeLog(t, "a.csv", "h", readingLine(19, 1, 1))
	first, err := c.Convert(context.Background(), a, root)
	require.NoError(t, err)
	second, err := c.Convert(context.Background(), a, root)
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.Artifact, second.Artifact)
	assert.Len(t, first.Hash, 64)
	assert.Equal(t, strings.ToLower(first.Hash), first.Hash)
	assert.Equal(t, filepath.Join(root, first.Hash, "a.output"), first.Artifact)
	assert.Equal(t, filepath.Join(root, first.Hash, "a.index"), first.Index)

	// Both runs re-parsed the file: naming is not a cache.
	runs, err := storage.LoadRuns(filepath.Dir(first.Artifact))
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.NotEqual(t, runs[0].RunID, runs[1].RunID)

	b := writeLog(t, "a.csv", "h", readingLine(19, 1, 2))
	other, err := c.Convert(context.Background(), b, root)
	require.NoError(t, err)
	assert.NotEqual(t, first.Hash, other.Hash)
}

func TestConvertArityBoundaries(t *testing.T) {
	powerOn := "#,2016-06-19,12:00:00,POWER ON"

	t.Run("schema wins over session shape", func(t *testing.T) {
		input := writeLog(t, "quad.csv", "h", powerOn)
		c, err := engine.NewConverter[quad](baseOptions(t))
		require.NoError(t, err)

		report, err := c.Convert(context.Background(), input, t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, int64(1), report.ValidLines)
		assert.Zero(t, report.Sessions)
	})

	t.Run("four fields without token are dropped", func(t *testing.T) {
		input := writeLog(t, "off.csv", "h", "#,2016-06-19,12:00:00,POWER OFF")
		report, err := newReadingConverter(t, baseOptions(t)).Convert(context.Background(), input, t.TempDir())
		require.NoError(t, err)
		assert.Zero(t, report.ValidLines)
		assert.Zero(t, report.Sessions)
		assert.Equal(t, int64(1), report.DroppedLines)
	})

	t.Run("distinct sessions", func(t *testing.T) {
		input := writeLog(t, "sessions.csv", "h",
			powerOn,
			powerOn,
			"#,2016-06-19,14:00:00,POWER ON",
			"#,2016-06-19,bad,POWER ON",
		)
		report, err := newReadingConverter(t, baseOptions(t)).Convert(context.Background(), input, t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, 2, report.Sessions)
		assert.Equal(t, int64(1), report.DroppedLines)
	})
}

func TestConvertDropsUnparseableRecords(t *testing.T) {
	input := writeLog(t, "bad.csv", "h",
		readingLine(19, 10, 1),
		"2016-06-19,00:00:11,notanumber,x,y",
	)
	report, err := newReadingConverter(t, baseOptions(t)).Convert(context.Background(), input, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.ValidLines)
	assert.Equal(t, int64(1), report.DroppedLines)
}

func TestConvertCRLF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crlf.csv")
	data := "h\r\n" + readingLine(19, 5, 5) + "\r\n" + readingLine(19, 4, 4) + "\r\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	report, err := newReadingConverter(t, baseOptions(t)).Convert(context.Background(), path, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.ValidLines)
}

func TestConvertWriteFailure(t *testing.T) {
	input := writeLog(t, "a.csv", "h", readingLine(19, 1, 1))
	opts := baseOptions(t)
	opts.Write = func(string, []byte) (int64, error) { return 0, errors.New("disk full") }

	_, err := newReadingConverter(t, opts).Convert(context.Background(), input, t.TempDir())
	require.ErrorIs(t, err, engine.ErrIOFailure)
	assert.Contains(t, err.Error(), "disk full")
}

func TestConvertOutputRootIsFile(t *testing.T) {
	input := writeLog(t, "a.csv", "h", readingLine(19, 1, 1))
	root := filepath.Join(t.TempDir(), "root")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0644))

	_, err := newReadingConverter(t, baseOptions(t)).Convert(context.Background(), input, root)
	assert.ErrorIs(t, err, engine.ErrIOFailure)
}

func TestConvertSkipsOverlongLines(t *testing.T) {
	input := writeLog(t, "long.csv", "h",
		readingLine(19, 2, 2),
		strings.Repeat("x", 4096),
		readingLine(19, 1, 1),
		strings.Repeat("y", 1500),
	)
	opts := baseOptions(t)
	opts.MaxLineBytes = 1024
	opts.Metrics = metrics.NewPipeline(prometheus.NewRegistry())

	report, err := newReadingConverter(t, opts).Convert(context.Background(), input, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(4), report.Lines)
	assert.Equal(t, int64(2), report.ValidLines)
	assert.Equal(t, int64(2), report.DroppedLines)
	assert.Equal(t, 2.0, testutil.ToFloat64(opts.Metrics.LinesDropped.WithLabelValues(metrics.ReasonLength)))

	recs, err := storage.ReadAll[reading](report.Artifact)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0].Value)
}

func TestConvertCancelled(t *testing.T) {
	input := writeLog(t, "a.csv", "h", readingLine(19, 1, 1))
	root := filepath.Join(t.TempDir(), "out")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newReadingConverter(t, baseOptions(t)).Convert(ctx, input, root)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoDirExists(t, root)
}

func TestConvertEvents(t *testing.T) {
	input := writeLog(t, "a.csv", "h", readingLine(19, 1, 1), readingLine(19, 2, 2), readingLine(19, 3, 3))
	c := newReadingConverter(t, baseOptions(t))
	events, cancel := c.Bus().Subscribe(32)

	report, err := c.Convert(context.Background(), input, t.TempDir())
	require.NoError(t, err)
	cancel()

	var kinds []engine.EventKind
	var message string
	for ev := range events {
		assert.Equal(t, report.RunID, ev.RunID)
		kinds = append(kinds, ev.Kind)
		if ev.Kind == engine.MessageWritten {
			message = ev.Message
		}
	}
	assert.Equal(t, []engine.EventKind{
		engine.ParseStarted,
		engine.ReadStarted,
		engine.ReadCompleted,
		engine.ParseCompleted,
		engine.WriteStarted,
		engine.WriteCompleted,
		engine.MessageWritten,
	}, kinds)
	assert.Contains(t, message, "Valid Lines: 3\n")
	assert.Contains(t, message, "Unique Flights: 0\n")
	assert.Contains(t, message, "Uncompressed Size: 78 bytes\n")
}

func TestConvertStalledObserver(t *testing.T) {
	input := writeLog(t, "a.csv", "h", readingLine(19, 1, 1))
	c := newReadingConverter(t, baseOptions(t))
	_, cancel := c.Bus().Subscribe(0) // never read
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.Convert(context.Background(), input, t.TempDir())
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("conversion blocked on a stalled observer")
	}
	assert.Positive(t, c.Bus().Missed())
}

func TestConvertMetrics(t *testing.T) {
	input := writeLog(t, "a.csv", "h",
		readingLine(19, 1, 1),
		"#,2016-06-19,00:00:00,POWER ON",
		"bad",
	)
	opts := baseOptions(t)
	opts.Metrics = metrics.NewPipeline(prometheus.NewRegistry())

	_, err := newReadingConverter(t, opts).Convert(context.Background(), input, t.TempDir())
	require.NoError(t, err)

	m := opts.Metrics
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LinesRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsParsed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinesDropped.WithLabelValues(metrics.ReasonArity)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("ok")))
	assert.Equal(t, 26.0, testutil.ToFloat64(m.Uncompressed))
}

func TestConvertFlightSamples(t *testing.T) {
	input := writeLog(t, "log_160619_121000.csv",
		"Lcl Date,Lcl Time,Latitude,Longitude,AltMSL,OAT,IAS,GndSpd,Pitch,Roll",
		"2016-06-19, 12:10:16, 47.4503, -122.3088, 434.0, 14.5, 0, 2.3, 0.4, -0.3",
		"#, 2016-06-19, 12:10:00, POWER ON",
		"2016-06-19, 12:10:15, 47.4502, -122.3088, 433.2, 14.5, 0, 2.1, 0.4, -0.3",
	)

	c, err := engine.NewConverter[flight.Sample](baseOptions(t))
	require.NoError(t, err)
	report, err := c.Convert(context.Background(), input, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.ValidLines)
	assert.Equal(t, 1, report.Sessions)
	assert.Equal(t, "log_160619_121000.output", filepath.Base(report.Artifact))

	recs, err := storage.ReadAll[flight.Sample](report.Artifact)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 433.2, recs[0].AltMSL)
	assert.Equal(t, 434.0, recs[1].AltMSL)
}

func TestNewConverterValidates(t *testing.T) {
	_, err := engine.NewConverter[reading](engine.Options{})
	assert.Error(t, err)

	opts := baseOptions(t)
	opts.Workers = -1
	_, err = engine.NewConverter[reading](opts)
	assert.Error(t, err)

	opts = baseOptions(t)
	opts.Workers = 0
	c, err := engine.NewConverter[reading](opts)
	require.NoError(t, err)
	assert.Positive(t, c.Workers())
}
