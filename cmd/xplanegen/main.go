package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/DefectiveCube/XPlaneGen/internal/config"
	"github.com/DefectiveCube/XPlaneGen/internal/engine"
	"github.com/DefectiveCube/XPlaneGen/internal/logging"
	"github.com/DefectiveCube/XPlaneGen/internal/metrics"
	"github.com/DefectiveCube/XPlaneGen/internal/record/flight"
	"github.com/DefectiveCube/XPlaneGen/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Command-line flags override the environment
	flag.StringVar(&cfg.OutputRoot, "out", cfg.OutputRoot, "Root directory for converted artifacts")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Parse workers (0 = one per CPU)")
	flag.StringVar(&cfg.Codec, "codec", cfg.Codec, "Artifact compression: gzip, zlib, or zstd (non-DEFLATE extension)")
	flag.DurationVar(&cfg.Retention, "retention", cfg.Retention, "Prune artifact directories older than this after converting (0 disables)")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Address to expose Prometheus metrics on, e.g. :9090")
	flag.StringVar(&cfg.Level, "log-level", cfg.Level, "Log level: debug, info, warn, error")
	verify := flag.Bool("verify", false, "Read every artifact back and check it against the report and the run ledger")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <log.csv>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Level,
		Development: cfg.Development,
	})
	if err != nil {
		logger = logging.NewDefault()
		logger.Warn("Invalid log configuration, using defaults", zap.String("level", cfg.Level), zap.Error(err))
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pipeline := metrics.NewPipeline(reg)
	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr, reg, func(err error) {
			logger.Warn("Metrics server stopped", zap.Error(err))
		})
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		logger.Info("Serving metrics", zap.String("addr", cfg.MetricsAddr))
	}

	conv, codec, err := newConverter(cfg, logger, pipeline)
	if err != nil {
		logger.Fatal("Failed to create converter", zap.Error(err))
	}
	if !storage.IsDeflate(codec) {
		logger.Warn("Artifacts will not be DEFLATE streams", zap.String("codec", codec))
	}
	logger.Info("XPlaneGen converter started",
		zap.Int("workers", conv.Workers()),
		zap.String("codec", codec),
		zap.String("out", cfg.OutputRoot),
	)

	// Graceful shutdown hook
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed := 0
	for _, input := range flag.Args() {
		if err := convert(ctx, conv, input, cfg.OutputRoot, *verify, logger); err != nil {
			failed++
			if errors.Is(err, context.Canceled) {
				logger.Warn("Interrupted, skipping remaining inputs")
				break
			}
		}
	}

	if cfg.Retention > 0 {
		removed, err := storage.Prune(cfg.OutputRoot, cfg.Retention, time.Now())
		if err != nil {
			logger.Warn("Prune incomplete", zap.Error(err))
		}
		for _, dir := range removed {
			logger.Info("Pruned expired artifacts", zap.String("dir", dir))
		}
	}

	if failed > 0 {
		logger.Error("Some inputs failed", zap.Int("failed", failed), zap.Int("total", flag.NArg()))
		logger.Sync()
		os.Exit(1)
	}
}

// newConverter wires the flight-sample converter to the artifact storage
// selected by cfg and returns it with the resolved codec name.
func newConverter(cfg *config.Config, logger *zap.Logger, pipeline *metrics.Pipeline) (*engine.Converter[flight.Sample, *flight.Sample], string, error) {
	writer, err := storage.NewArtifactWriter(cfg.Codec)
	if err != nil {
		return nil, "", err
	}
	conv, err := engine.NewConverter[flight.Sample](engine.Options{
		Workers:      cfg.Workers,
		LineBuffer:   cfg.LineBuffer,
		MaxLineBytes: cfg.MaxLineBytes,
		Hash:         storage.HashFile,
		Write:        writer.Write,
		Ledger:       storage.AppendRun,
		Logger:       logger,
		Metrics:      pipeline,
	})
	if err != nil {
		return nil, "", err
	}
	return conv, writer.Codec(), nil
}

func convert(ctx context.Context, conv *engine.Converter[flight.Sample, *flight.Sample], input, out string, verify bool, logger *zap.Logger) error {
	report, err := conv.Convert(ctx, input, out)
	if err != nil {
		return err
	}
	fmt.Print(report.String())

	if !verify {
		return nil
	}
	n, err := verifyArtifact(report)
	if err != nil {
		logger.Error("Verification failed", zap.String("artifact", report.Artifact), zap.Error(err))
		return err
	}
	logger.Info("Artifact verified", zap.String("artifact", report.Artifact), zap.Int("records", n))
	return nil
}

// verifyArtifact reads the artifact of a finished run back and checks it
// against both the report and the newest entry of the run ledger next to
// it. It returns the number of records read.
func verifyArtifact(report *engine.Report) (int, error) {
	samples, err := storage.ReadAll[flight.Sample](report.Artifact)
	if err != nil {
		return 0, err
	}
	if int64(len(samples)) != report.ValidLines {
		return 0, fmt.Errorf("artifact holds %d records, report says %d", len(samples), report.ValidLines)
	}
	for i := 1; i < len(samples); i++ {
		if samples[i-1].Key().Compare(samples[i].Key()) > 0 {
			return 0, fmt.Errorf("record %d out of order", i)
		}
	}

	info, err := os.Stat(report.Artifact)
	if err != nil {
		return 0, err
	}
	if info.Size() != report.Compressed {
		return 0, fmt.Errorf("artifact is %d bytes, report says %d", info.Size(), report.Compressed)
	}

	runs, err := storage.LoadRuns(filepath.Dir(report.Artifact))
	if err != nil {
		return 0, err
	}
	if len(runs) == 0 {
		return 0, errors.New("run ledger is empty")
	}
	last := runs[len(runs)-1]
	switch {
	case last.RunID != report.RunID:
		return 0, fmt.Errorf("newest ledger entry is run %s, want %s", last.RunID, report.RunID)
	case last.ValidLines != int64(len(samples)):
		return 0, fmt.Errorf("ledger records %d valid lines, artifact holds %d", last.ValidLines, len(samples))
	case last.Compressed != info.Size():
		return 0, fmt.Errorf("ledger records %d compressed bytes, artifact is %d", last.Compressed, info.Size())
	}
	return len(samples), nil
}
