// Command gen-records writes a deterministic synthetic replay session as
// JSONL, suitable for piping into the pipeline binary.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/replaymetrics/pivot/internal/replaygen"
	"github.com/replaymetrics/pivot/pkg/logger"
)

// Default session shape.
const (
	defaultTicks   = 3000
	defaultClients = 12
	defaultBots    = 0
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		seed        = flag.Int64("seed", time.Now().UnixNano(), "Random seed; reusing a seed reproduces the session")
		ticks       = flag.Int("ticks", defaultTicks, "Number of ticks to generate")
		clients     = flag.Int("clients", defaultClients, "Number of client entities")
		bots        = flag.Int("bots", defaultBots, "Number of clients tagged with bot account IDs")
		lostRate    = flag.Float64("lost-destroys", 0, "Fraction of projectile destroys to drop (0..1)")
		outputFile  = flag.String("output", "-", "Output file; \"-\" writes stdout")
		logLevelStr = flag.String("log-level", "warn", "Log verbosity: debug, info, warn, error")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	if err := logger.SetLevelString(*logLevelStr); err != nil {
		_ = logger.SetLevelString("warn")
	}
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := openOutput(*outputFile)
	if err != nil {
		log.Error(ctx, "failed to open output", logger.String("output", *outputFile), logger.Error(err))
		return 1
	}
	defer out.Close()

	buf := bufio.NewWriter(out)
	gen := replaygen.New(replaygen.Config{
		Seed:            *seed,
		Ticks:           *ticks,
		Clients:         *clients,
		Bots:            *bots,
		LostDestroyRate: *lostRate,
	})

	written, err := gen.Write(ctx, buf)
	if err != nil {
		log.Error(ctx, "generation failed", logger.Error(err))
		return 1
	}
	if err := buf.Flush(); err != nil {
		log.Error(ctx, "flushing output failed", logger.Error(err))
		return 1
	}

	log.Info(ctx, "session written",
		logger.Int64("seed", *seed),
		logger.Int("records", written),
		logger.String("output", *outputFile),
	)
	return 0
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
