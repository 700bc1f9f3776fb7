package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/saumyakr1232/can-msg-visualizer/cache"
	"github.com/saumyakr1232/can-msg-visualizer/cli/render"
	"github.com/saumyakr1232/can-msg-visualizer/config"
	"github.com/saumyakr1232/can-msg-visualizer/dict"
	"github.com/saumyakr1232/can-msg-visualizer/dispatch"
	"github.com/saumyakr1232/can-msg-visualizer/log"
	"github.com/saumyakr1232/can-msg-visualizer/metrics"
	"github.com/saumyakr1232/can-msg-visualizer/store"
	"github.com/saumyakr1232/can-msg-visualizer/stream"
	"github.com/saumyakr1232/can-msg-visualizer/types"
)

// Exit codes for the run command.
const (
	exitSuccess   = 0
	exitFailure   = 1
	exitCancelled = 2
)

// exportConsumerID is the reliable subscription used by --export.
const exportConsumerID = "csv-export"

// RunSummary is the terminal summary of a run.
type RunSummary struct {
	RunID             string  `json:"run_id"`
	State             string  `json:"state"`
	FromCache         bool    `json:"from_cache"`
	Frames            int64   `json:"frames"`
	Samples           int64   `json:"samples"`
	DecodeFailures    int64   `json:"decode_failures"`
	MalformedRecords  int64   `json:"malformed_records"`
	OutOfOrderDropped int64   `json:"out_of_order_dropped"`
	UnknownFrames     int64   `json:"unknown_frames"`
	SamplesDropped    int64   `json:"samples_dropped"`
	Signals           int     `json:"signals"`
	Elapsed           string  `json:"elapsed"`
	SamplesPerSecond  float64 `json:"samples_per_second"`
	Error             string  `json:"error,omitempty"`
}

// RunCommand returns the run command: decode one trace end-to-end.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Decode a trace file (replaying from cache when possible)",
		ArgsUsage: "<trace-file>",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
			CacheDirFlag,
			&cli.StringFlag{
				Name:    "dict",
				Aliases: []string{"d"},
				Usage:   "Path to signal dictionary (YAML)",
			},
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "Skip cache lookup and write",
			},
			&cli.IntFlag{
				Name:  "reorder-window",
				Usage: "Out-of-order lookahead window, in frames",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Samples per published batch",
			},
			&cli.StringFlag{
				Name:  "export",
				Usage: "Write decoded samples to a CSV file",
			},
			&cli.BoolFlag{
				Name:  "plot",
				Usage: "Print a sparkline per signal after the run",
			},
			&cli.IntFlag{
				Name:  "plot-points",
				Usage: "Maximum points per sparkline",
				Value: 60,
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress run logs and progress output",
			},
		),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	tracePath := c.Args().First()
	if tracePath == "" {
		return cli.Exit("usage: canstream run [options] <trace-file>", exitFailure)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	applyRunFlags(c, cfg)

	dictPath := c.String("dict")
	if dictPath == "" {
		dictPath = cfg.Dictionary
	}
	if dictPath == "" {
		return cli.Exit("a signal dictionary is required (--dict or config)", exitFailure)
	}
	d, err := dict.LoadYAML(dictPath)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	var cacheStore *cache.Store
	if !cfg.Cache.Disabled {
		dir, err := resolveCacheDir(c, cfg)
		if err != nil {
			return cli.Exit(err.Error(), exitFailure)
		}
		cacheStore, err = cache.NewStore(dir)
		if err != nil {
			return cli.Exit(err.Error(), exitFailure)
		}
	}

	disp := dispatch.NewDispatcher()
	disp.SetPublishWait(cfg.Dispatch.PublishWait.Duration, cfg.Dispatch.PollInterval.Duration)
	defer disp.CloseAll()

	var export *csvExporter
	if path := c.String("export"); path != "" {
		export, err = newCSVExporter(path, disp, cfg.Dispatch.Capacity, cfg.Dispatch.PollInterval.Duration)
		if err != nil {
			return cli.Exit(err.Error(), exitFailure)
		}
	}

	quiet := c.Bool("quiet")
	samples := store.NewStore()
	collector := metrics.NewCollector("", tracePath)

	runCfg := stream.RunConfig{
		TracePath:        tracePath,
		Dict:             d,
		Cache:            cacheStore,
		Dispatcher:       disp,
		Store:            samples,
		Collector:        collector,
		BatchSize:        cfg.Stream.BatchSize,
		ReorderWindow:    cfg.Source.ReorderWindow,
		ProgressInterval: cfg.Stream.ProgressInterval.Duration,
	}
	if quiet {
		runCfg.Logger = log.NewNop()
	} else {
		runCfg.OnProgress = printProgress
	}

	coord := stream.NewCoordinator()
	runID, err := coord.Start(context.Background(), runCfg)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	// SIGINT/SIGTERM request cooperative cancellation; the run still
	// winds down cleanly and reports Cancelled.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			_ = coord.Cancel()
		}
	}()

	if export != nil {
		export.start()
	}

	final := coord.Wait()
	if !quiet {
		fmt.Fprintln(os.Stderr)
	}

	if export != nil {
		if err := export.finish(); err != nil && final.Err == nil {
			final.Err = err
		}
	}

	snap := collector.Snapshot()
	summary := RunSummary{
		RunID:             runID,
		State:             string(final.State),
		FromCache:         final.FromCache,
		Frames:            final.FramesProcessed,
		Samples:           final.SamplesDecoded,
		DecodeFailures:    final.DecodeFailures,
		MalformedRecords:  snap.MalformedRecords,
		OutOfOrderDropped: snap.OutOfOrderDropped,
		UnknownFrames:     snap.UnknownFrames,
		SamplesDropped:    snap.SamplesDropped,
		Signals:           len(samples.SignalNames()),
		Elapsed:           final.Elapsed.Round(time.Millisecond).String(),
		SamplesPerSecond:  final.DecodeRate(),
	}
	if final.Err != nil {
		summary.Error = final.Err.Error()
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	if err := r.Render(summary); err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	if c.Bool("plot") && final.State == types.RunCompleted {
		printSparklines(samples, c.Int("plot-points"), c.Bool("no-color"))
	}

	switch final.State {
	case types.RunCompleted:
		return nil
	case types.RunCancelled:
		return cli.Exit("", exitCancelled)
	default:
		return cli.Exit("", exitFailure)
	}
}

// applyRunFlags overlays CLI flags onto the loaded config.
func applyRunFlags(c *cli.Context, cfg *config.Config) {
	if c.Bool("no-cache") {
		cfg.Cache.Disabled = true
	}
	if w := c.Int("reorder-window"); w > 0 {
		cfg.Source.ReorderWindow = w
	}
	if b := c.Int("batch-size"); b > 0 {
		cfg.Stream.BatchSize = b
	}
}

// printProgress writes a single-line progress update to stderr.
func printProgress(p types.Progress) {
	fmt.Fprintf(os.Stderr, "\r%d frames, %d samples (%.0f/s)   ",
		p.FramesProcessed, p.SamplesDecoded, p.DecodeRate())
}

// csvExporter drains a reliable subscription into a CSV file while the
// run is in flight.
type csvExporter struct {
	disp *dispatch.Dispatcher
	poll time.Duration

	f    *os.File
	w    *csv.Writer
	stop chan struct{}
	done chan error
}

func newCSVExporter(path string, disp *dispatch.Dispatcher, capacity int, poll time.Duration) (*csvExporter, error) {
	if err := disp.Subscribe(exportConsumerID, dispatch.ModeReliable, capacity); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp", "message", "signal", "raw", "physical", "enum", "unit"}); err != nil {
		f.Close()
		return nil, err
	}
	return &csvExporter{
		disp: disp,
		poll: poll,
		f:    f,
		w:    w,
		stop: make(chan struct{}),
		done: make(chan error, 1),
	}, nil
}

func (e *csvExporter) start() {
	go func() {
		e.done <- e.loop()
	}()
}

func (e *csvExporter) loop() error {
	stopping := false
	for {
		batches, _, err := e.disp.Pull(exportConsumerID)
		if err != nil {
			return err
		}
		for _, batch := range batches {
			for i := range batch {
				if err := e.writeSample(&batch[i]); err != nil {
					return err
				}
			}
		}
		if stopping && len(batches) == 0 {
			return nil
		}

		select {
		case <-e.stop:
			// One more drain pass after the run ends.
			stopping = true
		case <-time.After(e.poll):
		}
	}
}

func (e *csvExporter) writeSample(s *types.DecodedSample) error {
	return e.w.Write([]string{
		strconv.FormatFloat(s.Timestamp, 'f', 6, 64),
		s.MessageName,
		s.SignalName,
		strconv.FormatInt(s.Raw, 10),
		strconv.FormatFloat(s.Physical, 'g', -1, 64),
		s.EnumLabel,
		s.Unit,
	})
}

// finish stops the drain loop, flushes, and closes the file.
func (e *csvExporter) finish() error {
	close(e.stop)
	loopErr := <-e.done
	e.w.Flush()
	flushErr := e.w.Error()
	closeErr := e.f.Close()
	_ = e.disp.Unsubscribe(exportConsumerID)

	if loopErr != nil {
		return fmt.Errorf("export: %w", loopErr)
	}
	if flushErr != nil {
		return fmt.Errorf("export: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("export: %w", closeErr)
	}
	return nil
}
