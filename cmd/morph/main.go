package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"

	"prompt-morph/internal/app"
	"prompt-morph/internal/config"
	"prompt-morph/internal/keyframe"
	"prompt-morph/internal/morph"
	"prompt-morph/internal/output"
	"prompt-morph/internal/runs"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("morph", flag.ContinueOnError)
	flags, set, err := parseFlags(fs, args)
	if err != nil {
		return 2
	}

	cfg, err := loadConfig(flags, set)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}

	logger := app.NewLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	seq, err := readSequence(flags.prompts, flags.negatives, cfg.Generation.NegativePrompt)
	if err != nil {
		logger.Error("failed to read keyframes", "error", err)
		return 1
	}

	processor := app.NewProcessor(cfg)
	backend, err := app.NewBackend(cfg, processor, logger)
	if err != nil {
		logger.Error("failed to create backend", "error", err)
		return 1
	}

	if err := app.CheckBackend(context.Background(), backend); err != nil {
		logger.Error("backend unreachable", "backend", cfg.Backend, "error", err)
		return 1
	}

	runStore, err := runs.NewSQLiteStore(cfg.Store.RunsPath)
	if err != nil {
		logger.Error("failed to open run ledger", "error", err)
		return 1
	}
	defer runStore.Close()

	opts := cfg.MorphOptions()
	layout := output.NewLayout(cfg.Output.Dir, runStore, processor, logger)
	dir, err := layout.Begin(runs.Run{
		Mode:      opts.Mode,
		Keyframes: seq.Len(),
		Summary:   seq.Summary(),
	})
	if err != nil {
		logger.Error("failed to allocate run", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := &morph.Interrupt{}
	stopSignals := handleSignals(ctx, interrupt, backend, cancel, logger)
	defer stopSignals()

	jobs := morph.JobCount(seq.Len(), opts.Steps)
	bar := progressbar.Default(int64(jobs), "morphing")

	result, runErr := app.NewRunner(cfg, backend, logger).Run(ctx, morph.Request{
		Sequence:  seq,
		Options:   opts,
		Interrupt: interrupt,
		Observer:  &barObserver{bar: bar},
		Sink:      dir,
	})
	bar.Finish()

	if err := layout.End(dir, result, runErr); err != nil {
		logger.Error("failed to record run", "error", err)
	}

	if result != nil {
		fmt.Printf("\nrun %05d: %d of %d images in %s\n", dir.Number, len(result.Frames), jobs, dir.Dir)
		if result.Grid != nil {
			fmt.Printf("grid: %s\n", dir.GridPath())
		}
		if result.VideoPath != "" {
			fmt.Printf("video: %s\n", result.VideoPath)
		}
		if result.Interrupted {
			fmt.Println("interrupted")
		}
	}
	if runErr != nil {
		logger.Error("morph failed", "error", runErr)
		return 1
	}
	return 0
}

// loadConfig validates once the command line overrides are in place
func loadConfig(flags *cliFlags, set map[string]bool) (*config.Config, error) {
	cfg, err := config.Read(flags.configPath)
	if err != nil {
		return nil, err
	}
	flags.apply(cfg, set)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate options: %w", err)
	}
	return cfg, nil
}

func readSequence(promptsPath, negativesPath, fallback string) (*keyframe.Sequence, error) {
	if promptsPath == "" {
		return nil, fmt.Errorf("-prompts is required")
	}
	prompts, err := readInput(promptsPath)
	if err != nil {
		return nil, err
	}

	var negatives string
	if negativesPath != "" {
		negatives, err = readInput(negativesPath)
		if err != nil {
			return nil, err
		}
	}

	return keyframe.Parse(prompts, negatives, fallback)
}

// readInput reads a file, or stdin for "-"
func readInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// handleSignals interrupts the run on the first signal and cancels it on the
// second.
func handleSignals(ctx context.Context, interrupt *morph.Interrupt, backend app.Backend, cancel context.CancelFunc, logger *slog.Logger) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		logger.Warn("interrupting after the current image, signal again to abort")
		interrupt.Signal()
		if err := backend.Interrupt(ctx); err != nil {
			logger.Debug("backend interrupt failed", "error", err)
		}

		select {
		case <-sigCh:
			logger.Warn("aborting")
			cancel()
		case <-ctx.Done():
		}
	}()

	return func() { signal.Stop(sigCh) }
}

type barObserver struct {
	bar *progressbar.ProgressBar
}

func (o *barObserver) OnStep(ev morph.StepEvent) {
	o.bar.Describe(stepLabel(ev))
}

func (o *barObserver) OnProgress(ev morph.StepEvent, current, total int) {
	o.bar.Describe(fmt.Sprintf("%s %d/%d", stepLabel(ev), current, total))
}

func stepLabel(ev morph.StepEvent) string {
	return fmt.Sprintf("segment %d/%d t=%.2f", ev.Segment, ev.Segments, ev.Params.T)
}

func (o *barObserver) OnImage(int, morph.Frame) {
	o.bar.Add(1)
}
