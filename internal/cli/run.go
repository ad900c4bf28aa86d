package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/iambrandonn/eswgpio/internal/board"
	"github.com/iambrandonn/eswgpio/internal/config"
	"github.com/iambrandonn/eswgpio/internal/eventlog"
	"github.com/iambrandonn/eswgpio/internal/runstate"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bring up the simulated board and run the firmware",
	Long: `Bring up the simulated board and run the firmware. Button presses can
be scripted with --presses/--press-interval, fed interactively (--interactive,
one press per input line), or omitted to let the buzzers run until interrupted.`,
	RunE: runRun,
}

func init() {
	// Persistent on the root so the flags also work when bare 'eswgpio'
	// falls through to run.
	rootCmd.PersistentFlags().Int("presses", 0, "Number of scripted button presses")
	rootCmd.PersistentFlags().Duration("press-interval", 2*time.Second, "Delay between scripted presses")
	rootCmd.PersistentFlags().Duration("duration", 0, "Stop after this long (default: run until interrupted)")
	rootCmd.PersistentFlags().Bool("interactive", false, "Read stdin; each line is one button press")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	outWriter := cmd.OutOrStdout()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, cfgPath, err := loadOrCreateConfig(configPath, logger)
	if err != nil {
		return err
	}
	logger.Info("loaded configuration", "path", cfgPath)

	// Event journal is optional; the firmware runs the same without it.
	var events *eventlog.Log
	if cfg.EventLogPath != "" {
		events, err = eventlog.New(cfg.EventLogPath, logger)
		if err != nil {
			return fmt.Errorf("failed to open event log: %w", err)
		}
		defer events.Close()
		logger.Info("event log opened", "path", cfg.EventLogPath)
	}

	b, err := board.Bringup(cfg, logger, events)
	if err != nil {
		return err
	}

	state := runstate.New(board.Version)
	statePath := runstate.Path(filepath.Join(filepath.Dir(cfgPath), "state"))

	var pressCount atomic.Int64
	press := func() error {
		if err := b.Press(); err != nil {
			return err
		}
		pressCount.Add(1)
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	duration, err := cmd.Flags().GetDuration("duration")
	if err != nil {
		return err
	}
	if duration > 0 {
		var dcancel context.CancelFunc
		ctx, dcancel = context.WithTimeout(ctx, duration)
		defer dcancel()
	}

	// Boot precondition: a refused kernel start is fatal (reported via
	// the returned error, process exits).
	if err := b.Start(); err != nil {
		return err
	}

	interactive, err := cmd.Flags().GetBool("interactive")
	if err != nil {
		return err
	}
	presses, err := cmd.Flags().GetInt("presses")
	if err != nil {
		return err
	}
	pressInterval, err := cmd.Flags().GetDuration("press-interval")
	if err != nil {
		return err
	}

	switch {
	case interactive:
		fmt.Fprintln(outWriter, "Press Enter to push the button (Ctrl-C to quit).")
		go readPresses(ctx, cmd, press, logger)
	case presses > 0:
		go scriptPresses(ctx, cancel, press, logger, presses, pressInterval, duration)
	}

	<-ctx.Done()

	state.Presses = int(pressCount.Load())
	state.MarkCompleted(b.Controller().State().String(), b.ToggleCounts())
	if err := runstate.Save(state, statePath); err != nil {
		logger.Warn("failed to save run state", "error", err)
	} else {
		logger.Info("run state saved", "path", statePath, "run_id", state.RunID)
	}

	printSummary(outWriter, b)
	return nil
}

// readPresses turns each input line into one button press.
func readPresses(ctx context.Context, cmd *cobra.Command, press func() error, logger *slog.Logger) {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := press(); err != nil {
			logger.Error("button press failed", "error", err)
			return
		}
	}
}

// scriptPresses fires the configured number of presses, then, if no run
// duration was given, lets the last toggle settle and stops the run.
func scriptPresses(ctx context.Context, cancel context.CancelFunc, press func() error, logger *slog.Logger, presses int, interval, duration time.Duration) {
	for i := 0; i < presses; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		logger.Info("button pressed", "press", i+1, "of", presses)
		if err := press(); err != nil {
			logger.Error("button press failed", "error", err)
			return
		}
	}
	if duration == 0 {
		select {
		case <-ctx.Done():
		case <-time.After(interval):
			cancel()
		}
	}
}

func printSummary(w io.Writer, b *board.Board) {
	fmt.Fprintf(w, "\nFinal worker group state: %s\n", b.Controller().State())
	for name, count := range b.ToggleCounts() {
		fmt.Fprintf(w, "  %s: %d output toggles\n", name, count)
	}
}

// loadOrCreateConfig finds an existing config or creates a default one
// in the current directory.
func loadOrCreateConfig(configPath string, logger *slog.Logger) (*config.Config, string, error) {
	// If explicit path provided, use it
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
		return cfg, configPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get current directory: %w", err)
	}

	foundPath, err := config.FindInTree(cwd)
	if err != nil {
		return nil, "", err
	}
	if foundPath != "" {
		logger.Info("found existing config", "path", foundPath)
		cfg, err := config.LoadFromFile(foundPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, foundPath, nil
	}

	// No config found, create default in current directory
	defaultPath := filepath.Join(cwd, config.FileName)
	logger.Info("no config found, creating default", "path", defaultPath)

	cfg := config.GenerateDefault()
	if err := cfg.SaveToFile(defaultPath); err != nil {
		return nil, "", fmt.Errorf("failed to save default config: %w", err)
	}

	return cfg, defaultPath, nil
}
