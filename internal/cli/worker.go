package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aretw0/asyncworker"
	"github.com/aretw0/asyncworker/internal/logging"
	"github.com/aretw0/asyncworker/pkg/config"
)

// RunOptions are the flags shared by the commands that open a worker.
type RunOptions struct {
	ConfigPath string
	Passthru   bool
	Debug      bool

	// Out receives job output and notices in passthru mode. Defaults to os.Stdout.
	Out io.Writer
}

// OpenWorker loads the configuration and wires a worker from it.
func OpenWorker(opts RunOptions) (*asyncworker.Worker, *slog.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Logging.Level
	if opts.Debug {
		level = "debug"
	}
	logger, err := logging.FromConfig(level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}

	workerOpts := []asyncworker.Option{asyncworker.WithLogger(logger)}
	if opts.Passthru {
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		workerOpts = append(workerOpts, asyncworker.WithPassthru(out))
	}

	w, err := asyncworker.Open(cfg, workerOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("error initializing worker: %w", err)
	}
	return w, logger, nil
}

// printSystemMessage prints a standardized system message.
func printSystemMessage(out io.Writer, format string, args ...any) {
	fmt.Fprintf(out, ">>> %s\n", fmt.Sprintf(format, args...))
}
