package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/asyncworker"
	"github.com/aretw0/asyncworker/internal/supervisor"
	httpAdapter "github.com/aretw0/asyncworker/pkg/adapters/http"
	"github.com/aretw0/asyncworker/pkg/lifecycle"
)

const shutdownGrace = 5 * time.Second

// RunListen performs one listen invocation and reports how it ended.
// Every outcome is a normal exit; only infrastructure failures are errors.
func RunListen(ctx context.Context, w *asyncworker.Worker, runnerID string, out io.Writer) error {
	res, err := w.Listen(ctx, runnerID)
	if err != nil {
		return err
	}
	printSystemMessage(out, "%s: %s, %s (%d iterations, %d jobs)",
		runnerID, res.Outcome, DescribeOutcome(res.Outcome), res.Iterations, res.Executed)
	return nil
}

// RunSupervise keeps the configured runners listening until ctx is cancelled.
// With once set, every runner is started a single time and the call waits for them.
func RunSupervise(ctx context.Context, w *asyncworker.Worker, logger *slog.Logger, once bool) error {
	sup, err := supervisor.New(w.Config.Supervisor.Schedule, w.Config.Supervisor.Runners, w,
		supervisor.WithLogger(logger),
		supervisor.WithRegisterer(w.Gatherer),
	)
	if err != nil {
		return err
	}
	if once {
		return sup.RunOnce(ctx)
	}
	logger.Info("supervisor started", "runners", w.Config.Supervisor.Runners, "next_run", sup.NextRun())
	return sup.Run(ctx)
}

// RunServe serves the status API on addr until ctx is cancelled.
// With supervise set, the configured runners are kept listening in the same process
// and their transitions are streamed on /events.
func RunServe(ctx context.Context, w *asyncworker.Worker, logger *slog.Logger, addr string, supervise bool, out io.Writer) error {
	server := httpAdapter.NewServer(w.Operator, w.Queue,
		httpAdapter.WithGatherer(w.Gatherer),
		httpAdapter.WithVersion(asyncworker.Version),
		httpAdapter.WithLogger(logger),
	)
	w.AddHooks(server.Hooks())

	srv := &http.Server{
		Addr:    addr,
		Handler: server.Handler(),
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		printSystemMessage(out, "Serving status API on %s", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	supErrors := make(chan error, 1)
	if supervise {
		go func() {
			supErrors <- RunSupervise(ctx, w, logger, false)
		}()
	}

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case err := <-supErrors:
		shutdown(srv, logger)
		return err
	case <-ctx.Done():
		shutdown(srv, logger)
		if supervise {
			return <-supErrors
		}
		return nil
	}
}

func shutdown(srv *http.Server, logger *slog.Logger) {
	// Give outstanding requests a deadline for completion.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown did not complete", "timeout", shutdownGrace, "error", err)
		if err := srv.Close(); err != nil {
			logger.Error("error killing server", "error", err)
		}
	}
}

// DescribeOutcome explains an outcome to an operator.
func DescribeOutcome(o lifecycle.Outcome) string {
	switch o {
	case lifecycle.OutcomePlannedStop:
		return "window ended, runner released"
	case lifecycle.OutcomeTransportUnavailable:
		return "queue backend unreachable, nothing changed"
	case lifecycle.OutcomeTimedOut:
		return "previous holder presumed dead, runner marked timed out"
	case lifecycle.OutcomeStuck:
		return "runner is timed out and needs a manual reset"
	case lifecycle.OutcomeAlreadyListening:
		return "another process holds the runner"
	case lifecycle.OutcomeShutdown:
		return "shutdown requested, runner released"
	case lifecycle.OutcomeInterrupted:
		return "interrupted, runner released"
	case lifecycle.OutcomeSuperseded:
		return "runner was taken over while listening"
	default:
		return "unknown outcome"
	}
}
