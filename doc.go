/*
Package asyncworker keeps a fleet of named job runners alive without a resident supervisor.

Each runner id has a durable health record. A short-lived "listen" invocation, usually
started by cron or by the bundled supervisor, claims the record, polls the job queue for
a bounded and jittered window, and hands the slot back. A process that crashes leaves its
record listening past the deadline; the next invocation sees that and either resets the
runner (autorecover) or marks it timed out and raises an alert for an operator.

# Usage

	cfg, err := config.Load("asyncworker.yaml")
	if err != nil {
		log.Fatal(err)
	}

	w, err := asyncworker.Open(cfg, asyncworker.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	defer w.Close()

	res, err := w.Listen(ctx, "worker-1")

The packages under pkg/ can also be wired by hand: pkg/lifecycle holds the controller,
pkg/ports the interfaces it drives, and pkg/adapters the memory, file, Redis and process
implementations.
*/
package asyncworker
