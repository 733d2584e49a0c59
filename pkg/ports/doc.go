/*
Package ports defines the driven ports (interfaces) consumed by the runner controller.

These interfaces decouple the lifecycle logic from concrete backends, so the same
controller can run against Redis, the filesystem or memory.

# Key Interfaces

  - RunnerStore / AtomicRunnerStore: read and upsert runner records, optionally with compare-and-swap.
  - Queue: the job backend (Transport, QueueMaintainer, enqueue/dequeue).
  - JobExecutor, Cleaner, Notifier: single-call collaborators invoked from the polling loop.
  - DistributedLocker: advisory locking for stores without compare-and-swap.

The contract suites (RunRunnerStoreContract, RunQueueContract) verify adapters against these interfaces.
*/
package ports
