/*
Package lifecycle implements the runner controller: the supervisory logic that lets a fleet
of independent worker processes poll a shared job queue, detect crashed peers, and stop
cooperatively without process signals.

# Invocation

Each call to Controller.Listen is one invocation for one runner id:

 1. Preflight: the ordered PreflightGuards (transport, deadline, listening, shutdown) decide
    whether the invocation proceeds. Every abort is a bounded state transition or a no-op,
    so the caller can simply invoke Listen again later.
 2. Claim: the runner enters the listening state with a jittered window and a deadline
    (see package window). With an AtomicRunnerStore or a DistributedLocker the claim is
    atomic; otherwise two invocations racing on the same id may both run.
 3. Loop: until the window ends, execute at most one job, clean up after it, re-check the
    operator shutdown flag, and advance the queues.
 4. Stop: count the stop and reset the runner to idle.

# Shutdown

Operators request a stop with Operator.RequestShutdown. The flag is observed before the loop
and once per iteration, so a running loop stops within one iteration.
*/
package lifecycle
