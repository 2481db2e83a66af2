// Package bridge runs the jsoon calendar worker on behalf of a caller and
// turns its output into structured records.
//
// One invocation is one worker process:
//
//  1. Options are resolved to their effective values (defaults, clamping).
//  2. The worker binary is checked for existence before anything is written.
//  3. A config artifact is materialized in the scratch directory. URL lists
//     travel inside the artifact; raw calendar text never does, it is piped
//     to the worker's stdin instead.
//  4. The worker runs as `<worker> -f stdout -u N -l N [-t T] -c <artifact>`.
//     In URL mode stdin is /dev/null so the worker never waits for input.
//  5. stdout is interpreted leniently (see Interpret); stderr becomes logs.
//  6. The artifact is deleted on every path.
//
// Deadlines:
//   - Each run is bounded by Config.Timeout (0 disables).
//   - On expiry or context cancellation the worker gets SIGTERM, then
//     SIGKILL after Config.TerminationGrace.
//
// Failures are reported as *Error values tagged with a Kind. Nothing is
// retried here; retry policy belongs to the caller.
package bridge
