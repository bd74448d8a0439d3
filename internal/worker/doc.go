// Package worker spawns the external agent executable once per message and turns
// its termination into a Result.
//
// Each Invoke starts a fresh process with argv [args..., conversationID, text].
// No shell is involved and processes are never pooled or reused.
//
// Output handling:
//   - stdout and stderr are captured into separate capped buffers while the process runs
//   - exit 0 yields Success with trimmed stdout, or the configured placeholder when empty
//   - a non-zero exit yields Failure carrying stderr, or "Agent failed" when stderr is blank
//
// Timeout handling:
//   - when the per-call timeout expires, SIGTERM is sent to the agent's process group
//   - after the kill grace period SIGKILL follows if anything is still running
//   - the result is Failure with status timed_out and reason "timeout"
//   - cancelling the caller's context (shutdown) runs the same sequence with status cancelled
//
// Spawn errors (missing executable, permission denied) yield status spawn_failed.
// Invoke never returns before the process has been reaped.
package worker
