// Package tasks advances publish tasks through their lifecycle with progress reporting.
//
// # Execution
//
// [Executor.Run] takes one task id and:
//
//  1. Loads the task and refuses anything that is not pending or not yet due.
//  2. Claims it with an atomic pending → processing update committed before any platform call.
//     Concurrent callers for the same task race on that update; exactly one wins.
//  3. Acquires the account's platform session once. Failure ends the task as failed with the error category text.
//  4. Publishes the media. A platform error is stored verbatim as the task's error message.
//  5. Records the media id and marks the task completed.
//
// There are no internal retries. A failed task only runs again after an explicit reset.
//
// # Progress Reporting
//
// [Executor.RunWithProgress] sends [ProgressUpdate] values on an optional channel.
// Updates use select with default so a slow reader never blocks execution.
//
// # Scheduling
//
// [Poller] scans for due tasks on an interval and runs them on a bounded worker pool,
// never more than one task per account at a time. [SweepValidity] re-validates accounts
// with the same bounded concurrency.
package tasks
