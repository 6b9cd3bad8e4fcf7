// Package repositories implements SQLite persistence for all domain entities on top of sqlx.
//
// Each repository handles CRUD operations with atomic sequence generation for human-readable ordering.
// Every multi-statement operation runs in a transaction scoped to the call and rolled back on error.
//
// Key Implementations:
//   - [AccountRepository] : Accounts with unique usernames, bulk create with a partitioned [BulkResult],
//     cascade delete of owned tasks, and the mirrored session blob
//   - [ProxyRepository] : Proxies; deletion unlinks accounts in the same transaction
//   - [TaskRepository] : Tasks with compare-and-set status transitions ([TaskRepository.Claim],
//     [TaskRepository.Complete], [TaskRepository.Fail], [TaskRepository.Reset])
//
// Sequence numbers provide stable, human-readable ordering (e.g., account #42, task #15) independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
