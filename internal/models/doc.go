// Package models defines domain entities and persistence interfaces for the postmate publishing service.
//
// Persistent entities:
//   - [Account] : Platform identity with credentials, activity flags and the mirrored session blob
//   - [Proxy] : Network proxy an account can be routed through
//   - [Task] : A photo, video or carousel publish with a tracked [TaskStatus]
//
// Task status moves pending -> processing -> completed | failed. [CanTransition] is the single
// source of truth for legal moves; an operator may reset failed back to pending.
//
// All persistent entities implement the [Model] interface. The [Repository] interface defines
// standard CRUD operations for database access.
package models
