// Package stores provides SQLite-backed persistence for the provisioning
// engine: the task output cache that makes repeated runs idempotent, and
// the run journal recording every run and task outcome.
//
// The output cache is append-only. A row is keyed by (identity_key,
// invalidator) and never rewritten, so a cached output observed once is
// observed identically by every later run until the invalidator changes.
package stores
