// Package engine provides the task model and scheduler at the heart of the
// puppet deployment workflow.
//
// # Overview
//
// A deployment run is expressed as a forest of tasks. Each task declares:
//
//   - an Identity: its kind plus the ordered set of significant parameters.
//     Two tasks with equal identity are the same unit of work and are
//     deduplicated when the graph is built.
//   - static requirements via Requires(), which must all complete before the
//     task runs.
//   - an optional set of follow-up tasks returned from Run(). Follow-ups are
//     dependencies the task could only discover after reading an upstream
//     result; the scheduler completes them and then invokes Run() again.
//
// # Caching and idempotence
//
// A task's output, once written, is immutable for its (identity, cache
// invalidator) pair. Before running a task the scheduler consults the
// OutputStore; a hit short-circuits execution entirely, so re-running an
// unchanged manifest issues no remote calls. Dry-run tasks bypass the store
// and write their reports to a file-addressed results directory instead,
// since a dry-run report is never a dependency input.
//
// # Scheduling model
//
// The scheduler executes ready tasks (in-degree zero) on a bounded worker
// pool. When the pool is saturated, ready tasks with a higher requested
// priority are preferred. A failed task does not stop the run: its
// transitive dependents are skipped and unrelated branches proceed,
// giving partial-success semantics. The run reports succeeded, cached,
// failed and skipped tasks separately.
//
// # Error classification
//
// Errors carry a class used by retry and reporting logic:
//
//   - Configuration: a manifest or graph contract violation, raised before
//     any remote call and never retried.
//   - Transient: the known storage permission race on describe calls,
//     retried a bounded number of times with fixed backoff.
//   - StateConflict: live infrastructure in an unexpected status that
//     requires operator attention; never silently overwritten.
//   - Permanent: everything else, propagated unmodified.
package engine
