// Package cloud defines the narrow client interfaces the workflow tasks use
// to reach cloud services, plus the error shapes and retry behavior shared
// by every remote call.
//
// Tasks never hold a concrete SDK client. They ask a Factory for a client
// scoped to one (account, region) target and speak to it through the
// interfaces here. This keeps cross-account credential handling in one
// place and makes every task testable against in-memory fakes.
//
// Remote failures are classified at this boundary: permission errors on
// the task output bucket become StoragePermissionError and are retried a
// fixed number of times, missing records become NotFoundError, and
// everything else passes through for the engine's task-level retry to
// judge by class.
package cloud
