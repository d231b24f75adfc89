// Package workflow turns a validated manifest into the task graph the
// engine executes, and implements the per-target tasks themselves.
//
// Fan-out follows a four-tier shape. Each section item gets a group task,
// which fans out through account, region and account-and-region groups to
// the innermost item tasks, one per concrete (account, region) target.
// Only the innermost tier performs remote work; the outer tiers exist so
// cross-item depends_on edges bind whole items.
//
// The provision task is a state machine deciding, per target, between
// NO_CHANGE, update (direct or plan-based) and a fresh provision, with a
// terminate-first pre-check for stuck resources and a stack health gate
// before any mutation. Dry-run twins classify the same way without ever
// calling a mutating client method.
package workflow
