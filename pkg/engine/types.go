package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Param is one significant parameter of a task identity. Order matters:
// identities are compared and rendered with parameters in declaration order.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Identity uniquely names a unit of work. Two tasks with equal identity are
// the same task: the graph builder deduplicates them and the output store
// caches under the identity key.
type Identity struct {
	// Kind is the task kind, e.g. "provision-product".
	Kind string `json:"kind"`

	// Params are the ordered significant parameters.
	Params []Param `json:"params,omitempty"`

	// DryRun marks tasks that classify without side effects. Dry-run
	// outputs are written to the results directory, never to the cache.
	DryRun bool `json:"dry_run,omitempty"`

	// Invalidator is the external freshness token. Cached output is only
	// reused when the invalidator matches the one it was written under.
	Invalidator string `json:"invalidator,omitempty"`
}

// NewIdentity builds an identity from alternating key/value pairs.
func NewIdentity(kind string, kv ...string) Identity {
	if len(kv)%2 != 0 {
		panic(fmt.Sprintf("engine: NewIdentity(%q) called with odd key/value count", kind))
	}
	params := make([]Param, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		params = append(params, Param{Key: kv[i], Value: kv[i+1]})
	}
	return Identity{Kind: kind, Params: params}
}

// Key returns the canonical string form of the identity, used for
// deduplication, logging and cache addressing.
func (id Identity) Key() string {
	var sb strings.Builder
	sb.WriteString(id.Kind)
	for _, p := range id.Params {
		sb.WriteString("/")
		sb.WriteString(p.Key)
		sb.WriteString("=")
		sb.WriteString(p.Value)
	}
	if id.DryRun {
		sb.WriteString("/dry-run")
	}
	return sb.String()
}

// Param returns the value of a named identity parameter, or "".
func (id Identity) Param(key string) string {
	for _, p := range id.Params {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// Result is what a successful Run produces: either a final output or a set
// of follow-up tasks discovered mid-run. When Followups is non-empty the
// scheduler completes them and calls Run again; Output is ignored for that
// invocation.
type Result struct {
	// Output is the task's final output record. It must be JSON
	// serializable and is the only state dependents can observe.
	Output json.RawMessage

	// Followups are dynamically discovered dependencies.
	Followups []Task
}

// Output builds a Result carrying a final output record.
func Output(v interface{}) (*Result, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, NewPermanentError("failed to encode task output", err).WithCode(ErrCodeInternal)
	}
	return &Result{Output: raw}, nil
}

// Followups builds a Result requesting dynamically discovered dependencies.
func Followups(tasks ...Task) *Result {
	return &Result{Followups: tasks}
}

// Task is a unit of work in the deployment graph.
type Task interface {
	// Identity returns the task's identity. It must be stable across
	// calls and cheap to compute.
	Identity() Identity

	// Requires returns the static dependencies of the task. All of them
	// complete before Run starts.
	Requires() []Task

	// Run executes the task. Inputs from completed dependencies are read
	// through the runtime. Run may be invoked more than once when it
	// returns follow-ups; it must be side-effect free until its final
	// invocation produces an output.
	Run(ctx context.Context, rt *Runtime) (*Result, error)
}

// Prioritized is implemented by tasks requesting scheduling preference when
// the worker pool is saturated. Higher values run first.
type Prioritized interface {
	Priority() int
}

// Retryable is implemented by tasks whose whole body may be retried by the
// scheduler. This is distinct from the inner remote-call retry applied at
// the cloud client boundary.
type Retryable interface {
	RetryCount() int
}

// TimeLimited is implemented by tasks with a per-attempt deadline.
type TimeLimited interface {
	WorkerTimeout() time.Duration
}

// TaskStatus is the scheduler-visible status of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting on dependencies.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusRunning indicates the task is currently executing.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusSucceeded indicates the task completed and wrote output.
	TaskStatusSucceeded TaskStatus = "succeeded"

	// TaskStatusCached indicates the task was satisfied from the output
	// store without executing.
	TaskStatusCached TaskStatus = "cached"

	// TaskStatusFailed indicates the task's Run returned an error.
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusSkipped indicates a transitive dependency failed.
	TaskStatusSkipped TaskStatus = "skipped"
)

// IsTerminal returns true if the status represents a final state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusCached ||
		s == TaskStatusFailed || s == TaskStatusSkipped
}

// TaskRecord is the persisted output of a completed task.
type TaskRecord struct {
	IdentityKey string          `json:"identity_key"`
	Invalidator string          `json:"invalidator"`
	Kind        string          `json:"kind"`
	Output      json.RawMessage `json:"output"`
	CreatedAt   time.Time       `json:"created_at"`
}

// OutputStore persists task outputs keyed by (identity, invalidator).
// A written record is immutable: Put for an existing key is a no-op so
// concurrent writers and repeated runs cannot change observed outputs.
type OutputStore interface {
	// GetOutput returns the cached output for the key, if present.
	GetOutput(ctx context.Context, identityKey, invalidator string) (json.RawMessage, bool, error)

	// PutOutput persists a task output. Writing an existing
	// (identity, invalidator) pair must leave the stored record unchanged.
	PutOutput(ctx context.Context, record TaskRecord) error
}

// TaskReport is the per-task outcome included in a run report.
type TaskReport struct {
	IdentityKey string        `json:"identity_key"`
	Kind        string        `json:"kind"`
	Params      []Param       `json:"params,omitempty"`
	Status      TaskStatus    `json:"status"`
	Error       string        `json:"error,omitempty"`
	Attempts    int           `json:"attempts,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`

	// Output is the task's final output, carried so callers can render
	// dry-run diffs without consulting the output store.
	Output json.RawMessage `json:"output,omitempty"`
}

// RunReport summarizes a scheduler run. Failed and skipped units are
// reported separately from successful ones so operators can see exactly
// which (item, account, region) units need attention.
type RunReport struct {
	RunID       string       `json:"run_id"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	Succeeded   []TaskReport `json:"succeeded,omitempty"`
	Cached      []TaskReport `json:"cached,omitempty"`
	Failed      []TaskReport `json:"failed,omitempty"`
	Skipped     []TaskReport `json:"skipped,omitempty"`
}

// HasFailures returns true if any task failed or was skipped.
func (r *RunReport) HasFailures() bool {
	return len(r.Failed) > 0 || len(r.Skipped) > 0
}
