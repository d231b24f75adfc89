package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RobBrazier/aws-service-catalog-puppet/pkg/telemetry"
)

// SchedulerConfig contains the settings for a scheduler run.
type SchedulerConfig struct {
	// Parallelism is the number of concurrent workers. Defaults to 10,
	// matching the bound senior operators expect from deployment tooling.
	Parallelism int

	// DefaultTimeout bounds a single task attempt when the task itself
	// does not implement TimeLimited. Zero means no limit.
	DefaultTimeout time.Duration

	// RunID identifies the run in logs, traces and the run journal.
	// Generated when empty.
	RunID string
}

// Scheduler executes a task graph with bounded parallelism. It owns the
// complete lifecycle of a run: graph construction, cache lookups, dynamic
// follow-up wiring, retries, and the final run report.
type Scheduler struct {
	config  SchedulerConfig
	store   OutputStore
	journal RunJournal
	tel     *telemetry.Telemetry
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// RunJournal receives run lifecycle records for auditing. Implementations
// must tolerate being called from multiple goroutines.
type RunJournal interface {
	RunStarted(ctx context.Context, runID string, startedAt time.Time, taskCount int) error
	TaskCompleted(ctx context.Context, runID string, report TaskReport) error
	RunCompleted(ctx context.Context, report *RunReport) error
}

// NewScheduler creates a scheduler. The output store may be nil, which
// disables caching. The journal may be nil, which disables run auditing.
func NewScheduler(cfg SchedulerConfig, store OutputStore, journal RunJournal, tel *telemetry.Telemetry) *Scheduler {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 10
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	s := &Scheduler{
		config:  cfg,
		store:   store,
		journal: journal,
	}
	if tel != nil {
		s.tel = tel
		s.logger = tel.Logger.NewComponentLogger("scheduler").WithRunID(cfg.RunID)
		s.metrics = tel.Metrics
		s.tracer = tel.Tracer
	} else {
		logger, _ := telemetry.NewLogger(telemetry.DefaultConfig().Logging)
		s.logger = logger.NewComponentLogger("scheduler").WithRunID(cfg.RunID)
	}
	return s
}

// Runtime is the per-run handle passed to Task.Run. It provides access to
// completed dependency outputs and to run-scoped telemetry.
type Runtime struct {
	runID  string
	logger *telemetry.Logger

	mu      sync.RWMutex
	outputs map[string]json.RawMessage
}

// RunID returns the identifier of the current run.
func (rt *Runtime) RunID() string {
	return rt.runID
}

// Logger returns the run-scoped logger.
func (rt *Runtime) Logger() *telemetry.Logger {
	return rt.logger
}

// Input returns the raw output of a completed dependency.
func (rt *Runtime) Input(t Task) (json.RawMessage, bool) {
	return rt.InputByKey(t.Identity().Key())
}

// InputByKey returns the raw output stored under an identity key.
func (rt *Runtime) InputByKey(key string) (json.RawMessage, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	raw, ok := rt.outputs[key]
	return raw, ok
}

// InputInto decodes the output of a completed dependency into v.
func (rt *Runtime) InputInto(t Task, v interface{}) error {
	key := t.Identity().Key()
	raw, ok := rt.InputByKey(key)
	if !ok {
		return NewPermanentError(
			fmt.Sprintf("no output recorded for dependency %s", key), nil,
		).WithCode(ErrCodeUnresolvedDependency)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return NewPermanentError(
			fmt.Sprintf("failed to decode output of dependency %s", key), err,
		).WithCode(ErrCodeInternal)
	}
	return nil
}

func (rt *Runtime) putOutput(key string, raw json.RawMessage) {
	rt.mu.Lock()
	rt.outputs[key] = raw
	rt.mu.Unlock()
}

// taskResult travels from a worker back to the scheduling loop.
type taskResult struct {
	node      *node
	output    json.RawMessage
	followups []Task
	err       error
	attempts  int
	duration  time.Duration
	cached    bool
}

// Run builds the graph from the root tasks and executes it to completion.
// A non-nil error means the run itself could not proceed; per-task failures
// are reported through the returned RunReport instead so independent
// branches always run to completion.
func (s *Scheduler) Run(ctx context.Context, roots []Task) (*RunReport, error) {
	graph, err := BuildGraph(roots)
	if err != nil {
		return nil, err
	}
	if s.tel != nil {
		// Tasks and instrumented clients resolve telemetry from the
		// context they run under.
		ctx = s.tel.WithContext(ctx)
	}
	return s.runGraph(ctx, graph)
}

func (s *Scheduler) runGraph(ctx context.Context, graph *Graph) (*RunReport, error) {
	startedAt := time.Now().UTC()

	rt := &Runtime{
		runID:   s.config.RunID,
		logger:  s.logger,
		outputs: make(map[string]json.RawMessage),
	}

	s.logger.Infof("starting run with %d tasks, parallelism %d", graph.TaskCount(), s.config.Parallelism)
	if s.metrics != nil {
		s.metrics.RecordRunStarted("deploy")
	}
	if s.journal != nil {
		if err := s.journal.RunStarted(ctx, s.config.RunID, startedAt, graph.TaskCount()); err != nil {
			s.logger.WithError(err).Warn("failed to journal run start")
		}
	}

	pending := graph.TaskCount()
	var ready []*node
	for _, key := range graph.Keys() {
		n := graph.nodes[key]
		if len(n.deps) == 0 {
			ready = append(ready, n)
		}
	}

	results := make(chan taskResult)
	active := 0
	// Nilled out once cancellation is observed so the drain loop blocks
	// on in-flight results instead of spinning on a closed channel.
	done := ctx.Done()
	var canceled error

	dispatch := func(n *node) {
		n.status = TaskStatusRunning
		active++
		go func() {
			results <- s.executeTask(ctx, rt, n)
		}()
	}

	finish := func(n *node, report TaskReport) {
		if s.journal != nil {
			if err := s.journal.TaskCompleted(ctx, s.config.RunID, report); err != nil {
				s.logger.WithError(err).WithTask(n.key).Warn("failed to journal task completion")
			}
		}
	}

	for pending > 0 {
		if canceled == nil {
			for active < s.config.Parallelism && len(ready) > 0 {
				idx := s.pickNext(ready)
				n := ready[idx]
				ready = append(ready[:idx], ready[idx+1:]...)
				dispatch(n)
			}
		}
		if s.metrics != nil {
			s.metrics.SetQueuedTasks(float64(len(ready)))
		}

		if active == 0 {
			if canceled != nil {
				break
			}
			if len(ready) == 0 {
				// Cannot happen on a validated DAG; guard against a
				// livelock instead of hanging forever.
				return nil, NewPermanentError("scheduler stalled with pending tasks", nil).WithCode(ErrCodeInternal)
			}
			continue
		}

		select {
		case <-done:
			canceled = ctx.Err()
			done = nil
			s.logger.WithError(canceled).Warn("run canceled, waiting for in-flight tasks")
			continue
		case res := <-results:
			active--
			n := res.node
			n.attempts = res.attempts
			n.duration += res.duration

			switch {
			case res.err != nil:
				n.status = TaskStatusFailed
				n.err = res.err
				pending--
				s.logger.WithTask(n.key).WithError(res.err).Error("task failed")
				s.recordTask(n, res)
				finish(n, s.report(n, nil))

				skipped := graph.skipDependents(n, res.err)
				pending -= len(skipped)
				for _, sk := range skipped {
					s.logger.WithTask(sk.key).Warn("task skipped: upstream failure")
					finish(sk, s.report(sk, nil))
					ready = removeNode(ready, sk)
				}

			case len(res.followups) > 0:
				waiting, err := s.wireFollowups(graph, n, res.followups, &ready, &pending)
				if err != nil {
					n.status = TaskStatusFailed
					n.err = err
					pending--
					s.logger.WithTask(n.key).WithError(err).Error("task failed wiring follow-ups")
					s.recordTask(n, taskResult{err: err})
					finish(n, s.report(n, nil))
					skipped := graph.skipDependents(n, err)
					pending -= len(skipped)
					for _, sk := range skipped {
						finish(sk, s.report(sk, nil))
						ready = removeNode(ready, sk)
					}
					break
				}
				if waiting == 0 {
					// All follow-ups were already complete; run again now.
					ready = append(ready, n)
					n.status = TaskStatusPending
				} else {
					n.status = TaskStatusPending
					s.logger.WithTask(n.key).Debugf("waiting on %d follow-up tasks", waiting)
				}

			default:
				if res.cached {
					n.status = TaskStatusCached
				} else {
					n.status = TaskStatusSucceeded
				}
				n.err = nil
				pending--
				rt.putOutput(n.key, res.output)
				s.recordTask(n, res)
				finish(n, s.report(n, res.output))

				for depKey := range n.dependents {
					d := graph.nodes[depKey]
					if d.status != TaskStatusPending {
						continue
					}
					if graphReady(graph, d) {
						ready = append(ready, d)
					}
				}
			}
		}
	}

	if canceled == nil && ctx.Err() != nil {
		canceled = ctx.Err()
	}

	report := s.buildReport(graph, rt, startedAt)
	status := "succeeded"
	if report.HasFailures() {
		status = "failed"
	}
	if s.metrics != nil {
		s.metrics.RecordRunCompleted(status, report.CompletedAt.Sub(report.StartedAt))
	}
	if s.journal != nil {
		if err := s.journal.RunCompleted(ctx, report); err != nil {
			s.logger.WithError(err).Warn("failed to journal run completion")
		}
	}
	s.logger.Infof("run complete: %d succeeded, %d cached, %d failed, %d skipped",
		len(report.Succeeded), len(report.Cached), len(report.Failed), len(report.Skipped))

	if canceled != nil {
		return report, NewTransientError("run canceled", canceled).WithCode(ErrCodeTimeout)
	}
	return report, nil
}

// wireFollowups registers dynamically discovered tasks and returns how many
// of them still have to complete before the owner runs again. Newly created
// nodes, including the transitive requirements of each follow-up, join the
// pending count and the ready queue as appropriate.
func (s *Scheduler) wireFollowups(graph *Graph, owner *node, followups []Task, ready *[]*node, pending *int) (int, error) {
	before := graph.TaskCount()
	waiting := 0
	for _, f := range followups {
		_, needsRun, err := graph.addDynamic(owner, f)
		if err != nil {
			return 0, err
		}
		if needsRun {
			waiting++
		}
	}

	newKeys := graph.order[before:]
	*pending += len(newKeys)
	for _, key := range newKeys {
		n := graph.nodes[key]
		if n.status == TaskStatusPending && graphReady(graph, n) && !containsNode(*ready, n) {
			*ready = append(*ready, n)
		}
	}
	return waiting, nil
}

// pickNext returns the index of the highest-priority ready node, preferring
// insertion order among equal priorities.
func (s *Scheduler) pickNext(ready []*node) int {
	best := 0
	bestPriority := taskPriority(ready[0].task)
	for i := 1; i < len(ready); i++ {
		if p := taskPriority(ready[i].task); p > bestPriority {
			best = i
			bestPriority = p
		}
	}
	return best
}

func taskPriority(t Task) int {
	if p, ok := t.(Prioritized); ok {
		return p.Priority()
	}
	return 0
}

// executeTask runs one task with cache short-circuit, per-attempt timeout
// and task-level retries.
func (s *Scheduler) executeTask(ctx context.Context, rt *Runtime, n *node) taskResult {
	id := n.task.Identity()
	logger := s.logger.WithTask(n.key)
	timer := telemetry.NewTimer()

	if s.tracer != nil {
		spanCtx, span := s.tracer.StartTaskSpan(ctx, n.key, id.Kind)
		ctx = spanCtx
		defer span.End()
	}

	// Cache lookup. Dry-run tasks never read or write the cache: they
	// must observe the real remote state every time.
	if s.store != nil && !id.DryRun {
		raw, hit, err := s.store.GetOutput(ctx, id.Key(), id.Invalidator)
		if err != nil {
			logger.WithError(err).Warn("cache lookup failed, executing task")
		} else if hit {
			logger.Debug("task satisfied from cache")
			if s.metrics != nil {
				s.metrics.RecordCacheHit(id.Kind)
			}
			return taskResult{node: n, output: raw, cached: true, attempts: n.attempts, duration: timer.Duration()}
		}
	}

	maxAttempts := 1
	if r, ok := n.task.(Retryable); ok && r.RetryCount() > 1 {
		maxAttempts = r.RetryCount()
	}
	timeout := s.config.DefaultTimeout
	if tl, ok := n.task.(TimeLimited); ok && tl.WorkerTimeout() > 0 {
		timeout = tl.WorkerTimeout()
	}

	var lastErr error
	attempts := n.attempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts++
		if attempt > 1 {
			logger.Warnf("retrying task, attempt %d of %d", attempt, maxAttempts)
			if s.metrics != nil {
				s.metrics.RecordTaskRetry(id.Kind)
			}
		}

		res, err := s.runAttempt(ctx, rt, n, timeout)
		if err == nil {
			if len(res.Followups) > 0 {
				return taskResult{node: n, followups: res.Followups, attempts: attempts, duration: timer.Duration()}
			}
			if s.store != nil && !id.DryRun {
				record := TaskRecord{
					IdentityKey: id.Key(),
					Invalidator: id.Invalidator,
					Kind:        id.Kind,
					Output:      res.Output,
					CreatedAt:   time.Now().UTC(),
				}
				if perr := s.store.PutOutput(ctx, record); perr != nil {
					logger.WithError(perr).Warn("failed to persist task output")
				}
			}
			return taskResult{node: n, output: res.Output, attempts: attempts, duration: timer.Duration()}
		}

		lastErr = err
		if !IsRetryable(err) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	return taskResult{node: n, err: lastErr, attempts: attempts, duration: timer.Duration()}
}

// runAttempt executes a single Run invocation under the attempt timeout.
func (s *Scheduler) runAttempt(ctx context.Context, rt *Runtime, n *node, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := n.task.Run(ctx, rt)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, NewTransientError(
				fmt.Sprintf("task exceeded worker timeout of %s", timeout), err,
			).WithCode(ErrCodeTimeout).WithTask(n.key)
		}
		return nil, err
	}
	if res == nil {
		return nil, NewPermanentError("task returned neither output nor error", nil).
			WithCode(ErrCodeInternal).WithTask(n.key)
	}
	return res, nil
}

func (s *Scheduler) recordTask(n *node, res taskResult) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordTaskExecution(n.task.Identity().Kind, string(n.status), res.duration)
	if res.err != nil {
		var te *TaskError
		if errors.As(res.err, &te) {
			s.metrics.RecordError(string(te.Class), te.Code)
		} else {
			s.metrics.RecordError(string(ErrorClassPermanent), "")
		}
	}
}

func (s *Scheduler) report(n *node, output json.RawMessage) TaskReport {
	id := n.task.Identity()
	tr := TaskReport{
		IdentityKey: n.key,
		Kind:        id.Kind,
		Params:      id.Params,
		Status:      n.status,
		Attempts:    n.attempts,
		Duration:    n.duration,
		Output:      output,
	}
	if n.err != nil {
		tr.Error = n.err.Error()
	}
	return tr
}

func (s *Scheduler) buildReport(graph *Graph, rt *Runtime, startedAt time.Time) *RunReport {
	report := &RunReport{
		RunID:       s.config.RunID,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
	}
	for _, key := range graph.Keys() {
		n := graph.nodes[key]
		output, _ := rt.InputByKey(key)
		tr := s.report(n, output)
		switch n.status {
		case TaskStatusSucceeded:
			report.Succeeded = append(report.Succeeded, tr)
		case TaskStatusCached:
			report.Cached = append(report.Cached, tr)
		case TaskStatusFailed:
			report.Failed = append(report.Failed, tr)
		default:
			// Pending and running tasks at report time were cut off by
			// cancellation; group them with skipped.
			tr.Status = TaskStatusSkipped
			report.Skipped = append(report.Skipped, tr)
		}
	}
	return report
}

// graphReady reports whether all dependencies of the node completed
// successfully.
func graphReady(g *Graph, n *node) bool {
	for dep := range n.deps {
		d := g.nodes[dep]
		if d.status != TaskStatusSucceeded && d.status != TaskStatusCached {
			return false
		}
	}
	return true
}

func removeNode(list []*node, target *node) []*node {
	for i, n := range list {
		if n == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func containsNode(list []*node, target *node) bool {
	for _, n := range list {
		if n == target {
			return true
		}
	}
	return false
}
