package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Queue runs a batch of tasks, highest priority first, honoring inter-task
// dependencies: a task becomes eligible only once every task it depends on
// has finished successfully. Tasks whose dependencies aborted are aborted
// without running.
type Queue struct {
	deps  Deps
	tasks []Task

	mu      sync.Mutex
	reports map[string]*Report
}

func NewQueue(deps Deps) *Queue {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Queue{deps: deps, reports: map[string]*Report{}}
}

func (q *Queue) Add(t Task) {
	if t.ID == "" {
		t = NewTask(t.WorkDir, t.Goal)
	}
	q.tasks = append(q.tasks, t)
}

// Run executes the queue with at most concurrency tasks in flight and
// returns one report per task id. It only returns an error when the context
// is cancelled; per-task failures land in their reports.
func (q *Queue) Run(ctx context.Context, concurrency int) (map[string]*Report, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	pending := append([]Task(nil), q.tasks...)
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Priority > pending[j].Priority })

	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return q.reports, err
		}

		ready, blocked := q.partition(pending)
		if len(ready) == 0 {
			// Remaining tasks wait on dependencies that can no longer
			// succeed, or form a cycle.
			for _, t := range blocked {
				q.skip(t)
			}
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for _, t := range ready {
			t := t
			g.Go(func() error {
				rep := New(t, q.deps).Run(gctx)
				q.mu.Lock()
				q.reports[t.ID] = rep
				q.mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return q.reports, err
		}
		pending = blocked
	}
	return q.reports, nil
}

// partition splits pending into tasks whose dependencies all succeeded and
// the rest. A task with a failed dependency is skipped immediately rather
// than kept waiting.
func (q *Queue) partition(pending []Task) (ready, blocked []Task) {
	for _, t := range pending {
		switch q.depState(t) {
		case depsMet:
			ready = append(ready, t)
		case depsFailed:
			q.skip(t)
		default:
			blocked = append(blocked, t)
		}
	}
	return ready, blocked
}

type depStatus int

const (
	depsMet depStatus = iota
	depsWaiting
	depsFailed
)

func (q *Queue) depState(t Task) depStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, dep := range t.DependsOn {
		rep, done := q.reports[dep]
		if !done {
			return depsWaiting
		}
		if rep.Status != "success" {
			return depsFailed
		}
	}
	return depsMet
}

// skip records an aborted report for a task that never ran.
func (q *Queue) skip(t Task) {
	q.deps.Log.Warn("skipping task", zap.String("task_id", t.ID), zap.Strings("depends_on", t.DependsOn))
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reports[t.ID] = &Report{
		TaskID:     t.ID,
		Goal:       t.Goal,
		Status:     "aborted",
		FinalState: StateAbort,
		Artifacts: map[string]any{
			"status":       "aborted",
			"abort_reason": fmt.Sprintf("dependency did not succeed: %v", t.DependsOn),
		},
	}
}
