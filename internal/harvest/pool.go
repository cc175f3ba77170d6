package harvest

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/custodia-labs/confluence-harvest/internal/logger"
)

// Task is a unit of work executed by a TaskPool. A task's error is logged
// and contained by the pool; it never aborts other tasks.
type Task func(ctx context.Context) error

// TaskPool runs tasks with a cap on how many execute at once. Unlike a
// fixed worker set, tasks may be submitted while others are running (a
// running task can itself submit new tasks) and Join waits for every
// submission ever made, including those that did not exist when Join was
// first called. Completion is tracked with an outstanding-task counter
// checked after every decrement rather than a task list captured up
// front.
type TaskPool struct {
	slots chan struct{}
	log   logger.Logger

	mu          sync.Mutex
	cond        *sync.Cond
	outstanding int
}

// NewTaskPool creates a pool running at most maxConcurrency tasks at a
// time.
func NewTaskPool(maxConcurrency int, log logger.Logger) *TaskPool {
	if maxConcurrency <= 0 {
		panic(fmt.Sprintf("harvest: invalid pool concurrency %d", maxConcurrency))
	}
	p := &TaskPool{
		slots: make(chan struct{}, maxConcurrency),
		log:   log,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Submit schedules task for execution. It blocks while the pool is at its
// concurrency cap and returns once the task has been accepted, or with
// ctx's error if the caller is cancelled first. The task counts toward
// Join from the moment Submit returns.
func (p *TaskPool) Submit(ctx context.Context, name string, task Task) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	p.outstanding++
	p.mu.Unlock()

	go p.run(ctx, name, task)
	return nil
}

func (p *TaskPool) run(ctx context.Context, name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("task panicked", zap.String("task", name), zap.Any("panic", r))
		}
		<-p.slots

		p.mu.Lock()
		p.outstanding--
		if p.outstanding == 0 {
			p.cond.Broadcast()
		}
		p.mu.Unlock()
	}()

	if err := task(ctx); err != nil {
		p.log.Error("task failed", zap.String("task", name), zap.Error(err))
	}
}

// Join blocks until every submitted task has finished, including tasks
// submitted by tasks that were still running when Join was called.
func (p *TaskPool) Join() {
	p.mu.Lock()
	for p.outstanding > 0 {
		p.cond.Wait()
	}
	p.mu.Unlock()
}

// Outstanding reports the number of tasks submitted but not yet finished.
func (p *TaskPool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}
