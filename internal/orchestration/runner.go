package orchestration

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Runner executes workflow instances on a fixed worker pool. Instances
// run concurrently with each other; execution within one instance is
// strictly single-threaded because each run owns its instance until it
// returns.
type Runner struct {
	executor *Executor
	queue    chan string
	workers  int
	logger   *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewRunner creates a runner with the given worker count and queue depth.
func NewRunner(executor *Executor, workers, queueDepth int, logger *zap.Logger) *Runner {
	if workers < 1 {
		workers = 4
	}
	if queueDepth < 1 {
		queueDepth = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		executor: executor,
		queue:    make(chan string, queueDepth),
		workers:  workers,
		logger:   logger,
	}
}

// Start launches the worker goroutines.
func (r *Runner) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		for i := 0; i < r.workers; i++ {
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.work(ctx)
			}()
		}
	})
}

func (r *Runner) work(ctx context.Context) {
	for {
		select {
		case instanceID, ok := <-r.queue:
			if !ok {
				return
			}
			if _, err := r.executor.Run(ctx, instanceID); err != nil {
				// The instance stays runnable; Resume picks it up on the
				// next restart.
				r.logger.Error("workflow run failed",
					zap.String("instance_id", instanceID),
					zap.Error(err),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Enqueue schedules an instance for execution without blocking. Returns
// an error when the queue is full so the trigger can surface backpressure.
func (r *Runner) Enqueue(instanceID string) error {
	select {
	case r.queue <- instanceID:
		return nil
	default:
		return fmt.Errorf("orchestration: run queue is full")
	}
}

// Resume enqueues every non-terminal instance found in the store. Called
// once at process start so workflows interrupted by a crash continue from
// their persisted history.
func (r *Runner) Resume(ctx context.Context) error {
	instances, err := r.executor.store.ListRunnable(ctx, cap(r.queue))
	if err != nil {
		return fmt.Errorf("orchestration: list runnable instances: %w", err)
	}

	for _, inst := range instances {
		if err := r.Enqueue(inst.ID); err != nil {
			return err
		}
	}
	if len(instances) > 0 {
		r.logger.Info("resumed in-flight workflows", zap.Int("count", len(instances)))
	}
	return nil
}

// QueueLen returns how many instances are currently queued.
func (r *Runner) QueueLen() int {
	return len(r.queue)
}

// Stop closes the queue and waits for in-flight runs to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.queue)
	})
	r.wg.Wait()
}
