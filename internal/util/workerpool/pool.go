package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be executed
type Task struct {
	ID      string
	Fn      func(context.Context) error
	Context context.Context

	done func(error)
}

// WorkerPool runs tasks on a bounded set of goroutines
type WorkerPool struct {
	name           string
	maxWorkers     int
	taskQueue      chan Task
	queueSize      int
	logger         *zap.Logger
	wg             sync.WaitGroup
	stopOnce       sync.Once
	stopChan       chan struct{}
	submitMu       sync.RWMutex // held shared by submitters, exclusive by the final drain
	activeWorkers  int32
	totalTasks     uint64
	completedTasks uint64
	failedTasks    uint64
	rejectedTasks  uint64
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	Logger     *zap.Logger
}

// NewWorkerPool creates a worker pool and starts its workers
func NewWorkerPool(cfg *Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	pool := &WorkerPool{
		name:       cfg.Name,
		maxWorkers: cfg.MaxWorkers,
		queueSize:  cfg.QueueSize,
		taskQueue:  make(chan Task, cfg.QueueSize),
		logger:     cfg.Logger,
		stopChan:   make(chan struct{}),
	}

	for i := 0; i < pool.maxWorkers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	pool.logger.Info("Worker pool started",
		zap.String("name", pool.name),
		zap.Int("max_workers", pool.maxWorkers),
		zap.Int("queue_size", pool.queueSize))

	return pool
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case task := <-p.taskQueue:
			p.executeTask(id, task)
		}
	}
}

func (p *WorkerPool) executeTask(workerID int, task Task) {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)

	start := time.Now()
	err := p.safeExecute(task)

	if err != nil {
		atomic.AddUint64(&p.failedTasks, 1)
		p.logger.Warn("Task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	} else {
		atomic.AddUint64(&p.completedTasks, 1)
	}

	if task.done != nil {
		task.done(err)
	}
}

// safeExecute executes a task with panic recovery
func (p *WorkerPool) safeExecute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
			p.logger.Error("Task panic recovered",
				zap.String("pool", p.name),
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
		}
	}()

	if task.Context == nil {
		task.Context = context.Background()
	}

	return task.Fn(task.Context)
}

func (p *WorkerPool) stopped() bool {
	select {
	case <-p.stopChan:
		return true
	default:
		return false
	}
}

// TrySubmit queues a task without blocking. It returns false if the queue is
// full or the pool is stopped.
func (p *WorkerPool) TrySubmit(task Task) bool {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.stopped() {
		atomic.AddUint64(&p.rejectedTasks, 1)
		return false
	}

	select {
	case p.taskQueue <- task:
		atomic.AddUint64(&p.totalTasks, 1)
		return true
	default:
		atomic.AddUint64(&p.rejectedTasks, 1)
		return false
	}
}

// SubmitWithContext queues a task, blocking until it is accepted or ctx is done
func (p *WorkerPool) SubmitWithContext(ctx context.Context, task Task) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.stopped() {
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("worker pool '%s' is stopped", p.name)
	}

	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("worker pool '%s' is stopped", p.name)
	case <-ctx.Done():
		atomic.AddUint64(&p.rejectedTasks, 1)
		return ctx.Err()
	case p.taskQueue <- task:
		atomic.AddUint64(&p.totalTasks, 1)
		return nil
	}
}

// Run executes tasks on the pool and waits for all of them. The returned
// slice holds each task's error at the task's index.
func (p *WorkerPool) Run(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))

	var wg sync.WaitGroup
	for i := range tasks {
		i := i
		task := tasks[i]
		if task.Context == nil {
			task.Context = ctx
		}
		task.done = func(err error) {
			errs[i] = err
			wg.Done()
		}

		wg.Add(1)
		if err := p.SubmitWithContext(ctx, task); err != nil {
			errs[i] = err
			wg.Done()
		}
	}

	wg.Wait()
	return errs
}

// Stop signals workers to exit and waits for in-flight tasks up to timeout.
// Queued tasks that have not started are dropped.
func (p *WorkerPool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopChan)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("Worker pool stopped", zap.String("name", p.name))
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
			p.logger.Warn("Worker pool stop timeout", zap.String("name", p.name))
		}

		// Closing stopChan unblocks pending submitters. Once they are out no
		// task can enter the queue, so the drain below sees every leftover.
		p.submitMu.Lock()
		defer p.submitMu.Unlock()

		// Release Run callers waiting on tasks that never started
		for {
			select {
			case task := <-p.taskQueue:
				if task.done != nil {
					task.done(fmt.Errorf("worker pool '%s' is stopped", p.name))
				}
			default:
				return
			}
		}
	})
	return err
}

// Stats returns current worker pool statistics
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:           p.name,
		MaxWorkers:     p.maxWorkers,
		ActiveWorkers:  int(atomic.LoadInt32(&p.activeWorkers)),
		QueueSize:      p.queueSize,
		QueuedTasks:    len(p.taskQueue),
		TotalTasks:     atomic.LoadUint64(&p.totalTasks),
		CompletedTasks: atomic.LoadUint64(&p.completedTasks),
		FailedTasks:    atomic.LoadUint64(&p.failedTasks),
		RejectedTasks:  atomic.LoadUint64(&p.rejectedTasks),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name           string
	MaxWorkers     int
	ActiveWorkers  int
	QueueSize      int
	QueuedTasks    int
	TotalTasks     uint64
	CompletedTasks uint64
	FailedTasks    uint64
	RejectedTasks  uint64
}

// QueueUtilization returns the queue utilization as a percentage
func (s Stats) QueueUtilization() float64 {
	if s.QueueSize == 0 {
		return 0
	}
	return (float64(s.QueuedTasks) / float64(s.QueueSize)) * 100.0
}
