package interceptor

import (
	"log/slog"
	"sync"
)

// Executor runs pipeline work off the caller's goroutine.
type Executor interface {
	Execute(task func())
}

// GoExecutor starts a goroutine per task.
type GoExecutor struct{}

func (GoExecutor) Execute(task func()) { go task() }

// WorkerPool runs tasks on a fixed number of goroutines. When the queue is
// full or the pool is stopped, a task gets its own goroutine so that no
// task is ever dropped.
type WorkerPool struct {
	tasks   chan func()
	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.Mutex
	stopped bool
	logger  *slog.Logger
}

// WorkerPoolConfig configures the worker pool.
type WorkerPoolConfig struct {
	Workers   int
	QueueSize int
	Logger    *slog.Logger
}

func NewWorkerPool(cfg WorkerPoolConfig) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	wp := &WorkerPool{
		tasks:  make(chan func(), cfg.QueueSize),
		stopCh: make(chan struct{}),
		logger: cfg.Logger,
	}
	wp.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go wp.worker()
	}
	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for {
		select {
		case task := <-wp.tasks:
			wp.run(task)
		case <-wp.stopCh:
			for {
				select {
				case task := <-wp.tasks:
					wp.run(task)
				default:
					return
				}
			}
		}
	}
}

func (wp *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("pipeline task panicked", slog.Any("panic", r))
		}
	}()
	task()
}

func (wp *WorkerPool) Execute(task func()) {
	wp.mu.Lock()
	stopped := wp.stopped
	wp.mu.Unlock()
	if !stopped {
		select {
		case wp.tasks <- task:
			return
		default:
		}
	}
	go wp.run(task)
}

// Stop waits for queued tasks to finish and stops the workers.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	wp.mu.Unlock()
	close(wp.stopCh)
	wp.wg.Wait()
}

// Pending returns the number of queued tasks.
func (wp *WorkerPool) Pending() int { return len(wp.tasks) }
