// Package dispatch runs settlement jobs on a bounded worker pool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MarkoPoloResearchLab/tonstore/pkg/storefront"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultCapacity = 1024
	DefaultWorkers  = 8

	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomePanic    = "panic"
	OutcomeFull     = "full"
	OutcomeEnqueued = "enqueued"
)

var (
	// ErrQueueFull is returned when the buffer has no room left.
	ErrQueueFull = errors.New("settlement queue is full")
	// ErrQueueClosed is returned once the queue stopped accepting work.
	ErrQueueClosed = errors.New("settlement queue is closed")
	// ErrAlreadyRunning guards against a second Run call.
	ErrAlreadyRunning = errors.New("settlement queue is already running")
)

// Handler settles one job.
type Handler func(ctx context.Context, job storefront.Job) error

// Recorder receives queue metrics.
type Recorder interface {
	ObserveEnqueue(outcome string)
	ObserveJob(kind storefront.JobKind, outcome string)
	SetQueueDepth(depth int)
}

// Option configures a Queue.
type Option func(*Queue)

func WithCapacity(capacity int) Option {
	return func(queue *Queue) {
		if capacity > 0 {
			queue.capacity = capacity
		}
	}
}

func WithWorkers(workers int) Option {
	return func(queue *Queue) {
		if workers > 0 {
			queue.workers = workers
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(queue *Queue) {
		if logger != nil {
			queue.logger = logger
		}
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(queue *Queue) {
		queue.recorder = recorder
	}
}

// Queue buffers jobs and de-duplicates them by Job.Key while queued or in flight.
type Queue struct {
	capacity int
	workers  int
	logger   *zap.Logger
	recorder Recorder

	jobs    chan storefront.Job
	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
	running atomic.Bool
	started atomic.Bool
}

// New builds a Queue. Jobs may be enqueued before Run starts the workers.
func New(options ...Option) *Queue {
	queue := &Queue{
		capacity: DefaultCapacity,
		workers:  DefaultWorkers,
		logger:   zap.NewNop(),
		pending:  make(map[string]struct{}),
	}
	for _, option := range options {
		if option != nil {
			option(queue)
		}
	}
	queue.jobs = make(chan storefront.Job, queue.capacity)
	return queue
}

// Enqueue never blocks. A job whose key is already queued or running is accepted silently.
func (queue *Queue) Enqueue(job storefront.Job) error {
	key := job.Key()
	queue.mu.Lock()
	defer queue.mu.Unlock()
	if queue.closed {
		return ErrQueueClosed
	}
	if _, exists := queue.pending[key]; exists {
		return nil
	}
	select {
	case queue.jobs <- job:
		queue.pending[key] = struct{}{}
		queue.observeEnqueue(OutcomeEnqueued)
		queue.observeDepth()
		return nil
	default:
		queue.observeEnqueue(OutcomeFull)
		return fmt.Errorf("%w: %s", ErrQueueFull, key)
	}
}

// Run starts the workers and blocks until ctx is done. Jobs still buffered
// at shutdown are dropped; their records stay PENDING for the recovery sweep.
func (queue *Queue) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("dispatch: handler is required")
	}
	if !queue.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	queue.running.Store(true)
	defer queue.running.Store(false)

	group, groupCtx := errgroup.WithContext(ctx)
	for worker := 0; worker < queue.workers; worker++ {
		group.Go(func() error {
			queue.work(groupCtx, handler)
			return nil
		})
	}
	<-groupCtx.Done()
	queue.close()
	return group.Wait()
}

// Running reports whether workers are active.
func (queue *Queue) Running() bool {
	return queue.running.Load()
}

// Depth returns the number of buffered jobs.
func (queue *Queue) Depth() int {
	return len(queue.jobs)
}

func (queue *Queue) work(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-queue.jobs:
			queue.observeDepth()
			queue.handle(ctx, handler, job)
		}
	}
}

func (queue *Queue) handle(ctx context.Context, handler Handler, job storefront.Job) {
	outcome := OutcomeOK
	defer func() {
		if recovered := recover(); recovered != nil {
			outcome = OutcomePanic
			queue.logger.Error("settlement job panicked", zap.String("job", job.Key()), zap.Any("panic", recovered))
		}
		queue.release(job)
		queue.observeJob(job.Kind, outcome)
	}()
	if err := handler(ctx, job); err != nil {
		outcome = OutcomeError
		if ctx.Err() != nil {
			queue.logger.Info("settlement job interrupted", zap.String("job", job.Key()), zap.Error(err))
			return
		}
		queue.logger.Error("settlement job failed", zap.String("job", job.Key()), zap.Error(err))
	}
}

func (queue *Queue) release(job storefront.Job) {
	queue.mu.Lock()
	delete(queue.pending, job.Key())
	queue.mu.Unlock()
}

func (queue *Queue) close() {
	queue.mu.Lock()
	queue.closed = true
	queue.mu.Unlock()
}

func (queue *Queue) observeEnqueue(outcome string) {
	if queue.recorder != nil {
		queue.recorder.ObserveEnqueue(outcome)
	}
}

func (queue *Queue) observeJob(kind storefront.JobKind, outcome string) {
	if queue.recorder != nil {
		queue.recorder.ObserveJob(kind, outcome)
	}
}

func (queue *Queue) observeDepth() {
	if queue.recorder != nil {
		queue.recorder.SetQueueDepth(len(queue.jobs))
	}
}
