package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSchedulerStopped is delivered to every pending completion when the
// scheduler is stopped (bail mode).
var ErrSchedulerStopped = errors.New("scheduler stopped")

// ErrUnknownTask is returned by WaitFor when the key was never scheduled.
var ErrUnknownTask = errors.New("task was never scheduled")

// taskState tracks a task through the queue.
type taskState int

const (
	taskQueued taskState = iota
	taskRunning
	taskDone
)

type task[T any] struct {
	ctx         context.Context
	key         string
	item        T
	state       taskState
	err         error
	callbacks   []func(error)
	invalidated bool
}

// Scheduler runs a processor per item under bounded concurrency and
// deduplicates by key: one logical item is processed once even when
// requested many times concurrently; late callers attach to the existing
// completion. In-flight tasks that enqueue child tasks on the same queue
// must widen the ceiling with IncreaseParallelism for the duration of the
// fan-out, otherwise a fixed ceiling can deadlock.
//
// Processor errors and panics are captured and delivered to every attached
// completion; they never propagate across the scheduler boundary uncaught.
type Scheduler[T any] struct {
	mu sync.Mutex

	processor func(ctx context.Context, item T) error

	// parallelism is the current concurrency ceiling.
	parallelism int

	// active counts in-flight processors.
	active int

	// pending holds keys waiting for a worker slot, FIFO.
	pending []string

	// tasks is the dedup index: every key ever scheduled, until
	// invalidated.
	tasks map[string]*task[T]

	stopped bool
}

// NewScheduler creates a scheduler around processor with the given initial
// concurrency ceiling.
func NewScheduler[T any](parallelism int, processor func(ctx context.Context, item T) error) *Scheduler[T] {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Scheduler[T]{
		processor:   processor,
		parallelism: parallelism,
		tasks:       make(map[string]*task[T]),
	}
}

// Add enqueues item under key, or, when a duplicate is queued or in flight,
// attaches done to the existing completion. done may be nil. A key that
// already completed (and was not invalidated) reports its recorded result
// immediately.
func (s *Scheduler[T]) Add(ctx context.Context, key string, item T, done func(error)) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if done != nil {
			done(ErrSchedulerStopped)
		}
		return
	}
	if t, ok := s.tasks[key]; ok {
		if t.state == taskDone {
			err := t.err
			s.mu.Unlock()
			if done != nil {
				done(err)
			}
			return
		}
		if done != nil {
			t.callbacks = append(t.callbacks, done)
		}
		s.mu.Unlock()
		return
	}
	t := &task[T]{ctx: ctx, key: key, item: item}
	if done != nil {
		t.callbacks = append(t.callbacks, done)
	}
	s.tasks[key] = t
	s.pending = append(s.pending, key)
	s.dispatchLocked()
	s.mu.Unlock()
}

// WaitFor attaches done to the completion of an already-scheduled key.
func (s *Scheduler[T]) WaitFor(key string, done func(error)) {
	s.mu.Lock()
	t, ok := s.tasks[key]
	if !ok {
		s.mu.Unlock()
		done(ErrUnknownTask)
		return
	}
	if t.state == taskDone {
		err := t.err
		s.mu.Unlock()
		done(err)
		return
	}
	t.callbacks = append(t.callbacks, done)
	s.mu.Unlock()
}

// Invalidate forces reprocessing of key on the next Add, bypassing the
// dedup cache. An in-flight task is evicted once it finishes.
func (s *Scheduler[T]) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[key]
	if !ok {
		return
	}
	if t.state == taskDone {
		delete(s.tasks, key)
		return
	}
	t.invalidated = true
}

// IncreaseParallelism temporarily widens the concurrency ceiling. Every
// call must be paired with DecreaseParallelism once the recursive fan-out
// the caller is waiting on has been scheduled.
func (s *Scheduler[T]) IncreaseParallelism() {
	s.mu.Lock()
	s.parallelism++
	s.dispatchLocked()
	s.mu.Unlock()
}

// DecreaseParallelism narrows the ceiling widened by IncreaseParallelism.
// In-flight work above the new ceiling is allowed to finish.
func (s *Scheduler[T]) DecreaseParallelism() {
	s.mu.Lock()
	if s.parallelism > 1 {
		s.parallelism--
	}
	s.mu.Unlock()
}

// Stop rejects all pending work and prevents further scheduling. Pending
// completions receive ErrSchedulerStopped; running processors finish and
// deliver their own result.
func (s *Scheduler[T]) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	var rejected []func(error)
	for _, key := range s.pending {
		t, ok := s.tasks[key]
		if !ok || t.state != taskQueued {
			continue
		}
		t.state = taskDone
		t.err = ErrSchedulerStopped
		rejected = append(rejected, t.callbacks...)
		t.callbacks = nil
	}
	s.pending = nil
	s.mu.Unlock()

	for _, cb := range rejected {
		cb(ErrSchedulerStopped)
	}
}

// dispatchLocked starts queued tasks while worker slots are available.
// Callers must hold s.mu.
func (s *Scheduler[T]) dispatchLocked() {
	for s.active < s.parallelism && len(s.pending) > 0 && !s.stopped {
		key := s.pending[0]
		s.pending = s.pending[1:]
		t, ok := s.tasks[key]
		if !ok || t.state != taskQueued {
			continue
		}
		t.state = taskRunning
		s.active++
		go s.run(t)
	}
}

func (s *Scheduler[T]) run(t *task[T]) {
	err := s.safeProcess(t.ctx, t.item)

	s.mu.Lock()
	t.state = taskDone
	t.err = err
	callbacks := t.callbacks
	t.callbacks = nil
	if t.invalidated {
		delete(s.tasks, t.key)
	}
	s.active--
	s.dispatchLocked()
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(err)
	}
}

// safeProcess invokes the processor, converting panics into errors.
func (s *Scheduler[T]) safeProcess(ctx context.Context, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewInternalError(fmt.Sprintf("task processor panicked: %v", r), nil)
		}
	}()
	return s.processor(ctx, item)
}
