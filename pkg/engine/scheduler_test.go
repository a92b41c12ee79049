package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerProcessesEachKeyOnce(t *testing.T) {
	var runs int32
	s := NewScheduler(4, func(ctx context.Context, item string) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		s.Add(context.Background(), "alpha", "alpha", func(err error) {
			defer wg.Done()
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
	wg.Wait()

	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("processor ran %d times, want 1", got)
	}
}

func TestSchedulerDoneReplayAfterCompletion(t *testing.T) {
	wantErr := errors.New("boom")
	s := NewScheduler(1, func(ctx context.Context, item string) error {
		return wantErr
	})

	first := make(chan error, 1)
	s.Add(context.Background(), "k", "k", func(err error) { first <- err })
	if err := <-first; !errors.Is(err, wantErr) {
		t.Fatalf("first completion = %v, want %v", err, wantErr)
	}

	// A late Add on a completed key replays the recorded result without
	// re-running the processor.
	second := make(chan error, 1)
	s.Add(context.Background(), "k", "k", func(err error) { second <- err })
	if err := <-second; !errors.Is(err, wantErr) {
		t.Fatalf("replayed completion = %v, want %v", err, wantErr)
	}
}

func TestSchedulerWaitForUnknownKey(t *testing.T) {
	s := NewScheduler(1, func(ctx context.Context, item string) error { return nil })

	got := make(chan error, 1)
	s.WaitFor("never-scheduled", func(err error) { got <- err })
	if err := <-got; !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("WaitFor error = %v, want ErrUnknownTask", err)
	}
}

func TestSchedulerInvalidateForcesReprocessing(t *testing.T) {
	var runs int32
	s := NewScheduler(1, func(ctx context.Context, item string) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})

	done := make(chan error, 1)
	s.Add(context.Background(), "k", "k", func(err error) { done <- err })
	<-done

	s.Invalidate("k")

	s.Add(context.Background(), "k", "k", func(err error) { done <- err })
	<-done

	if got := atomic.LoadInt32(&runs); got != 2 {
		t.Fatalf("processor ran %d times after invalidate, want 2", got)
	}
}

func TestSchedulerParallelismWideningUnblocksNestedWait(t *testing.T) {
	// With a ceiling of 1, a task that waits for a sibling deadlocks unless
	// it widens the ceiling for the duration of the wait.
	var s *Scheduler[string]
	s = NewScheduler(1, func(ctx context.Context, item string) error {
		if item != "parent" {
			return nil
		}
		s.IncreaseParallelism()
		defer s.DecreaseParallelism()

		childDone := make(chan error, 1)
		s.Add(ctx, "child", "child", func(err error) { childDone <- err })
		select {
		case err := <-childDone:
			return err
		case <-time.After(5 * time.Second):
			return errors.New("child never ran")
		}
	})

	parentDone := make(chan error, 1)
	s.Add(context.Background(), "parent", "parent", func(err error) { parentDone <- err })

	select {
	case err := <-parentDone:
		if err != nil {
			t.Fatalf("parent failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("scheduler deadlocked on nested wait")
	}
}

func TestSchedulerStopRejectsPending(t *testing.T) {
	release := make(chan struct{})
	s := NewScheduler(1, func(ctx context.Context, item string) error {
		<-release
		return nil
	})

	runningDone := make(chan error, 1)
	s.Add(context.Background(), "running", "running", func(err error) { runningDone <- err })

	pendingDone := make(chan error, 1)
	s.Add(context.Background(), "pending", "pending", func(err error) { pendingDone <- err })

	s.Stop()

	if err := <-pendingDone; !errors.Is(err, ErrSchedulerStopped) {
		t.Fatalf("pending completion = %v, want ErrSchedulerStopped", err)
	}

	// The in-flight task still finishes and delivers its own result.
	close(release)
	if err := <-runningDone; err != nil {
		t.Fatalf("running completion = %v, want nil", err)
	}

	// New work after Stop is rejected immediately.
	late := make(chan error, 1)
	s.Add(context.Background(), "late", "late", func(err error) { late <- err })
	if err := <-late; !errors.Is(err, ErrSchedulerStopped) {
		t.Fatalf("late completion = %v, want ErrSchedulerStopped", err)
	}
}

func TestSchedulerRecoversProcessorPanic(t *testing.T) {
	s := NewScheduler(1, func(ctx context.Context, item string) error {
		panic("kaboom")
	})

	done := make(chan error, 1)
	s.Add(context.Background(), "k", "k", func(err error) { done <- err })

	err := <-done
	if err == nil {
		t.Fatal("expected an error from a panicking processor")
	}
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindInternal {
		t.Fatalf("panic surfaced as %v, want internal error", err)
	}
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	const ceiling = 3
	var active, peak int32
	release := make(chan struct{})

	s := NewScheduler(ceiling, func(ctx context.Context, item string) error {
		cur := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		<-release
		atomic.AddInt32(&active, -1)
		return nil
	})

	var wg sync.WaitGroup
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, k := range keys {
		wg.Add(1)
		s.Add(context.Background(), k, k, func(err error) { wg.Done() })
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > ceiling {
		t.Fatalf("observed %d concurrent processors, ceiling is %d", got, ceiling)
	}
}
