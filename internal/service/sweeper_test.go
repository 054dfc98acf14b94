package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type mockSweepRunner struct {
	calls   atomic.Int32
	block   chan struct{}
	sweepFn func(ctx context.Context, limit int, forcedProvider string, onlyMissing bool) (*SweepResult, error)
}

func (m *mockSweepRunner) Sweep(ctx context.Context, limit int, forcedProvider string, onlyMissing bool) (*SweepResult, error) {
	m.calls.Add(1)
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
		}
	}
	if m.sweepFn != nil {
		return m.sweepFn(ctx, limit, forcedProvider, onlyMissing)
	}
	return &SweepResult{}, nil
}

// waitFor опрашивает условие до таймаута.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSweeper_NotStartedBeforeStart(t *testing.T) {
	runner := &mockSweepRunner{}
	sw := NewSweeper(runner, 100, time.Minute, testLogger())

	sw.TryStart()
	time.Sleep(20 * time.Millisecond)

	if runner.calls.Load() != 0 {
		t.Error("проход запущен до Start")
	}
}

func TestSweeper_SingleFlight(t *testing.T) {
	runner := &mockSweepRunner{block: make(chan struct{})}
	sw := NewSweeper(runner, 100, 0, testLogger())
	sw.Start(context.Background())

	sw.TryStart()
	waitFor(t, func() bool { return runner.calls.Load() == 1 }, "первый проход не запустился")

	// пока идёт первый проход, повторные TryStart пропускаются
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sw.TryStart()
		}()
	}
	wg.Wait()

	if got := runner.calls.Load(); got != 1 {
		t.Errorf("параллельных проходов %d, ожидается 1", got)
	}

	close(runner.block)
	sw.Stop()
}

func TestSweeper_Cooldown(t *testing.T) {
	runner := &mockSweepRunner{}
	sw := NewSweeper(runner, 100, time.Hour, testLogger())
	sw.Start(context.Background())
	defer sw.Stop()

	sw.TryStart()
	waitFor(t, func() bool { return runner.calls.Load() == 1 }, "первый проход не запустился")

	// проход завершился, но cooldown ещё не истёк
	waitFor(t, func() bool {
		sw.mu.Lock()
		defer sw.mu.Unlock()
		return !sw.running
	}, "проход не завершился")

	sw.TryStart()
	time.Sleep(20 * time.Millisecond)

	if got := runner.calls.Load(); got != 1 {
		t.Errorf("проходов %d, ожидается 1 (cooldown)", got)
	}
}

func TestSweeper_RestartAfterCooldown(t *testing.T) {
	runner := &mockSweepRunner{}
	sw := NewSweeper(runner, 100, 10*time.Millisecond, testLogger())
	sw.Start(context.Background())
	defer sw.Stop()

	sw.TryStart()
	waitFor(t, func() bool { return runner.calls.Load() == 1 }, "первый проход не запустился")

	time.Sleep(30 * time.Millisecond)

	sw.TryStart()
	waitFor(t, func() bool { return runner.calls.Load() == 2 }, "повторный проход после cooldown не запустился")
}

func TestSweeper_SweepArguments(t *testing.T) {
	runner := &mockSweepRunner{
		sweepFn: func(_ context.Context, limit int, forcedProvider string, onlyMissing bool) (*SweepResult, error) {
			if limit != 300 {
				t.Errorf("batch = %d, ожидается 300", limit)
			}
			if forcedProvider != "" {
				t.Errorf("forcedProvider = %q, ожидается пустой", forcedProvider)
			}
			if !onlyMissing {
				t.Error("фоновый проход должен обрабатывать только книги с пробелами")
			}
			return &SweepResult{Scanned: 1}, nil
		},
	}
	sw := NewSweeper(runner, 300, 0, testLogger())
	sw.Start(context.Background())
	defer sw.Stop()

	sw.TryStart()
	waitFor(t, func() bool { return runner.calls.Load() == 1 }, "проход не запустился")
}

func TestSweeper_StopCancelsRun(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	runner := &mockSweepRunner{
		sweepFn: func(ctx context.Context, _ int, _ string, _ bool) (*SweepResult, error) {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return &SweepResult{}, ctx.Err()
		},
	}
	sw := NewSweeper(runner, 100, 0, testLogger())
	sw.Start(context.Background())

	sw.TryStart()
	<-started

	done := make(chan struct{})
	go func() {
		sw.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop не дождался завершения прохода")
	}
	select {
	case <-cancelled:
	default:
		t.Error("контекст прохода не отменён при Stop")
	}
}
