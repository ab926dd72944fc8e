package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func quietConfig(name string, concurrency int) Config {
	logger := zerolog.Nop()
	cfg := DefaultConfig(name)
	cfg.Concurrency = concurrency
	cfg.Logger = &logger
	return cfg
}

func itemsUpTo(n int) []int {
	items := make([]int, n)
	for i := range items {
		items[i] = i + 1
	}
	return items
}

func TestRun_IsolatesFailures(t *testing.T) {
	pool := New[int, string](quietConfig("test", 3), nil)

	result := pool.Run(context.Background(), itemsUpTo(10), func(_ context.Context, item int) (string, error) {
		time.Sleep(time.Millisecond)
		if item == 2 || item == 7 {
			return "", fmt.Errorf("item %d unavailable", item)
		}
		return fmt.Sprintf("item-%d", item), nil
	})

	if len(result.Results) != 8 {
		t.Errorf("Results = %d, want 8", len(result.Results))
	}
	if result.Succeeded() != 8 {
		t.Errorf("Succeeded() = %d, want 8", result.Succeeded())
	}
	if result.Total != 10 {
		t.Errorf("Total = %d, want 10", result.Total)
	}
	if len(result.Failures) != 2 {
		t.Fatalf("Failures = %d, want 2", len(result.Failures))
	}

	failed := []int{result.Failures[0].Item, result.Failures[1].Item}
	sort.Ints(failed)
	if failed[0] != 2 || failed[1] != 7 {
		t.Errorf("Failed items = %v, want [2 7]", failed)
	}

	seen := make(map[string]bool)
	for _, r := range result.Results {
		if seen[r] {
			t.Errorf("Duplicate result %q", r)
		}
		seen[r] = true
	}
}

func TestRun_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32

	pool := New[int, int](quietConfig("bounded", 3), nil)
	result := pool.Run(context.Background(), itemsUpTo(20), func(_ context.Context, item int) (int, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return item, nil
	})

	if len(result.Results) != 20 {
		t.Errorf("Results = %d, want 20", len(result.Results))
	}
	if peak.Load() > 3 {
		t.Errorf("Peak concurrency = %d, want <= 3", peak.Load())
	}
}

func TestRun_PanicIsolated(t *testing.T) {
	pool := New[int, int](quietConfig("panic", 2), func(i int) string { return fmt.Sprintf("user-%d", i) })

	result := pool.Run(context.Background(), itemsUpTo(4), func(_ context.Context, item int) (int, error) {
		if item == 3 {
			panic("nil record")
		}
		return item * 10, nil
	})

	if len(result.Results) != 3 {
		t.Errorf("Results = %d, want 3", len(result.Results))
	}
	if len(result.Failures) != 1 {
		t.Fatalf("Failures = %d, want 1", len(result.Failures))
	}
	if result.Failures[0].Label != "user-3" {
		t.Errorf("Failure label = %q, want %q", result.Failures[0].Label, "user-3")
	}
}

func TestRun_ProgressCallback(t *testing.T) {
	var calls []int
	cfg := quietConfig("progress", 4)
	cfg.OnProgress = func(done, total int) {
		if total != 6 {
			t.Errorf("total = %d, want 6", total)
		}
		calls = append(calls, done)
	}

	New[int, int](cfg, nil).Run(context.Background(), itemsUpTo(6), func(_ context.Context, item int) (int, error) {
		if item%2 == 0 {
			return 0, errors.New("even")
		}
		return item, nil
	})

	if len(calls) != 6 {
		t.Fatalf("OnProgress called %d times, want 6", len(calls))
	}
	for i, done := range calls {
		if done != i+1 {
			t.Errorf("call %d reported done=%d, want %d", i, done, i+1)
		}
	}
}

func TestRun_PeriodicProgressDoesNotBlockDrain(t *testing.T) {
	cfg := quietConfig("ticker", 2)
	cfg.ProgressInterval = time.Millisecond

	result := New[int, int](cfg, nil).Run(context.Background(), itemsUpTo(5), func(_ context.Context, item int) (int, error) {
		time.Sleep(3 * time.Millisecond)
		return item, nil
	})

	if len(result.Results) != 5 {
		t.Errorf("Results = %d, want 5", len(result.Results))
	}
}

func TestRun_EmptyItems(t *testing.T) {
	called := false
	result := RunAll(context.Background(), []string{}, func(context.Context, string) (int, error) {
		called = true
		return 0, nil
	}, 4)

	if called {
		t.Error("Task should not run for empty input")
	}
	if result.Total != 0 || len(result.Results) != 0 || len(result.Failures) != 0 {
		t.Errorf("Unexpected result for empty input: %+v", result)
	}
}

func TestRunAll_ZeroConcurrency(t *testing.T) {
	result := RunAll(context.Background(), itemsUpTo(3), func(_ context.Context, item int) (int, error) {
		return item, nil
	}, 0)

	if len(result.Results) != 3 {
		t.Errorf("Results = %d, want 3 (concurrency clamped to 1)", len(result.Results))
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := New[int, int](quietConfig("cancelled", 2), nil).Run(ctx, itemsUpTo(4), func(_ context.Context, item int) (int, error) {
		return item, nil
	})

	if len(result.Results) != 0 {
		t.Errorf("Results = %d, want 0", len(result.Results))
	}
	if len(result.Failures) != 4 {
		t.Fatalf("Failures = %d, want 4", len(result.Failures))
	}
	if !errors.Is(result.Failures[0].Err, context.Canceled) {
		t.Errorf("Failure error = %v, want context.Canceled", result.Failures[0].Err)
	}
}
