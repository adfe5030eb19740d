package lockcache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAtMostOneCriticalSectionPerKey(t *testing.T) {
	c := New(0)
	var inFlight int32
	var maxObserved int32
	var wg sync.WaitGroup

	const n = 10
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = c.DoLocked(context.Background(), "g:a", func(ctx context.Context) error {
				cur := atomic.AddInt32(&inFlight, 1)
				for {
					old := atomic.LoadInt32(&maxObserved)
					if cur <= old || atomic.CompareAndSwapInt32(&maxObserved, old, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxObserved != 1 {
		t.Fatalf("max concurrent critical sections for one key: got %d, want 1", maxObserved)
	}
	if c.Size() != 0 {
		t.Fatalf("Size after all releases: got %d, want 0", c.Size())
	}
}

func TestDifferentKeysRunConcurrently(t *testing.T) {
	c := New(0)
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	results := make(chan time.Time, 2)
	run := func(key string) {
		defer wg.Done()
		<-start
		_ = c.DoLocked(context.Background(), key, func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			results <- time.Now()
			return nil
		})
	}
	go run("g:a")
	go run("g:b")
	close(start)
	wg.Wait()
	close(results)

	var times []time.Time
	for ts := range results {
		times = append(times, ts)
	}
	if len(times) == 2 && times[1].Sub(times[0]) > 15*time.Millisecond {
		t.Fatalf("distinct keys appear to have been serialized: %v", times)
	}
}

func TestCapacityBlocksAndEvictsOnRelease(t *testing.T) {
	c := New(1)
	release := make(chan struct{})
	entered := make(chan struct{})

	go func() {
		_ = c.DoLocked(context.Background(), "g:a", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	done := make(chan struct{})
	go func() {
		_ = c.DoLocked(context.Background(), "g:b", func(ctx context.Context) error {
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second key should have blocked on capacity while first key is held")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second key never proceeded after capacity freed up")
	}
}

func TestCancelledWaiterDoesNotBlockCapacity(t *testing.T) {
	c := New(1)
	release := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = c.DoLocked(context.Background(), "g:a", func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.DoLocked(ctx, "g:b", func(ctx context.Context) error { return nil })
	}()
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("want error from cancelled waiter")
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter never returned")
	}

	close(release)
	if err := c.DoLocked(context.Background(), "g:c", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("capacity gate should be usable after cancelled waiter cleaned up: %v", err)
	}
}
