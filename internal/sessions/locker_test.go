package sessions

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLockerSerializes(t *testing.T) {
	locker := NewLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !locker.Busy("s1") {
		t.Error("Busy = false while lock held")
	}
	if _, ok := locker.TryAcquire("s1"); ok {
		t.Error("TryAcquire succeeded on a held lock")
	}

	release()
	if locker.Busy("s1") {
		t.Error("Busy = true after release")
	}
	release2, ok := locker.TryAcquire("s1")
	if !ok {
		t.Fatal("TryAcquire failed after release")
	}
	release2()
}

func TestLockerQueuesWaiters(t *testing.T) {
	locker := NewLocker()
	ctx := context.Background()

	release, _ := locker.Acquire(ctx, "s1")

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r, err := locker.Acquire(ctx, "s1")
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			r()
		}(i)
		time.Sleep(10 * time.Millisecond)
	}

	release()
	wg.Wait()

	if len(order) != 3 {
		t.Fatalf("only %d waiters ran, want 3", len(order))
	}
}

func TestLockerAcquireHonorsContext(t *testing.T) {
	locker := NewLocker()

	release, _ := locker.Acquire(context.Background(), "s1")
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "s1"); err == nil {
		t.Fatal("Acquire on held lock did not fail with expired context")
	}
}

func TestLockerIndependentSessions(t *testing.T) {
	locker := NewLocker()
	ctx := context.Background()

	r1, err := locker.Acquire(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	r2, err := locker.Acquire(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	r1()
	r2()
}
