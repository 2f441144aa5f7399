package withdrawal

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestQueueProcessesInOrder(t *testing.T) {
	var (
		mu        sync.Mutex
		processed []string
	)
	q := NewQueue(func(_ context.Context, id string) {
		mu.Lock()
		defer mu.Unlock()
		processed = append(processed, id)
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
		if !q.Add(id) {
			t.Fatalf("expected %s to be accepted", id)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"tx-1", "tx-2", "tx-3"} {
		if processed[i] != want {
			t.Fatalf("expected %s at position %d, got %s", want, i, processed[i])
		}
	}
}

func TestQueueRejectsDuplicatePending(t *testing.T) {
	q := NewQueue(func(context.Context, string) {}, discardLogger())

	if !q.Add("tx-1") {
		t.Fatal("first add rejected")
	}
	if q.Add("tx-1") {
		t.Fatal("duplicate add accepted")
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 pending, got %d", q.Len())
	}
}

func TestQueueRejectsDuplicateInFlight(t *testing.T) {
	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	q := NewQueue(func(_ context.Context, id string) {
		once.Do(func() { close(started) })
		<-release
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Add("tx-1")
	<-started

	// tx-1 has left the pending list but is still running.
	if q.Len() != 0 {
		t.Fatalf("expected empty pending list, got %d", q.Len())
	}
	if q.Add("tx-1") {
		t.Fatal("in-flight id re-queued")
	}

	close(release)
	waitFor(t, func() bool { return q.Add("tx-1") })
}

func TestQueueSerializesWork(t *testing.T) {
	var (
		mu        sync.Mutex
		active    int
		maxSeen   int
		completed int
	)
	q := NewQueue(func(context.Context, string) {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		active--
		completed++
		mu.Unlock()
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	for i := 0; i < 5; i++ {
		q.Add(string(rune('a' + i)))
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return completed == 5
	})

	mu.Lock()
	defer mu.Unlock()
	if maxSeen != 1 {
		t.Fatalf("expected strictly one active job at a time, saw %d", maxSeen)
	}
}

func TestQueueKeepsDrainingAfterFailure(t *testing.T) {
	var (
		mu        sync.Mutex
		processed []string
	)
	q := NewQueue(func(_ context.Context, id string) {
		mu.Lock()
		processed = append(processed, id)
		mu.Unlock()
		// A job that errors internally simply returns; the queue must move on.
	}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Add("fails")
	q.Add("succeeds")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) == 2
	})
}
