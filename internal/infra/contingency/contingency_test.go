package contingency_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/infra/contingency"
	"github.com/boddenberg/pdv-fiscal-go/internal/port"
)

// --- Shared behaviour, run against every backend ---

func runQueueSuite(t *testing.T, newQueue func(t *testing.T) port.ContingencyQueue) {
	t.Run("EnqueueThenPendingKeepsOrder", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		reason := "SEFAZ fora do ar"
		for _, ref := range []string{"CONT-a", "CONT-b", "CONT-c"} {
			if _, err := q.Enqueue(ctx, ref, "<NFe>"+ref+"</NFe>", &reason); err != nil {
				t.Fatalf("enqueue %s: %v", ref, err)
			}
		}

		pending, err := q.Pending(ctx)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		if len(pending) != 3 {
			t.Fatalf("expected 3 pending, got %d", len(pending))
		}
		for i, want := range []string{"CONT-a", "CONT-b", "CONT-c"} {
			if pending[i].Reference != want {
				t.Errorf("position %d: expected %s, got %s", i, want, pending[i].Reference)
			}
		}
		if pending[0].Reason == nil || *pending[0].Reason != reason {
			t.Errorf("expected reason to be kept, got %v", pending[0].Reason)
		}
		if pending[1].Payload != "<NFe>CONT-b</NFe>" {
			t.Errorf("unexpected payload %q", pending[1].Payload)
		}

		again, _ := q.Pending(ctx)
		if len(again) != 3 {
			t.Error("pending must not drain the queue")
		}
	})

	t.Run("FlushReturnsAllAndEmpties", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		_, _ = q.Enqueue(ctx, "CONT-1", "p1", nil)
		_, _ = q.Enqueue(ctx, "CONT-2", "p2", nil)

		flushed, err := q.Flush(ctx)
		if err != nil {
			t.Fatalf("flush: %v", err)
		}
		if len(flushed) != 2 || flushed[0].Reference != "CONT-1" || flushed[1].Reference != "CONT-2" {
			t.Fatalf("unexpected flush result %+v", flushed)
		}
		if flushed[0].Reason != nil {
			t.Error("expected nil reason")
		}

		pending, _ := q.Pending(ctx)
		if len(pending) != 0 {
			t.Errorf("expected empty queue after flush, got %d", len(pending))
		}
		if n, _ := q.Len(ctx); n != 0 {
			t.Errorf("expected len 0, got %d", n)
		}

		empty, err := q.Flush(ctx)
		if err != nil || len(empty) != 0 {
			t.Errorf("expected empty flush, got %v (err=%v)", empty, err)
		}
	})

	t.Run("RemoveDropsOnlyTheReference", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		_, _ = q.Enqueue(ctx, "CONT-x", "px", nil)
		_, _ = q.Enqueue(ctx, "CONT-y", "py", nil)
		_, _ = q.Enqueue(ctx, "CONT-z", "pz", nil)

		ok, err := q.Remove(ctx, "CONT-y")
		if err != nil || !ok {
			t.Fatalf("expected removal, got ok=%v err=%v", ok, err)
		}
		ok, _ = q.Remove(ctx, "CONT-y")
		if ok {
			t.Error("expected second removal to report false")
		}

		pending, _ := q.Pending(ctx)
		if len(pending) != 2 || pending[0].Reference != "CONT-x" || pending[1].Reference != "CONT-z" {
			t.Errorf("unexpected queue after remove: %+v", pending)
		}
	})

	t.Run("FlushIsAtomicUnderConcurrentEnqueue", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		const writers, perWriter = 8, 25
		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					ref := fmt.Sprintf("CONT-%d-%d", w, i)
					if _, err := q.Enqueue(ctx, ref, "payload", nil); err != nil {
						t.Errorf("enqueue: %v", err)
					}
				}
			}(w)
		}

		seen := make(map[string]int)
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		drain := func() {
			flushed, err := q.Flush(ctx)
			if err != nil {
				t.Errorf("flush: %v", err)
				return
			}
			for _, r := range flushed {
				seen[r.Reference]++
			}
			// Nothing flushed may still be pending afterwards.
			pending, err := q.Pending(ctx)
			if err != nil {
				t.Errorf("pending: %v", err)
				return
			}
			for _, r := range pending {
				for _, f := range flushed {
					if f.Reference == r.Reference {
						t.Errorf("record %s both flushed and pending", r.Reference)
					}
				}
			}
		}

	loop:
		for {
			select {
			case <-done:
				break loop
			default:
				drain()
			}
		}
		drain()

		if len(seen) != writers*perWriter {
			t.Fatalf("expected %d distinct records, got %d", writers*perWriter, len(seen))
		}
		for ref, n := range seen {
			if n != 1 {
				t.Errorf("record %s flushed %d times", ref, n)
			}
		}
	})
}

// --- Backends ---

func TestMemoryQueue(t *testing.T) {
	runQueueSuite(t, func(t *testing.T) port.ContingencyQueue {
		return contingency.NewMemory(nil)
	})
}

func TestMemoryQueue_UsesClock(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	q := contingency.NewMemory(func() time.Time { return at })

	rec, err := q.Enqueue(context.Background(), "CONT-clock", "p", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !rec.CreatedAt.Equal(at) {
		t.Errorf("expected created_at %v, got %v", at, rec.CreatedAt)
	}
}

func TestMemoryQueue_PendingIsSnapshot(t *testing.T) {
	q := contingency.NewMemory(nil)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "CONT-1", "p", nil)

	snap, _ := q.Pending(ctx)
	snap[0].Reference = "mutated"

	pending, _ := q.Pending(ctx)
	if pending[0].Reference != "CONT-1" {
		t.Error("expected pending to return a copy")
	}
}

// Set FISCAL_TEST_DATABASE_URL to run against a real Postgres.
func TestPostgresQueue(t *testing.T) {
	url := os.Getenv("FISCAL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FISCAL_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := contingency.Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := contingency.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	runQueueSuite(t, func(t *testing.T) port.ContingencyQueue {
		q := contingency.NewPostgres(pool, nil)
		if _, err := q.Flush(ctx); err != nil {
			t.Fatalf("reset: %v", err)
		}
		return q
	})
}

// Set FISCAL_TEST_REDIS_ADDR to run against a real Redis.
func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("FISCAL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FISCAL_TEST_REDIS_ADDR not set")
	}
	client := contingency.NewRedisClient(addr, "", 0)
	t.Cleanup(func() { _ = client.Close() })

	runQueueSuite(t, func(t *testing.T) port.ContingencyQueue {
		key := fmt.Sprintf("fiscal:contingency:test:%d", time.Now().UnixNano())
		t.Cleanup(func() { client.Del(context.Background(), key) })
		return contingency.NewRedis(client, key, nil)
	})
}

var (
	_ port.ContingencyQueue = (*contingency.Memory)(nil)
	_ port.ContingencyQueue = (*contingency.Postgres)(nil)
	_ port.ContingencyQueue = (*contingency.Redis)(nil)
)
