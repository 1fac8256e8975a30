package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

func okHandler(resp *gateway.ChatResponse) Handler {
	return func(context.Context) (*gateway.ChatResponse, error) { return resp, nil }
}

func TestEnqueueResolvesResult(t *testing.T) {
	t.Parallel()

	q := New("test", Config{}, nil)
	want := &gateway.ChatResponse{ID: "r1"}
	ch, err := q.Enqueue(context.Background(), 0, okHandler(want))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	res := <-ch
	if res.Err != nil || res.Resp.ID != "r1" {
		t.Errorf("result = %+v", res)
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	q := New("test", Config{MaxQueueSize: 2, MaxConcurrent: 1}, nil)

	// One in flight, two pending fill the queue.
	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(context.Background(), 0, func(context.Context) (*gateway.ChatResponse, error) {
			<-block
			return &gateway.ChatResponse{}, nil
		})
		if err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	_, err := q.Enqueue(context.Background(), 0, okHandler(nil))
	if !errors.Is(err, gateway.ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
	close(block)
}

func TestConcurrencyBound(t *testing.T) {
	t.Parallel()

	const maxConcurrent = 2
	q := New("test", Config{MaxConcurrent: maxConcurrent}, nil)

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		ch, err := q.Enqueue(context.Background(), 0, func(context.Context) (*gateway.ChatResponse, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
			return &gateway.ChatResponse{}, nil
		})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ch
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > maxConcurrent {
		t.Errorf("peak concurrency = %d, want <= %d", p, maxConcurrent)
	}
}

func TestRateWindowBound(t *testing.T) {
	t.Parallel()

	// 3 admissions per 200ms window, plenty of concurrency.
	q := New("test", Config{RateLimit: 3, RateWindow: 200 * time.Millisecond, MaxConcurrent: 10}, nil)

	var admitted atomic.Int32
	chans := make([]<-chan Result, 0, 6)
	for i := 0; i < 6; i++ {
		ch, err := q.Enqueue(context.Background(), 0, func(context.Context) (*gateway.ChatResponse, error) {
			admitted.Add(1)
			return &gateway.ChatResponse{}, nil
		})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		chans = append(chans, ch)
	}

	// Shortly after enqueue only the window budget may have run.
	time.Sleep(50 * time.Millisecond)
	if n := admitted.Load(); n > 3+1 {
		t.Errorf("admitted %d within window, want <= 4", n)
	}

	// Completions re-trigger admission; the next window drains the rest.
	for _, ch := range chans {
		<-ch
	}
	if n := admitted.Load(); n != 6 {
		t.Errorf("admitted = %d, want 6", n)
	}
}

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()

	q := New("test", Config{MaxConcurrent: 1}, nil)

	// Occupy the single slot so subsequent enqueues stay pending together.
	block := make(chan struct{})
	gate, err := q.Enqueue(context.Background(), 0, func(context.Context) (*gateway.ChatResponse, error) {
		<-block
		return &gateway.ChatResponse{}, nil
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var mu sync.Mutex
	var order []string
	handler := func(name string) Handler {
		return func(context.Context) (*gateway.ChatResponse, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return &gateway.ChatResponse{}, nil
		}
	}

	chans := make([]<-chan Result, 0, 3)
	for _, e := range []struct {
		name     string
		priority int
	}{{"low", 1}, {"high", 10}, {"mid", 5}} {
		ch, err := q.Enqueue(context.Background(), e.priority, handler(e.name))
		if err != nil {
			t.Fatalf("Enqueue %s: %v", e.name, err)
		}
		chans = append(chans, ch)
	}

	close(block)
	<-gate
	for _, ch := range chans {
		<-ch
	}

	want := []string{"high", "mid", "low"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestExecutionTimeout(t *testing.T) {
	t.Parallel()

	q := New("test", Config{ExecTimeout: 30 * time.Millisecond}, nil)
	ch, err := q.Enqueue(context.Background(), 0, func(ctx context.Context) (*gateway.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	res := <-ch
	if !errors.Is(res.Err, gateway.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", res.Err)
	}
}

func TestCallerCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := New("test", Config{}, nil)
	ch, err := q.Enqueue(ctx, 0, okHandler(&gateway.ChatResponse{}))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	res := <-ch
	if !errors.Is(res.Err, gateway.ErrCanceled) {
		t.Errorf("err = %v, want ErrCanceled", res.Err)
	}
}

func TestPendingCancellationFreesSlot(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	q := New("test", Config{MaxQueueSize: 1, MaxConcurrent: 1, RateLimit: 2, RateWindow: time.Minute}, nil)

	// Occupy the single executor so the next item stays pending.
	if _, err := q.Enqueue(context.Background(), 0, func(context.Context) (*gateway.ChatResponse, error) {
		<-block
		return &gateway.ChatResponse{}, nil
	}); err != nil {
		t.Fatalf("Enqueue blocker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := q.Enqueue(ctx, 0, okHandler(nil))
	if err != nil {
		t.Fatalf("Enqueue pending: %v", err)
	}

	// Cancellation resolves the pending item without waiting for admission.
	cancel()
	select {
	case res := <-ch:
		if !errors.Is(res.Err, gateway.ErrCanceled) {
			t.Fatalf("err = %v, want ErrCanceled", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("canceled pending item did not resolve")
	}

	// The slot is free again and the canceled item burned no window stamp.
	ch2, err := q.Enqueue(context.Background(), 0, okHandler(&gateway.ChatResponse{ID: "r2"}))
	if err != nil {
		t.Fatalf("Enqueue after cancel: %v", err)
	}
	close(block)
	if res := <-ch2; res.Err != nil || res.Resp.ID != "r2" {
		t.Fatalf("result = %+v", res)
	}
	if st := q.Stats(); st.Pending != 0 || st.WindowUsed != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPauseResume(t *testing.T) {
	t.Parallel()

	q := New("test", Config{MaxConcurrent: 1}, nil)
	q.Pause()

	var ran atomic.Bool
	ch, err := q.Enqueue(context.Background(), 0, func(context.Context) (*gateway.ChatResponse, error) {
		ran.Store(true)
		return &gateway.ChatResponse{}, nil
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if ran.Load() {
		t.Fatal("handler ran while paused")
	}

	q.Resume()
	res := <-ch
	if res.Err != nil {
		t.Errorf("result err = %v", res.Err)
	}
}

func TestClearRejectsPending(t *testing.T) {
	t.Parallel()

	q := New("test", Config{MaxConcurrent: 1}, nil)
	q.Pause()

	chans := make([]<-chan Result, 0, 3)
	for i := 0; i < 3; i++ {
		ch, err := q.Enqueue(context.Background(), 0, okHandler(nil))
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		chans = append(chans, ch)
	}

	if n := q.Clear(); n != 3 {
		t.Errorf("cleared = %d, want 3", n)
	}
	for _, ch := range chans {
		res := <-ch
		if !errors.Is(res.Err, gateway.ErrQueueCleared) {
			t.Errorf("err = %v, want ErrQueueCleared", res.Err)
		}
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	q := New("openai", Config{MaxConcurrent: 1, RateLimit: 60}, nil)
	q.Pause()
	if _, err := q.Enqueue(context.Background(), 0, okHandler(nil)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	s := q.Stats()
	if s.Provider != "openai" || s.Pending != 1 || !s.Paused {
		t.Errorf("stats = %+v", s)
	}
	q.Clear()
}

func TestManagerPresets(t *testing.T) {
	t.Parallel()

	m := NewManager(nil, nil)
	q := m.Get("anthropic")
	if q.cfg.RateLimit != 50 || q.cfg.MaxConcurrent != 4 {
		t.Errorf("anthropic preset = %+v", q.cfg)
	}
	if m.Get("anthropic") != q {
		t.Error("Get should return the same queue instance")
	}

	local := m.Get("ollama")
	if local.cfg.MaxConcurrent != 1 {
		t.Errorf("ollama preset = %+v", local.cfg)
	}

	unknown := m.Get("some-custom")
	if unknown.cfg.RateLimit != 60 || unknown.cfg.MaxConcurrent != 5 {
		t.Errorf("default preset = %+v", unknown.cfg)
	}
}

func TestManagerOverrides(t *testing.T) {
	t.Parallel()

	m := NewManager(map[string]Config{"openai": {RateLimit: 5, MaxConcurrent: 2}}, nil)
	q := m.Get("openai")
	if q.cfg.RateLimit != 5 || q.cfg.MaxConcurrent != 2 {
		t.Errorf("override = %+v", q.cfg)
	}
}
