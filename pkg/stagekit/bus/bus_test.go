package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubscribeNilHandler(t *testing.T) {
	b := New()
	_, err := b.Subscribe("a:b", nil)
	if !errors.Is(err, ErrNilHandler) {
		t.Fatalf("expected ErrNilHandler, got %v", err)
	}
}

func TestPublishExact(t *testing.T) {
	b := New()
	var calls atomic.Int32

	_, err := b.Subscribe("tts:start", func(ctx context.Context, payload any, signal string) error {
		if signal != "tts:start" {
			t.Errorf("handler received signal %q", signal)
		}
		if payload != "hello" {
			t.Errorf("handler received payload %v", payload)
		}
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	res := b.Publish(context.Background(), "tts:start", "hello")
	if res.Handled != 1 || res.Failed != 0 {
		t.Fatalf("got %+v", res)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times", calls.Load())
	}

	// non-matching signal
	res = b.Publish(context.Background(), "tts:stop", nil)
	if res.Handled != 0 {
		t.Fatalf("non-matching publish reached handler: %+v", res)
	}
}

func TestPublishWildcard(t *testing.T) {
	b := New()
	var namespaced, global atomic.Int32

	b.Subscribe("tts:*", func(ctx context.Context, payload any, signal string) error {
		namespaced.Add(1)
		return nil
	})
	b.Subscribe("*", func(ctx context.Context, payload any, signal string) error {
		global.Add(1)
		return nil
	})

	b.Publish(context.Background(), "tts:request:start", nil)
	b.Publish(context.Background(), "stt:request:start", nil)

	if namespaced.Load() != 1 {
		t.Errorf("namespace wildcard ran %d times, want 1", namespaced.Load())
	}
	if global.Load() != 2 {
		t.Errorf("global wildcard ran %d times, want 2", global.Load())
	}
}

func TestPublishDeduplicatesHandler(t *testing.T) {
	b := New()
	var calls atomic.Int32
	handler := func(ctx context.Context, payload any, signal string) error {
		calls.Add(1)
		return nil
	}

	// Same handler behind an exact and a wildcard subscription.
	b.Subscribe("tts:start", handler)
	b.Subscribe("tts:*", handler)

	b.Publish(context.Background(), "tts:start", nil)
	if calls.Load() != 1 {
		t.Fatalf("duplicated handler ran %d times, want 1", calls.Load())
	}

	// A distinct handler still runs alongside.
	var other atomic.Int32
	b.Subscribe("tts:*", func(ctx context.Context, payload any, signal string) error {
		other.Add(1)
		return nil
	})
	b.Publish(context.Background(), "tts:start", nil)
	if calls.Load() != 2 || other.Load() != 1 {
		t.Fatalf("calls=%d other=%d", calls.Load(), other.Load())
	}
}

func TestPublishDistinctClosuresFromOneLiteral(t *testing.T) {
	b := New()
	ran := make([]atomic.Bool, 3)

	// Loop registration creates three distinct handler instances even
	// though they share a func literal. All three must run.
	for i := 0; i < 3; i++ {
		b.Subscribe("alpha", func(ctx context.Context, payload any, signal string) error {
			ran[i].Store(true)
			return nil
		})
	}

	result := b.Publish(context.Background(), "alpha", nil)
	if result.Handled != 3 {
		t.Fatalf("handled %d, want 3", result.Handled)
	}
	for i := range ran {
		if !ran[i].Load() {
			t.Fatalf("subscriber %d never ran", i)
		}
	}
}

func TestPublishFailureIsolation(t *testing.T) {
	b := New()
	var good atomic.Int32

	b.Subscribe("job:*", func(ctx context.Context, payload any, signal string) error {
		good.Add(1)
		return nil
	})
	b.Subscribe("job:run", func(ctx context.Context, payload any, signal string) error {
		return errors.New("handler failed")
	})
	b.Subscribe("*", func(ctx context.Context, payload any, signal string) error {
		good.Add(1)
		return nil
	})

	res := b.Publish(context.Background(), "job:run", nil)
	if res.Handled != 2 {
		t.Errorf("Handled = %d, want 2", res.Handled)
	}
	if res.Failed != 1 {
		t.Errorf("Failed = %d, want 1", res.Failed)
	}
	if good.Load() != 2 {
		t.Errorf("healthy handlers ran %d times, want 2", good.Load())
	}
}

func TestPublishPanicIsolation(t *testing.T) {
	b := New()
	var survived atomic.Int32

	b.Subscribe("x", func(ctx context.Context, payload any, signal string) error {
		panic("handler exploded")
	})
	b.Subscribe("x", func(ctx context.Context, payload any, signal string) error {
		survived.Add(1)
		return nil
	})

	res := b.Publish(context.Background(), "x", nil)
	if res.Failed != 1 || res.Handled != 1 {
		t.Fatalf("got %+v", res)
	}
	if survived.Load() != 1 {
		t.Fatal("sibling handler did not survive panic")
	}
}

func TestErrorObserver(t *testing.T) {
	b := New()
	b.Subscribe("a", func(ctx context.Context, payload any, signal string) error {
		return errors.New("first")
	})
	b.Subscribe("a", func(ctx context.Context, payload any, signal string) error {
		return errors.New("second")
	})

	var mu sync.Mutex
	var notices []ErrorNotice
	remove, err := b.OnError(func(notice ErrorNotice) {
		mu.Lock()
		notices = append(notices, notice)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	b.Publish(context.Background(), "a", nil)

	mu.Lock()
	if len(notices) != 1 {
		t.Fatalf("observer saw %d notices, want 1 aggregated", len(notices))
	}
	if notices[0].Signal != "a" || len(notices[0].Errors) != 2 {
		t.Fatalf("notice = %+v", notices[0])
	}
	mu.Unlock()

	// After removal the observer is silent.
	remove()
	b.Publish(context.Background(), "a", nil)
	mu.Lock()
	if len(notices) != 1 {
		t.Fatal("removed observer still notified")
	}
	mu.Unlock()
}

func TestErrorObserverPanicSwallowed(t *testing.T) {
	b := New()
	b.Subscribe("a", func(ctx context.Context, payload any, signal string) error {
		return errors.New("bad")
	})
	b.OnError(func(notice ErrorNotice) {
		panic("observer exploded")
	})

	// Must not panic the publisher.
	res := b.Publish(context.Background(), "a", nil)
	if res.Failed != 1 {
		t.Fatalf("got %+v", res)
	}
}

func TestPublishSyncOrder(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		b.Subscribe("seq", func(ctx context.Context, payload any, signal string) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}

	res := b.PublishSync(context.Background(), "seq", nil)
	if res.Handled != 5 {
		t.Fatalf("got %+v", res)
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("delivery order %v not registration order", order)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	var calls atomic.Int32
	handler := func(ctx context.Context, payload any, signal string) error {
		calls.Add(1)
		return nil
	}

	sub, _ := b.Subscribe("a", handler)
	if b.SubscriberCount() != 1 {
		t.Fatal("expected one subscription")
	}

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent
	if b.SubscriberCount() != 0 {
		t.Fatal("subscription not removed")
	}

	b.Publish(context.Background(), "a", nil)
	if calls.Load() != 0 {
		t.Fatal("unsubscribed handler ran")
	}
}

func TestUnsubscribeByPatternAndHandler(t *testing.T) {
	b := New()
	handler := func(ctx context.Context, payload any, signal string) error { return nil }
	other := func(ctx context.Context, payload any, signal string) error { return nil }

	b.Subscribe("a", handler)
	b.Subscribe("a", other)
	b.Subscribe("b", handler)

	removed := b.Unsubscribe("a", handler)
	if removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}
	if b.SubscriberCount("a") != 1 || b.SubscriberCount("b") != 1 {
		t.Fatalf("counts a=%d b=%d", b.SubscriberCount("a"), b.SubscriberCount("b"))
	}
}

func TestHistory(t *testing.T) {
	b := New(WithHistorySize(3))

	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), fmt.Sprintf("sig:%d", i), i)
	}

	// Only the 3 most recent publishes survive.
	names := b.SignalNames()
	want := []string{"sig:2", "sig:3", "sig:4"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}

	recs := b.History("sig:4")
	if len(recs) != 1 || recs[0].Payload != 4 {
		t.Fatalf("history = %+v", recs)
	}
	if recs[0].At.After(time.Now()) {
		t.Fatal("record timestamp in the future")
	}
	if len(b.History("sig:0")) != 0 {
		t.Fatal("evicted record still present")
	}
}

func TestHistoryRecordsUnmatchedSignals(t *testing.T) {
	b := New()
	b.Publish(context.Background(), "nobody:listens", nil)
	if len(b.History("nobody:listens")) != 1 {
		t.Fatal("publish without subscribers should still be recorded")
	}
}

func TestClear(t *testing.T) {
	b := New()
	b.Subscribe("a", func(ctx context.Context, payload any, signal string) error { return nil })
	b.Publish(context.Background(), "a", nil)

	b.Clear()

	if b.SubscriberCount() != 0 {
		t.Fatal("subscriptions survived Clear")
	}
	if len(b.SignalNames()) != 0 {
		t.Fatal("history survived Clear")
	}
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	var calls atomic.Int64

	b.Subscribe("load:*", func(ctx context.Context, payload any, signal string) error {
		calls.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	const publishers = 16
	const perPublisher = 50
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				b.Publish(context.Background(), fmt.Sprintf("load:%d", i), j)
			}
		}(i)
	}
	wg.Wait()

	if calls.Load() != publishers*perPublisher {
		t.Fatalf("handler ran %d times, want %d", calls.Load(), publishers*perPublisher)
	}
}
