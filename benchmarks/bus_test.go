package benchmarks

import (
	"context"
	"fmt"
	"testing"

	"github.com/stagekit/stagekit/pkg/stagekit/bus"
)

func noopHandler(ctx context.Context, payload any, signal string) error {
	return nil
}

// busWithSubscribers creates a bus with n exact-match subscribers on one signal.
func busWithSubscribers(n int) *bus.Bus {
	b := bus.New()
	for i := 0; i < n; i++ {
		b.Subscribe("bench:signal", func(ctx context.Context, payload any, signal string) error {
			return nil
		})
	}
	return b
}

// BenchmarkPublish_1Subscriber measures dispatch to a single handler.
func BenchmarkPublish_1Subscriber(b *testing.B) {
	sb := busWithSubscribers(1)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sb.Publish(ctx, "bench:signal", i)
	}
}

// BenchmarkPublish_10Subscribers measures concurrent fan-out to ten handlers.
func BenchmarkPublish_10Subscribers(b *testing.B) {
	sb := busWithSubscribers(10)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sb.Publish(ctx, "bench:signal", i)
	}
}

// BenchmarkPublishSync_10Subscribers measures sequential fan-out.
func BenchmarkPublishSync_10Subscribers(b *testing.B) {
	sb := busWithSubscribers(10)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sb.PublishSync(ctx, "bench:signal", i)
	}
}

// BenchmarkPublish_Wildcard measures pattern matching against many patterns.
func BenchmarkPublish_Wildcard(b *testing.B) {
	sb := bus.New()
	for i := 0; i < 20; i++ {
		sb.Subscribe(fmt.Sprintf("topic%d:*", i), noopHandler)
	}
	sb.Subscribe("topic5:*", noopHandler)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sb.Publish(ctx, "topic5:event:detail", i)
	}
}

// BenchmarkSubscribe measures registration cost.
func BenchmarkSubscribe(b *testing.B) {
	for i := 0; i < b.N; i++ {
		sb := bus.New()
		sb.Subscribe("bench:signal", noopHandler)
	}
}
