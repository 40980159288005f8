package analyst

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailmind/internal/domain"
)

func TestRedisLimiterBurstThenPark(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	// 60/min refills one token per second; burst of 2.
	l := NewRedisLimiter(client, 60, 2)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx, domain.AnalystPredictive); err != nil {
			t.Fatalf("burst acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("burst should not park, took %v", elapsed)
	}

	// Third token requires a refill wait of ~1s.
	start = time.Now()
	if err := l.Acquire(ctx, domain.AnalystPredictive); err != nil {
		t.Fatalf("post-burst acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("expected a parked refill wait, got %v", elapsed)
	}
}

func TestRedisLimiterKindsIndependent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLimiter(client, 60, 1)
	ctx := context.Background()

	if err := l.Acquire(ctx, domain.AnalystPredictive); err != nil {
		t.Fatalf("predictive: %v", err)
	}
	// A different kind has its own bucket and must not park.
	start := time.Now()
	if err := l.Acquire(ctx, domain.AnalystMarketIntelligence); err != nil {
		t.Fatalf("market: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("kinds share a bucket: waited %v", elapsed)
	}
}

func TestRedisLimiterHonorsCancellation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	// 1/min: after the single burst token the next wait is ~a minute.
	l := NewRedisLimiter(client, 1, 1)
	if err := l.Acquire(context.Background(), domain.AnalystPredictive); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, domain.AnalystPredictive)
	if err == nil {
		t.Fatal("expected cancellation while parked")
	}
}

func TestLocalLimiterMatchesRedisSemantics(t *testing.T) {
	l := NewLocalLimiter(60, 2)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx, domain.AnalystPredictive); err != nil {
			t.Fatalf("burst acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("burst should not park, took %v", elapsed)
	}

	start = time.Now()
	if err := l.Acquire(ctx, domain.AnalystPredictive); err != nil {
		t.Fatalf("post-burst acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("expected a parked refill wait, got %v", elapsed)
	}
}
