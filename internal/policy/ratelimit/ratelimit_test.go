package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/swatchlab/swatchsync/internal/metrics"
)

func TestNilLimiterNeverWaits(t *testing.T) {
	var l *Limiter
	if err := l.Wait(context.Background(), "https://colors.example/lookup"); err != nil {
		t.Fatalf("nil limiter returned %v", err)
	}
	if New(0) != nil {
		t.Fatal("New(0) must return nil")
	}
}

func TestWaitEnforcesPerHostBudget(t *testing.T) {
	metrics.Init()
	l := New(50)
	ctx := context.Background()

	start := time.Now()
	if err := l.Wait(ctx, "https://colors.example/lookup"); err != nil {
		t.Fatal(err)
	}
	if err := l.Wait(ctx, "https://colors.example/lookup"); err != nil {
		t.Fatal(err)
	}
	// 50 QPS means the second navigation waits roughly 20ms.
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("second wait returned after %v; want >= 15ms", elapsed)
	}
}

func TestWaitSeparatesHosts(t *testing.T) {
	metrics.Init()
	l := New(1)
	ctx := context.Background()

	start := time.Now()
	if err := l.Wait(ctx, "https://a.example/"); err != nil {
		t.Fatal(err)
	}
	if err := l.Wait(ctx, "https://b.example/"); err != nil {
		t.Fatal(err)
	}
	// Different hosts have independent budgets, so the second call
	// must not wait out the 1 QPS window.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("independent hosts waited %v", elapsed)
	}
}

func TestWaitRejectsBadURL(t *testing.T) {
	l := New(10)
	if err := l.Wait(context.Background(), "http://%"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWaitHonorsContext(t *testing.T) {
	metrics.Init()
	l := New(0.001)
	ctx := context.Background()
	if err := l.Wait(ctx, "https://slow.example/"); err != nil {
		t.Fatal(err)
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(cancelCtx, "https://slow.example/"); err == nil {
		t.Fatal("expected context error while waiting out the budget")
	}
}
