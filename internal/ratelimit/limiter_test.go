package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/autotagger/internal/providers"
)

type countingProvider struct {
	calls atomic.Int32
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Detect(ctx context.Context, file string, hints providers.Hints) (*providers.Response, error) {
	p.calls.Add(1)
	return providers.NewResponse(), nil
}

func TestWrap_QueuesInsteadOfFailing(t *testing.T) {
	inner := &countingProvider{}
	p := Wrap(inner, 20)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Detect(context.Background(), "a.jpg", providers.Hints{}); err != nil {
				t.Errorf("Detect() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := inner.calls.Load(); got != 5 {
		t.Errorf("Expected 5 calls, got %d", got)
	}
	// 5 calls at 20/s with a burst of 1 need at least 4 intervals of 50ms.
	if elapsed := time.Since(start); elapsed < 180*time.Millisecond {
		t.Errorf("Expected calls to be spread out, took only %s", elapsed)
	}
	if p.Name() != "counting" {
		t.Errorf("Expected name counting, got %s", p.Name())
	}
}

func TestWrap_ContextCancelled(t *testing.T) {
	inner := &countingProvider{}
	p := Wrap(inner, 0.001)

	// First call consumes the only token.
	if _, err := p.Detect(context.Background(), "a.jpg", providers.Hints{}); err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Detect(ctx, "a.jpg", providers.Hints{}); err == nil {
		t.Error("Expected error when context expires while waiting")
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("Expected 1 call, got %d", got)
	}
}

func TestWrap_DisabledForNonPositiveRate(t *testing.T) {
	inner := &countingProvider{}
	if p := Wrap(inner, 0); p != providers.Provider(inner) {
		t.Error("Expected the provider to be returned unwrapped")
	}
}
