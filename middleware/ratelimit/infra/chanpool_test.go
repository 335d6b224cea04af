package infra

import (
	"context"
	"testing"
	"time"
)

func TestChanPool_LimitsAndReleases(t *testing.T) {
	p := NewChanPool(2)

	r1, ok := p.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected first acquire ok")
	}
	r2, ok := p.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected second acquire ok")
	}
	if p.Utilization() != 1 {
		t.Fatalf("expected full utilization, got %v", p.Utilization())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := p.Acquire(ctx); ok {
		t.Fatalf("expected acquire to fail when pool is full")
	}

	r1()
	if p.InUse() != 1 {
		t.Fatalf("expected 1 in use after release, got %d", p.InUse())
	}
	r2()
	if p.Utilization() != 0 {
		t.Fatalf("expected zero utilization, got %v", p.Utilization())
	}
}

func TestChanPool_MinimumCapacity(t *testing.T) {
	if NewChanPool(0).Cap() != 1 {
		t.Fatalf("expected capacity clamped to 1")
	}
}
