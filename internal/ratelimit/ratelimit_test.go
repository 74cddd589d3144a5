package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryLimiterEnforcesBudget(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	l := NewMemoryLimiter(func() time.Time { return now })
	campaignID := uuid.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, campaignID, 3)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("allow %d: denied before budget exhausted", i)
		}
	}

	ok, err := l.Allow(ctx, campaignID, 3)
	if err != nil {
		t.Fatalf("allow over budget: %v", err)
	}
	if ok {
		t.Fatal("allowed past per-minute budget")
	}
}

func TestMemoryLimiterNewWindowResetsBudget(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 30, 59, 0, time.UTC)
	l := NewMemoryLimiter(func() time.Time { return now })
	campaignID := uuid.New()
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, campaignID, 1); !ok {
		t.Fatal("first dispatch denied")
	}
	if ok, _ := l.Allow(ctx, campaignID, 1); ok {
		t.Fatal("budget not enforced within window")
	}

	now = now.Add(time.Second) // crosses into the next minute
	if ok, _ := l.Allow(ctx, campaignID, 1); !ok {
		t.Fatal("new window did not reset budget")
	}
}

func TestMemoryLimiterDropsStaleWindows(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	l := NewMemoryLimiter(func() time.Time { return now })
	campaignID := uuid.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow(ctx, campaignID, 10); !ok {
			t.Fatalf("allow %d denied", i)
		}
		now = now.Add(time.Minute)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if got := len(l.counts[campaignID]); got != 1 {
		t.Fatalf("retained windows = %d, want 1", got)
	}
}

func TestMemoryLimiterIndependentCampaigns(t *testing.T) {
	l := NewMemoryLimiter(nil)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	if ok, _ := l.Allow(ctx, a, 1); !ok {
		t.Fatal("campaign a denied")
	}
	if ok, _ := l.Allow(ctx, b, 1); !ok {
		t.Fatal("campaign b denied after a spent its budget")
	}
}

func TestMemoryLimiterZeroLimitUnrestricted(t *testing.T) {
	l := NewMemoryLimiter(nil)
	ctx := context.Background()
	campaignID := uuid.New()

	for i := 0; i < 10; i++ {
		if ok, _ := l.Allow(ctx, campaignID, 0); !ok {
			t.Fatal("zero limit should not restrict")
		}
	}
}
