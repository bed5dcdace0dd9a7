package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestKeyForIdentity(t *testing.T) {
	if got := KeyForIdentity("user-1", "iphash", "fphash"); got != "u:user-1" {
		t.Fatalf("key = %q, want u:user-1", got)
	}
	if got := KeyForIdentity("", "iphash", "fphash"); got != "fp:fphash" {
		t.Fatalf("key = %q, want fp:fphash", got)
	}
	if got := KeyForIdentity("", "iphash", ""); got != "ip:iphash" {
		t.Fatalf("key = %q, want ip:iphash", got)
	}
	if got := KeyForIdentity("", "", ""); got != "" {
		t.Fatalf("key = %q, want empty", got)
	}
}

func TestMemoryLimiterFixedWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		result, errAllow := limiter.Allow(context.Background(), "u:1", 3, time.Second, now)
		if errAllow != nil {
			t.Fatalf("allow %d: %v", i, errAllow)
		}
		if !result.Allowed {
			t.Fatalf("allow %d: expected allowed", i)
		}
	}

	result, errAllow := limiter.Allow(context.Background(), "u:1", 3, time.Second, now)
	if errAllow != nil {
		t.Fatalf("allow over limit: %v", errAllow)
	}
	if result.Allowed {
		t.Fatal("expected denial past the limit")
	}
	if result.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", result.Remaining)
	}

	// A new window resets the counter.
	later := now.Add(time.Second)
	result, errAllow = limiter.Allow(context.Background(), "u:1", 3, time.Second, later)
	if errAllow != nil {
		t.Fatalf("allow next window: %v", errAllow)
	}
	if !result.Allowed {
		t.Fatal("expected allowance in the next window")
	}
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Now()

	if result, _ := limiter.Allow(context.Background(), "u:1", 1, time.Second, now); !result.Allowed {
		t.Fatal("first key should be allowed")
	}
	if result, _ := limiter.Allow(context.Background(), "u:1", 1, time.Second, now); result.Allowed {
		t.Fatal("first key should be exhausted")
	}
	if result, _ := limiter.Allow(context.Background(), "u:2", 1, time.Second, now); !result.Allowed {
		t.Fatal("second key should be unaffected")
	}
}

func TestMemoryLimiterZeroLimitBypasses(t *testing.T) {
	limiter := NewMemoryLimiter()
	result, errAllow := limiter.Allow(context.Background(), "u:1", 0, time.Second, time.Now())
	if errAllow != nil {
		t.Fatalf("allow: %v", errAllow)
	}
	if !result.Allowed {
		t.Fatal("zero limit should disable the check")
	}
}

func TestManagerUsesMemoryWhenRedisDisabled(t *testing.T) {
	provider := func() SettingsConfig {
		return SettingsConfig{Limit: 2}
	}
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	manager := NewManager(provider, time.Second, func() time.Time { return now }, nil)

	for i := 0; i < 2; i++ {
		result, errAllow := manager.Allow(context.Background(), "u:1")
		if errAllow != nil {
			t.Fatalf("allow %d: %v", i, errAllow)
		}
		if !result.Allowed {
			t.Fatalf("allow %d: expected allowed", i)
		}
	}
	result, errAllow := manager.Allow(context.Background(), "u:1")
	if errAllow != nil {
		t.Fatalf("allow over limit: %v", errAllow)
	}
	if result.Allowed {
		t.Fatal("expected denial past the limit")
	}
}

func TestManagerDisabledLimitAllowsEverything(t *testing.T) {
	provider := func() SettingsConfig {
		return SettingsConfig{Limit: 0}
	}
	manager := NewManager(provider, time.Second, nil, nil)
	for i := 0; i < 10; i++ {
		result, errAllow := manager.Allow(context.Background(), "u:1")
		if errAllow != nil {
			t.Fatalf("allow %d: %v", i, errAllow)
		}
		if !result.Allowed {
			t.Fatalf("allow %d: expected allowed", i)
		}
	}
}
