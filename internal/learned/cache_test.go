package learned

import (
	"context"
	"testing"

	"github.com/bkowalcz/pricewatch/internal/storage"
)

func TestKey(t *testing.T) {
	if got := Key("omtechlaser.com", "omt-60w"); got != "omtechlaser.com|omt-60w" {
		t.Errorf("Key() = %q", got)
	}
}

func TestCacheSuccessThenGet(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(storage.NewMemory(), 3)

	if err := cache.MarkSuccess(ctx, "omtechlaser.com", "omt-60w", ".product__price", "product-selector"); err != nil {
		t.Fatalf("MarkSuccess() error = %v", err)
	}

	got, err := cache.Get(ctx, "omtechlaser.com", "omt-60w")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() = nil after MarkSuccess")
	}
	if got.Selector != ".product__price" || got.Strategy != "product-selector" {
		t.Errorf("entry = %+v", got)
	}
	if got.Misses != 0 || got.Confidence != 1.0 {
		t.Errorf("fresh entry has misses=%d confidence=%v", got.Misses, got.Confidence)
	}
}

func TestCacheGetMissingReturnsNil(t *testing.T) {
	cache := NewCache(storage.NewMemory(), 3)
	got, err := cache.Get(context.Background(), "unknown.example", "nope")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v, want nil", got)
	}
}

func TestCacheEvictsAfterMaxMisses(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(storage.NewMemory(), 3)

	if err := cache.MarkSuccess(ctx, "example.com", "p1", "#price", "domain-selector"); err != nil {
		t.Fatalf("MarkSuccess() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := cache.MarkMiss(ctx, "example.com", "p1"); err != nil {
			t.Fatalf("MarkMiss() #%d error = %v", i+1, err)
		}
		got, _ := cache.Get(ctx, "example.com", "p1")
		if got == nil {
			t.Fatalf("entry evicted after %d misses, want survival until 3", i+1)
		}
		if got.Misses != i+1 {
			t.Errorf("Misses = %d, want %d", got.Misses, i+1)
		}
	}

	if err := cache.MarkMiss(ctx, "example.com", "p1"); err != nil {
		t.Fatalf("MarkMiss() #3 error = %v", err)
	}
	if got, _ := cache.Get(ctx, "example.com", "p1"); got != nil {
		t.Errorf("entry = %+v after 3 consecutive misses, want evicted", got)
	}
}

func TestCacheSuccessResetsMisses(t *testing.T) {
	ctx := context.Background()
	cache := NewCache(storage.NewMemory(), 3)

	if err := cache.MarkSuccess(ctx, "example.com", "p1", "#price", "domain-selector"); err != nil {
		t.Fatal(err)
	}
	if err := cache.MarkMiss(ctx, "example.com", "p1"); err != nil {
		t.Fatal(err)
	}
	if err := cache.MarkMiss(ctx, "example.com", "p1"); err != nil {
		t.Fatal(err)
	}
	// A validated success wipes the miss streak and replaces the selector.
	if err := cache.MarkSuccess(ctx, "example.com", "p1", ".new-price", "structured-data"); err != nil {
		t.Fatal(err)
	}

	got, _ := cache.Get(ctx, "example.com", "p1")
	if got == nil {
		t.Fatal("entry missing after refresh")
	}
	if got.Misses != 0 || got.Selector != ".new-price" {
		t.Errorf("entry = %+v, want reset misses and new selector", got)
	}
}

func TestCacheMissOnAbsentEntryIsNoop(t *testing.T) {
	cache := NewCache(storage.NewMemory(), 3)
	if err := cache.MarkMiss(context.Background(), "example.com", "never-learned"); err != nil {
		t.Errorf("MarkMiss() on absent entry error = %v, want nil", err)
	}
}
