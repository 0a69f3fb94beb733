package cache_test

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/memes/machin/pkg/cache"
)

const (
	TEST_CACHE_LOOP_LIMIT = 10
)

// The noopCache should do nothing useful. This test confirms that values can
// appear to be added successfully, but an attempt to recall the value will
// result in an empty string.
func TestNoopCache(t *testing.T) {
	ctx := context.Background()
	cache := cache.NewNoopCache()
	if cache == nil {
		t.Error("Noop cache is nil")
	}
	for i := uint64(0); i < TEST_CACHE_LOOP_LIMIT; i++ {
		expected := ""
		key := strconv.FormatUint(i, 16)
		actual, err := cache.GetValue(ctx, key)
		if err != nil {
			t.Errorf("GetValue returned an error: %v", err)
		}
		if actual != expected {
			t.Errorf("Index %d: Expected %s received %s", i, expected, actual)
		}
		if err = cache.SetValue(ctx, key, "3.141"); err != nil {
			t.Errorf("Index: %d: SetValue returned an error: %v", i, err)
		}
		actual, err = cache.GetValue(ctx, key)
		if err != nil {
			t.Errorf("GetValue returned an error: %v", err)
		}
		if actual != expected {
			t.Errorf("Index %d: Expected %s received %s", i, expected, actual)
		}
	}
}

// The RedisCache will use a Redis-like in-memory instance to cache values. The
// test should confirm that a value can be added to the cache and recalled
// successfully.
func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mock, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Error running miniredis: %v", err)
	}
	defer mock.Close()
	cache := cache.NewRedisCache(ctx, mock.Addr())
	if cache == nil {
		t.Fatal("Redis cache is nil")
	}
	for i := uint64(0); i < TEST_CACHE_LOOP_LIMIT; i++ {
		expected := ""
		key := strconv.FormatUint(i, 16)
		actual, err := cache.GetValue(ctx, key)
		if err != nil {
			t.Errorf("GetValue returned an error: %v", err)
		}
		if actual != expected {
			t.Errorf("Index %d: Expected %s received %s", i, expected, actual)
		}
		expected = fmt.Sprintf("3.%09d", i)
		if err = cache.SetValue(ctx, key, expected); err != nil {
			t.Errorf("Index: %d: SetValue returned an error: %v", i, err)
		}
		actual, err = cache.GetValue(ctx, key)
		if err != nil {
			t.Errorf("GetValue returned an error: %v", err)
		}
		if actual != expected {
			t.Errorf("Index %d: Expected %s received %s", i, expected, actual)
		}
	}
}

func TestRedisCache_WithOptions(t *testing.T) {
	ctx := context.Background()
	mock, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Error running miniredis: %v", err)
	}
	defer mock.Close()
	cache := cache.NewRedisCache(ctx, mock.Addr(),
		cache.WithKeyPrefix("machin:"),
		cache.WithExpiration(time.Hour),
		cache.WithMaxIdle(2),
	)
	if err := cache.SetValue(ctx, "a", "3.141592"); err != nil {
		t.Fatalf("SetValue returned an error: %v", err)
	}
	stored, err := mock.Get("machin:a")
	if err != nil {
		t.Fatalf("Expected key with prefix to be present: %v", err)
	}
	if stored != "3.141592" {
		t.Errorf("Expected 3.141592 received %s", stored)
	}
	if ttl := mock.TTL("machin:a"); ttl <= 0 {
		t.Errorf("Expected a positive TTL, got %v", ttl)
	}
	actual, err := cache.GetValue(ctx, "a")
	if err != nil {
		t.Errorf("GetValue returned an error: %v", err)
	}
	if actual != "3.141592" {
		t.Errorf("Expected 3.141592 received %s", actual)
	}
}

// A cache that cannot reach Redis must report an error rather than a miss.
func TestRedisCache_Unavailable(t *testing.T) {
	ctx := context.Background()
	mock, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Error running miniredis: %v", err)
	}
	address := mock.Addr()
	mock.Close()
	cache := cache.NewRedisCache(ctx, address)
	if _, err := cache.GetValue(ctx, "a"); err == nil {
		t.Error("Expected GetValue to return an error")
	}
	if err := cache.SetValue(ctx, "a", "3.14"); err == nil {
		t.Error("Expected SetValue to return an error")
	}
}
