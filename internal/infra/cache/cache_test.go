package cache_test

import (
	"testing"
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"
	"github.com/boddenberg/pdv-fiscal-go/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("status:2603abcd1234", "autorizado")
	val, ok := c.Get("status:2603abcd1234")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "autorizado" {
		t.Errorf("expected 'autorizado', got '%s'", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	_, ok := c.Get("nonexistent")
	if ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Close()

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_CleanupRemovesExpired(t *testing.T) {
	c := cache.New[*domain.AuthorityResponse](20 * time.Millisecond)
	defer c.Close()

	c.Set("status:k1", &domain.AuthorityResponse{Success: true})
	time.Sleep(100 * time.Millisecond)

	if n := c.Len(); n != 0 {
		t.Errorf("expected expired entries to be swept, got %d", n)
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	c.Delete("key1")

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := cache.New[string](time.Minute)
	c.Close()
	c.Close()
}
