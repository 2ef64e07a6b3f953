package cache

import (
	"context"
	"testing"
	"time"

	"fsmvid-proxy/pkg/types"
)

func TestMemory_GetSet(t *testing.T) {
	c := NewMemory(time.Hour)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "https://www.youtube.com/watch?v=abc"); ok {
		t.Fatal("empty cache should miss")
	}

	resp := &types.MediaResponse{Status: "success", Title: "test video"}
	if err := c.Set(ctx, "https://www.youtube.com/watch?v=abc", resp); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok := c.Get(ctx, "https://www.youtube.com/watch?v=abc")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Title != "test video" {
		t.Errorf("Title = %q, want %q", got.Title, "test video")
	}
}

func TestMemory_Expiry(t *testing.T) {
	c := NewMemory(time.Minute)
	ctx := context.Background()

	current := time.Now()
	c.now = func() time.Time { return current }

	c.Set(ctx, "key", &types.MediaResponse{Status: "success"})

	if _, ok := c.Get(ctx, "key"); !ok {
		t.Fatal("entry should be live within TTL")
	}

	current = current.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, "key"); ok {
		t.Error("entry should expire after TTL")
	}
}

func TestMemory_Cleanup(t *testing.T) {
	c := NewMemory(time.Minute)
	ctx := context.Background()

	current := time.Now()
	c.now = func() time.Time { return current }

	c.Set(ctx, "old", &types.MediaResponse{Status: "success"})
	current = current.Add(2 * time.Minute)
	c.Set(ctx, "fresh", &types.MediaResponse{Status: "success"})

	c.Cleanup()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.entries["old"]; ok {
		t.Error("expired entry should be dropped by cleanup")
	}
	if _, ok := c.entries["fresh"]; !ok {
		t.Error("live entry should survive cleanup")
	}
}
