package downloads

import (
	"context"
	"testing"
	"time"

	"fsmvid-proxy/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_PutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mediaURL := "https://cdn.zm.io/video/abc123.mp4?sig=xyz"
	entry := &types.DownloadEntry{
		Key:              Key(mediaURL),
		ProxiedPath:      "/api/download/" + Key(mediaURL),
		Filename:         "my_video_720p.mp4",
		Quality:          "720p",
		Format:           "mp4",
		Title:            "My Video",
		OriginalVideoURL: "https://www.youtube.com/watch?v=abc123",
		OriginalMediaURL: mediaURL,
	}

	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, entry.Key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.OriginalMediaURL != mediaURL {
		t.Errorf("OriginalMediaURL = %q, want %q", got.OriginalMediaURL, mediaURL)
	}
	if got.Filename != "my_video_720p.mp4" {
		t.Errorf("Filename = %q, want %q", got.Filename, "my_video_720p.mp4")
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set on Put")
	}
}

func TestStore_PutOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := &types.DownloadEntry{
		Key:              "k1",
		ProxiedPath:      "/api/download/k1",
		Filename:         "old.mp4",
		OriginalMediaURL: "https://cdn.zm.io/old.mp4",
	}
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	entry.Filename = "new.mp4"
	entry.OriginalMediaURL = "https://cdn.zm.io/new.mp4"
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("second Put() error = %v", err)
	}

	got, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Filename != "new.mp4" {
		t.Errorf("Filename = %q, want the refreshed value", got.Filename)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "nope"); err == nil {
		t.Error("Get() on a missing key should return an error")
	}
}

func TestStore_Prune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := &types.DownloadEntry{
		Key:              "old",
		ProxiedPath:      "/api/download/old",
		Filename:         "old.mp4",
		OriginalMediaURL: "https://cdn.zm.io/old.mp4",
		CreatedAt:        time.Now().Add(-48 * time.Hour),
	}
	fresh := &types.DownloadEntry{
		Key:              "fresh",
		ProxiedPath:      "/api/download/fresh",
		Filename:         "fresh.mp4",
		OriginalMediaURL: "https://cdn.zm.io/fresh.mp4",
	}
	store.Put(ctx, old)
	store.Put(ctx, fresh)

	n, err := store.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d rows, want 1", n)
	}
	if _, err := store.Get(ctx, "fresh"); err != nil {
		t.Error("fresh entry should survive prune")
	}
}

func TestKey_Deterministic(t *testing.T) {
	a := Key("https://cdn.zm.io/video.mp4")
	b := Key("https://cdn.zm.io/video.mp4")
	if a != b {
		t.Error("Key should be deterministic")
	}
	if a == Key("https://cdn.zm.io/other.mp4") {
		t.Error("distinct URLs should produce distinct keys")
	}
}
