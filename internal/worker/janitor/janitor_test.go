package janitor

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/lynkby/edge/internal/cache"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func putEntry(t *testing.T, store cache.Store, key string, storedAt time.Time) {
	t.Helper()
	resp := &cache.CachedResponse{
		Status:   http.StatusOK,
		Header:   http.Header{},
		Body:     []byte("body"),
		StoredAt: storedAt,
		TTL:      time.Minute,
	}
	data, err := resp.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := store.Put(key, data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
}

func TestRun_DeletesEntriesPastRetention(t *testing.T) {
	store := cache.NewMemoryStore()
	putEntry(t, store, "old", time.Now().Add(-48*time.Hour))
	putEntry(t, store, "recent", time.Now().Add(-1*time.Hour))

	j := NewJanitor(store, discardLogger(), 24*time.Hour)
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := store.Get("old"); err != cache.ErrNotFound {
		t.Error("保持期間超過のエントリは削除されるべき")
	}
	if _, err := store.Get("recent"); err != nil {
		t.Errorf("保持期間内のエントリは残るべき: %v", err)
	}
}

func TestRun_DeletesCorruptEntries(t *testing.T) {
	store := cache.NewMemoryStore()
	store.Put("corrupt", []byte("not gob"))
	putEntry(t, store, "valid", time.Now())

	j := NewJanitor(store, discardLogger(), 24*time.Hour)
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := store.Get("corrupt"); err != cache.ErrNotFound {
		t.Error("破損エントリは削除されるべき")
	}
	if _, err := store.Get("valid"); err != nil {
		t.Errorf("正常なエントリは残るべき: %v", err)
	}
}

func TestRun_EmptyStoreIsNoop(t *testing.T) {
	j := NewJanitor(cache.NewMemoryStore(), discardLogger(), 24*time.Hour)
	if err := j.Run(context.Background()); err != nil {
		t.Errorf("空のストアでもエラーにならないべき: %v", err)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	store := cache.NewMemoryStore()
	putEntry(t, store, "old", time.Now().Add(-48*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j := NewJanitor(store, discardLogger(), 24*time.Hour)
	if err := j.Run(ctx); err == nil {
		t.Error("キャンセル済みコンテキストではエラーを返すべき")
	}
	if _, err := store.Get("old"); err != nil {
		t.Error("キャンセルされた走査はエントリを削除しないべき")
	}
}

func TestNewJanitor_DefaultRetention(t *testing.T) {
	j := NewJanitor(cache.NewMemoryStore(), discardLogger(), 0)
	if j.Retention != 24*time.Hour {
		t.Errorf("Retention = %v, want 24h", j.Retention)
	}
}
