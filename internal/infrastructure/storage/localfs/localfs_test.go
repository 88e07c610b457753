package localfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/docs-assistant/internal/core/domain"
)

func TestStorageSetGet(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	value, err := store.Get(ctx, "keyword_index:snapshot:v1")
	if err != nil || value != nil {
		t.Fatalf("missing key must return nil, got %q, %v", value, err)
	}

	if err := store.Set(ctx, "keyword_index:snapshot:v1", []byte("first")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "keyword_index:snapshot:v1", []byte("second")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, err = store.Get(ctx, "keyword_index:snapshot:v1")
	if err != nil || string(value) != "second" {
		t.Fatalf("Get() = %q, %v", value, err)
	}

	entries, err := os.ReadDir(store.BasePath())
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "keyword_index_snapshot_v1.blob" {
		t.Fatalf("temp files must not be left behind: %v", entries)
	}
}

func TestLeaseExclusion(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	first, err := NewLease(dir)
	if err != nil {
		t.Fatalf("NewLease() error = %v", err)
	}
	first.now = func() time.Time { return now }
	second, _ := NewLease(dir)
	second.now = first.now
	ctx := context.Background()

	ok, err := first.Acquire(ctx, "run-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first Acquire() = %v, %v", ok, err)
	}
	ok, err = second.Acquire(ctx, "run-2", time.Minute)
	if err != nil || ok {
		t.Fatalf("second Acquire() must lose, got %v, %v", ok, err)
	}

	current, err := second.Current(ctx)
	if err != nil || current.Holder != "run-1" || !current.Active(now) {
		t.Fatalf("Current() = %+v, %v", current, err)
	}

	if err := second.Release(ctx, "run-2"); err != nil {
		t.Fatalf("Release() by non-holder error = %v", err)
	}
	if current, _ := first.Current(ctx); current.Holder != "run-1" {
		t.Fatalf("non-holder release must be a no-op, got %+v", current)
	}

	if err := first.Release(ctx, "run-1"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	ok, err = second.Acquire(ctx, "run-2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("Acquire() after release = %v, %v", ok, err)
	}
}

func TestLeaseExpiredTakeover(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	lease, _ := NewLease(dir)
	lease.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, err := lease.Acquire(ctx, "stale", time.Minute); err != nil || !ok {
		t.Fatalf("Acquire() = %v, %v", ok, err)
	}
	now = now.Add(2 * time.Minute)
	ok, err := lease.Acquire(ctx, "fresh", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expired lease must be taken over, got %v, %v", ok, err)
	}
	if current, _ := lease.Current(ctx); current.Holder != "fresh" {
		t.Fatalf("unexpected holder %+v", current)
	}
}

func TestLeaseCorruptFile(t *testing.T) {
	dir := t.TempDir()
	lease, _ := NewLease(dir)
	if err := os.WriteFile(filepath.Join(dir, "reindex.lease.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := lease.Acquire(context.Background(), "run", time.Minute); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestLeaseRejectsEmptyHolder(t *testing.T) {
	lease, _ := NewLease(t.TempDir())
	if _, err := lease.Acquire(context.Background(), "", time.Minute); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestLeaseRenewalByHolderExtendsExpiry(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	lease, _ := NewLease(dir)
	lease.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, err := lease.Acquire(ctx, "run-1", time.Minute); err != nil || !ok {
		t.Fatalf("Acquire() = %v, %v", ok, err)
	}
	now = now.Add(50 * time.Second)
	if ok, err := lease.Acquire(ctx, "run-1", time.Minute); err != nil || !ok {
		t.Fatalf("renewal by holder = %v, %v", ok, err)
	}
	current, err := lease.Current(ctx)
	if err != nil || !current.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("renewal must extend expiry, got %+v, %v", current, err)
	}

	now = now.Add(30 * time.Second)
	if ok, _ := lease.Acquire(ctx, "run-2", time.Minute); ok {
		t.Fatalf("renewed lease must still exclude other runs")
	}
}
