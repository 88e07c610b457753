package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestMatchExtension(t *testing.T) {
	cases := map[string]bool{
		"docs/a.md":       true,
		"docs/B.MARKDOWN": true,
		"notes.txt":       true,
		"image.png":       false,
		"README":          false,
	}
	for path, want := range cases {
		if got := matchExtension(path); got != want {
			t.Fatalf("matchExtension(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestRunDebouncesBurstIntoOneCall(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	fired := make(chan struct{}, 4)
	w := New(dir, 150*time.Millisecond, func(context.Context) {
		calls.Add(1)
		fired <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the root.
	time.Sleep(200 * time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(filepath.Join(dir, "page.md"), []byte{byte('a' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignored.png"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected a debounced change notification")
	}
	time.Sleep(400 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one call for a burst, got %d", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() did not stop on cancel")
	}
}
