package summary

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ehall/attic/internal/errors"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	c, err := NewCache(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	return c
}

func constGen(out string) Generator {
	return func(context.Context, string) (string, error) { return out, nil }
}

func TestGetOrGenerateCachesByFingerprint(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	calls := 0
	gen := func(context.Context, string) (string, error) {
		calls++
		return fmt.Sprintf("summary v%d", calls), nil
	}

	e1, err := c.GetOrGenerate(ctx, "sess-1", "fp-a", "text", gen)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := c.GetOrGenerate(ctx, "sess-1", "fp-a", "text", gen)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("generator ran %d times for one fingerprint, want 1", calls)
	}
	if e1.Text != e2.Text {
		t.Errorf("cache returned different text: %q vs %q", e1.Text, e2.Text)
	}

	e3, err := c.GetOrGenerate(ctx, "sess-1", "fp-b", "new text", gen)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("fingerprint change did not regenerate (calls = %d)", calls)
	}
	if e3.Fingerprint != "fp-b" {
		t.Errorf("Fingerprint = %q", e3.Fingerprint)
	}
}

func TestGetOrGenerateSurvivesProcessRestart(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c1, err := NewCache(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c1.GetOrGenerate(context.Background(), "sess-1", "fp-a", "text", constGen("persisted")); err != nil {
		t.Fatal(err)
	}

	c2, err := NewCache(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	e, err := c2.GetOrGenerate(context.Background(), "sess-1", "fp-a", "text", func(context.Context, string) (string, error) {
		t.Error("generator ran despite valid disk entry")
		return "", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if e.Text != "persisted" {
		t.Errorf("Text = %q, want persisted", e.Text)
	}
}

func TestGeneratorFailureKeepsStaleEntry(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	if _, err := c.GetOrGenerate(ctx, "sess-1", "fp-a", "text", constGen("old summary")); err != nil {
		t.Fatal(err)
	}

	_, err := c.GetOrGenerate(ctx, "sess-1", "fp-b", "new text", func(context.Context, string) (string, error) {
		return "", fmt.Errorf("model unavailable")
	})
	if !errors.Is(err, errors.ErrExternalTool) {
		t.Errorf("err = %v, want EXTERNAL_TOOL", err)
	}

	stale := c.Get("sess-1")
	if stale == nil || stale.Text != "old summary" || stale.Fingerprint != "fp-a" {
		t.Errorf("stale entry = %+v, want the previous summary intact", stale)
	}
}

func TestGetOrGenerateDeduplicatesConcurrentCalls(t *testing.T) {
	c := testCache(t)
	var calls atomic.Int32
	release := make(chan struct{})
	gen := func(context.Context, string) (string, error) {
		calls.Add(1)
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	results := make([]*Entry, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			e, err := c.GetOrGenerate(context.Background(), "sess-1", "fp-a", "text", gen)
			if err != nil {
				t.Errorf("caller %d: %v", n, err)
				return
			}
			results[n] = e
		}(i)
	}
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("generator ran %d times under concurrency, want 1", n)
	}
	for i, e := range results {
		if e == nil || e.Text != "shared" {
			t.Errorf("caller %d got %+v", i, e)
		}
	}
}

func TestGetMissing(t *testing.T) {
	c := testCache(t)
	if e := c.Get("absent"); e != nil {
		t.Errorf("Get(absent) = %+v, want nil", e)
	}
}
