package metadata

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
)

func TestPatchApply(t *testing.T) {
	rec := Record{Title: "t", URL: "u", Summary: "s"}

	got := Patch{}.Apply(rec)
	if got != rec {
		t.Fatalf("empty patch changed record: %+v", got)
	}

	got = Patch{Title: String("new"), Summary: String("")}.Apply(rec)
	if got.Title != "new" || got.URL != "u" || got.Summary != "" {
		t.Fatalf("patch applied incorrectly: %+v", got)
	}

	if !((Patch{}).IsZero()) {
		t.Fatal("empty patch should be zero")
	}
	if (Patch{URL: String("x")}).IsZero() {
		t.Fatal("non-empty patch should not be zero")
	}
}

// testTable exercises the Table contract against any implementation.
func testTable(t *testing.T, tbl Table) {
	t.Helper()
	ctx := context.Background()

	// Absent id: ok=false, no error.
	_, ok, err := tbl.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Fatal("Get should report absent id")
	}

	// Set and Get.
	rec := Record{Title: "Doc", URL: "https://example.com", Summary: "about"}
	if err := tbl.Set(ctx, "a", rec); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, err := tbl.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Get after Set: ok=%v err=%v", ok, err)
	}
	if got != rec {
		t.Fatalf("Get returned %+v, want %+v", got, rec)
	}

	// Overwrite.
	rec2 := Record{Title: "Doc2"}
	if err := tbl.Set(ctx, "a", rec2); err != nil {
		t.Fatalf("Set overwrite failed: %v", err)
	}
	got, _, _ = tbl.Get(ctx, "a")
	if got != rec2 {
		t.Fatalf("overwrite not visible: %+v", got)
	}

	// Len.
	if err := tbl.Set(ctx, "b", Record{Title: "B"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	n, err := tbl.Len(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Len = %d (err=%v), want 2", n, err)
	}

	// All.
	all, err := tbl.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 2 || all["a"] != rec2 {
		t.Fatalf("All returned %v", all)
	}

	// Delete is idempotent.
	if err := tbl.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := tbl.Delete(ctx, "a"); err != nil {
		t.Fatalf("second Delete should be a no-op, got %v", err)
	}
	_, ok, _ = tbl.Get(ctx, "a")
	if ok {
		t.Fatal("record still present after Delete")
	}

	// ReplaceAll.
	if err := tbl.ReplaceAll(ctx, map[string]Record{
		"x": {Title: "X"},
		"y": {Title: "Y"},
	}); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}
	n, _ = tbl.Len(ctx)
	if n != 2 {
		t.Fatalf("Len after ReplaceAll = %d, want 2", n)
	}
	_, ok, _ = tbl.Get(ctx, "b")
	if ok {
		t.Fatal("ReplaceAll kept stale record")
	}
}

func TestMapTable(t *testing.T) {
	tbl := NewMapTable()
	defer tbl.Close()
	testTable(t, tbl)
}

func TestMapTableConcurrent(t *testing.T) {
	tbl := NewMapTable()
	defer tbl.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n%26))
			_ = tbl.Set(ctx, id, Record{Title: id})
			_, _, _ = tbl.Get(ctx, id)
		}(i)
	}
	wg.Wait()

	n, err := tbl.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 26 {
		t.Fatalf("expected 26 records, got %d", n)
	}
}

func TestSQLiteTable(t *testing.T) {
	tbl, err := NewSQLiteTable(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("NewSQLiteTable failed: %v", err)
	}
	defer tbl.Close()
	testTable(t, tbl)
}

func TestSQLiteTableCacheInvalidation(t *testing.T) {
	tbl, err := NewSQLiteTable(filepath.Join(t.TempDir(), "meta.db"), func(o *SQLiteOptions) {
		o.CacheSize = 8
	})
	if err != nil {
		t.Fatalf("NewSQLiteTable failed: %v", err)
	}
	defer tbl.Close()
	ctx := context.Background()

	if err := tbl.Set(ctx, "a", Record{Title: "one"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	// Warm the cache, then mutate and re-read.
	if _, _, err := tbl.Get(ctx, "a"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := tbl.Set(ctx, "a", Record{Title: "two"}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	rec, ok, err := tbl.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Get after update: ok=%v err=%v", ok, err)
	}
	if rec.Title != "two" {
		t.Fatalf("stale cached record: %+v", rec)
	}

	if err := tbl.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, ok, _ = tbl.Get(ctx, "a")
	if ok {
		t.Fatal("cache served a deleted record")
	}
}
