package storage

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// TestMemoryStore tests the in-memory document store implementation
func TestMemoryStore(t *testing.T) {
	t.Run("new store is empty", func(t *testing.T) {
		store := NewMemoryStore()

		if got := store.Collections(); len(got) != 0 {
			t.Errorf("Expected empty store, got collections %v", got)
		}

		_, err := store.FindOne("user", Filter{"uid": "u1"})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("insert and find one", func(t *testing.T) {
		store := NewMemoryStore()

		err := store.Insert("user", Document{"uid": "u1", "region": "Beijing"})
		if err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}

		doc, err := store.FindOne("user", Filter{"uid": "u1"})
		if err != nil {
			t.Fatalf("Failed to find: %v", err)
		}
		if doc["region"] != "Beijing" {
			t.Errorf("Expected region Beijing, got %v", doc["region"])
		}
	})

	t.Run("find filters by all fields", func(t *testing.T) {
		store := NewMemoryStore()

		for i := 0; i < 3; i++ {
			_ = store.Insert("read", Document{"uid": "u1", "aid": fmt.Sprintf("a%d", i)})
		}
		_ = store.Insert("read", Document{"uid": "u2", "aid": "a0"})

		docs, err := store.Find("read", Filter{"uid": "u1"})
		if err != nil {
			t.Fatalf("Failed to find: %v", err)
		}
		if len(docs) != 3 {
			t.Errorf("Expected 3 documents, got %d", len(docs))
		}

		docs, _ = store.Find("read", Filter{"uid": "u1", "aid": "a2"})
		if len(docs) != 1 {
			t.Errorf("Expected 1 document, got %d", len(docs))
		}
	})

	t.Run("empty filter matches everything", func(t *testing.T) {
		store := NewMemoryStore()
		_ = store.Insert("article", Document{"aid": "a1"})
		_ = store.Insert("article", Document{"aid": "a2"})

		docs, _ := store.Find("article", Filter{})
		if len(docs) != 2 {
			t.Errorf("Expected 2 documents, got %d", len(docs))
		}
	})

	t.Run("numeric filters match across int and float", func(t *testing.T) {
		store := NewMemoryStore()
		// Imported documents carry float64 after JSON decoding
		_ = store.Insert("popular_rank", Document{"timestamp": float64(1506297600000), "temporalGranularity": "daily"})

		doc, err := store.FindOne("popular_rank", Filter{"timestamp": int64(1506297600000)})
		if err != nil {
			t.Fatalf("Expected numeric match, got %v", err)
		}
		if doc["temporalGranularity"] != "daily" {
			t.Errorf("Unexpected document: %v", doc)
		}
	})

	t.Run("upsert replaces by key fields", func(t *testing.T) {
		store := NewMemoryStore()

		err := store.Upsert("beread", []string{"aid"}, Document{"aid": "a1", "readNum": 1})
		if err != nil {
			t.Fatalf("Failed to upsert: %v", err)
		}
		err = store.Upsert("beread", []string{"aid"}, Document{"aid": "a1", "readNum": 7})
		if err != nil {
			t.Fatalf("Failed to upsert: %v", err)
		}

		docs, _ := store.Find("beread", Filter{"aid": "a1"})
		if len(docs) != 1 {
			t.Fatalf("Expected 1 document after double upsert, got %d", len(docs))
		}
		if docs[0]["readNum"] != 7 {
			t.Errorf("Expected readNum 7, got %v", docs[0]["readNum"])
		}
	})

	t.Run("upsert with composite key", func(t *testing.T) {
		store := NewMemoryStore()
		keys := []string{"temporalGranularity", "timestamp"}

		_ = store.Upsert("popular_rank", keys, Document{"temporalGranularity": "daily", "timestamp": 100, "id": 0})
		_ = store.Upsert("popular_rank", keys, Document{"temporalGranularity": "monthly", "timestamp": 100, "id": 1})
		_ = store.Upsert("popular_rank", keys, Document{"temporalGranularity": "daily", "timestamp": 100, "id": 2})

		docs, _ := store.Find("popular_rank", Filter{})
		if len(docs) != 2 {
			t.Fatalf("Expected 2 documents, got %d", len(docs))
		}
		daily, err := store.FindOne("popular_rank", Filter{"temporalGranularity": "daily", "timestamp": 100})
		if err != nil {
			t.Fatalf("Failed to find daily window: %v", err)
		}
		if daily["id"] != 2 {
			t.Errorf("Expected latest upsert to win, got id %v", daily["id"])
		}
	})

	t.Run("upsert rejects missing key field", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Upsert("beread", []string{"aid"}, Document{"readNum": 1}); err == nil {
			t.Error("Expected error for document without key field")
		}
		if err := store.Upsert("beread", nil, Document{"aid": "a1"}); err == nil {
			t.Error("Expected error for empty key list")
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store := NewMemoryStore()
		_ = store.Insert("user", Document{"uid": "u1"})
		_ = store.Insert("user", Document{"uid": "u2"})

		n, err := store.Delete("user", Filter{"uid": "u1"})
		if err != nil || n != 1 {
			t.Fatalf("Expected 1 deletion, got %d (err %v)", n, err)
		}
		n, _ = store.Delete("user", Filter{"uid": "u1"})
		if n != 0 {
			t.Errorf("Expected 0 deletions on repeat, got %d", n)
		}
	})

	t.Run("stored documents are isolated from callers", func(t *testing.T) {
		store := NewMemoryStore()
		doc := Document{"uid": "u1", "region": "Beijing"}
		_ = store.Insert("user", doc)
		doc["region"] = "mutated"

		got, _ := store.FindOne("user", Filter{"uid": "u1"})
		if got["region"] != "Beijing" {
			t.Errorf("Caller mutation leaked into store: %v", got["region"])
		}
		got["region"] = "mutated again"
		again, _ := store.FindOne("user", Filter{"uid": "u1"})
		if again["region"] != "Beijing" {
			t.Errorf("Result mutation leaked into store: %v", again["region"])
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		store := NewMemoryStore()
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					_ = store.Insert("read", Document{"uid": fmt.Sprintf("u%d", n), "seq": j})
					_, _ = store.Find("read", Filter{"uid": fmt.Sprintf("u%d", n)})
				}
			}(i)
		}
		wg.Wait()

		docs, _ := store.Find("read", Filter{})
		if len(docs) != 8*50 {
			t.Errorf("Expected 400 documents, got %d", len(docs))
		}
	})
}

// TestImportNDJSON tests the bulk import path used by ingestion
func TestImportNDJSON(t *testing.T) {
	t.Run("imports valid lines and skips bad ones", func(t *testing.T) {
		store := NewMemoryStore()
		input := strings.Join([]string{
			`{"uid":"u1","region":"Beijing"}`,
			`not json at all`,
			``,
			`{"uid":"u2","region":"Hong Kong"}`,
		}, "\n")

		n, errs := ImportNDJSON(store, "user", strings.NewReader(input))
		if n != 2 {
			t.Errorf("Expected 2 imported, got %d", n)
		}
		if len(errs) != 1 {
			t.Errorf("Expected 1 line error, got %v", errs)
		}

		docs, _ := store.Find("user", Filter{})
		if len(docs) != 2 {
			t.Errorf("Expected 2 documents, got %d", len(docs))
		}
	})

	t.Run("empty input imports nothing", func(t *testing.T) {
		store := NewMemoryStore()
		n, errs := ImportNDJSON(store, "user", strings.NewReader(""))
		if n != 0 || len(errs) != 0 {
			t.Errorf("Expected clean empty import, got n=%d errs=%v", n, errs)
		}
	})
}
