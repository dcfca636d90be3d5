// Package testing provides a reusable test suite for IBucketStore
// implementations, driven by a factory so different persistence
// backings can run the same contract tests.
package testing

import (
	"fmt"
	"testing"

	"bucketdb/lib/bucket"
	"bucketdb/lib/query"
)

// StoreFactory is a function that creates a fresh, empty store.
type StoreFactory func(t *testing.T) bucket.IBucketStore

// RunBucketStoreTests runs the full contract test suite for a bucket
// store implementation.
func RunBucketStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("CreateBucket", func(t *testing.T) {
			testCreateBucket(t, factory(t))
		})

		t.Run("DeleteBucket", func(t *testing.T) {
			testDeleteBucket(t, factory(t))
		})

		t.Run("AddData", func(t *testing.T) {
			testAddData(t, factory(t))
		})

		t.Run("SetData", func(t *testing.T) {
			testSetData(t, factory(t))
		})

		t.Run("QueryFilters", func(t *testing.T) {
			testQueryFilters(t, factory(t))
		})

		t.Run("Pagination", func(t *testing.T) {
			testPagination(t, factory(t))
		})

		t.Run("Sorting", func(t *testing.T) {
			testSorting(t, factory(t))
		})

		t.Run("DeleteData", func(t *testing.T) {
			testDeleteData(t, factory(t))
		})

		t.Run("FlushBucket", func(t *testing.T) {
			testFlushBucket(t, factory(t))
		})

		t.Run("MappingInvariant", func(t *testing.T) {
			testMappingInvariant(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func mustAdd(t *testing.T, s bucket.IBucketStore, name string, rec bucket.Record) {
	t.Helper()
	if err := s.AddData(name, rec); err != nil {
		t.Fatalf("AddData(%s) failed: %v", name, err)
	}
}

func mustQueryAll(t *testing.T, s bucket.IBucketStore, name string) bucket.Result {
	t.Helper()
	result, err := s.QueryData(name, query.ParseMap(nil))
	if err != nil {
		t.Fatalf("QueryData(%s) failed: %v", name, err)
	}
	return result
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testCreateBucket(t *testing.T, s bucket.IBucketStore) {
	if err := s.CreateBucket("players"); err != nil {
		t.Fatalf("CreateBucket failed: %v", err)
	}

	if err := s.CreateBucket("players"); err == nil {
		t.Errorf("Expected second CreateBucket to fail")
	} else if !bucket.IsValidation(err) {
		t.Errorf("Expected a validation-class error, got %v", err)
	}

	configs, err := s.ListBuckets()
	if err != nil {
		t.Fatalf("ListBuckets failed: %v", err)
	}
	if len(configs) != 1 || configs[0].Name != "players" {
		t.Errorf("Expected exactly one bucket 'players', got %v", configs)
	}
	if configs[0].CreatedAt.IsZero() {
		t.Errorf("Expected a creation timestamp on the bucket config")
	}

	if err := s.CreateBucket(""); err == nil {
		t.Errorf("Expected empty bucket name to be rejected")
	}
	if err := s.CreateBucket("../escape"); err == nil {
		t.Errorf("Expected path-like bucket name to be rejected")
	}
}

func testDeleteBucket(t *testing.T, s bucket.IBucketStore) {
	if err := s.DeleteBucket("ghost"); err == nil {
		t.Errorf("Expected DeleteBucket of unknown bucket to fail")
	} else if !bucket.IsNotFound(err) {
		t.Errorf("Expected a not-found error, got %v", err)
	}

	mustAdd(t, s, "scores", bucket.Record{"player": "ada"})
	if err := s.DeleteBucket("scores"); err != nil {
		t.Fatalf("DeleteBucket failed: %v", err)
	}

	configs, _ := s.ListBuckets()
	if len(configs) != 0 {
		t.Errorf("Expected no buckets after delete, got %v", configs)
	}

	// queries against the deleted bucket are empty, not errors
	result := mustQueryAll(t, s, "scores")
	if result.TotalItems != 0 || len(result.Items) != 0 {
		t.Errorf("Expected empty result after bucket delete, got %+v", result)
	}
}

func testAddData(t *testing.T, s bucket.IBucketStore) {
	// auto-create on first write
	mustAdd(t, s, "events", bucket.Record{"kind": "login"})
	configs, _ := s.ListBuckets()
	if len(configs) != 1 {
		t.Fatalf("Expected bucket to be auto-created, got %v", configs)
	}

	result := mustQueryAll(t, s, "events")
	if len(result.Items) != 1 {
		t.Fatalf("Expected one record, got %d", len(result.Items))
	}
	if ts := result.Items[0].Timestamp(); ts <= 0 {
		t.Errorf("Expected an injected millisecond timestamp, got %v", ts)
	}

	// a caller-provided timestamp is preserved
	mustAdd(t, s, "events", bucket.Record{"kind": "logout", "timestamp": int64(42)})
	result = mustQueryAll(t, s, "events")
	var found bool
	for _, item := range result.Items {
		if item["kind"] == "logout" {
			found = true
			if ts := item.Timestamp(); ts != 42 {
				t.Errorf("Expected caller timestamp 42 to be preserved, got %v", ts)
			}
		}
	}
	if !found {
		t.Errorf("Expected to find the second record")
	}

	// duplicates are allowed
	mustAdd(t, s, "events", bucket.Record{"kind": "login"})
	result = mustQueryAll(t, s, "events")
	if result.TotalItems != 3 {
		t.Errorf("Expected 3 records including the duplicate, got %d", result.TotalItems)
	}
}

func testSetData(t *testing.T, s bucket.IBucketStore) {
	if err := s.SetData("profiles", bucket.Record{"id": 1, "v": "A"}, "id"); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	if err := s.SetData("profiles", bucket.Record{"id": 1, "v": "B"}, "id"); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	result := mustQueryAll(t, s, "profiles")
	if result.TotalItems != 1 {
		t.Fatalf("Expected exactly one record after upsert, got %d", result.TotalItems)
	}
	if v := result.Items[0]["v"]; v != "B" {
		t.Errorf("Expected upsert to keep the latest value, got %v", v)
	}

	// a missing key field fails without mutating
	if err := s.SetData("profiles", bucket.Record{"v": "C"}, "id"); err == nil {
		t.Errorf("Expected SetData without key field to fail")
	} else if !bucket.IsValidation(err) {
		t.Errorf("Expected a validation error, got %v", err)
	}
	result = mustQueryAll(t, s, "profiles")
	if result.TotalItems != 1 || result.Items[0]["v"] != "B" {
		t.Errorf("Expected bucket to be unchanged after failed SetData")
	}

	// upsert replaces in place, preserving position
	if err := s.SetData("profiles", bucket.Record{"id": 2, "v": "X"}, "id"); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	if err := s.SetData("profiles", bucket.Record{"id": 1, "v": "D"}, "id"); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	pred := query.ParseMap(map[string]string{"sortBy": "v"})
	sorted, err := s.QueryData("profiles", pred)
	if err != nil || sorted.TotalItems != 2 {
		t.Fatalf("Expected two records, got %+v (%v)", sorted, err)
	}

	// duplicates added via AddData are not deduplicated by SetData
	mustAdd(t, s, "dups", bucket.Record{"id": 9, "v": "old"})
	mustAdd(t, s, "dups", bucket.Record{"id": 9, "v": "old"})
	if err := s.SetData("dups", bucket.Record{"id": 9, "v": "new"}, "id"); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	result = mustQueryAll(t, s, "dups")
	if result.TotalItems != 2 {
		t.Errorf("Expected SetData to replace one duplicate and leave the other, got %d records", result.TotalItems)
	}
}

func testQueryFilters(t *testing.T, s bucket.IBucketStore) {
	mustAdd(t, s, "users", bucket.Record{"name": "Bob", "score": 50, "status": "active"})
	mustAdd(t, s, "users", bucket.Record{"name": "Alice", "score": 30, "status": "pending"})
	mustAdd(t, s, "users", bucket.Record{"name": "Carol", "score": 10, "status": "banned"})

	cases := []struct {
		params map[string]string
		want   int
	}{
		{map[string]string{"score[gte]": "40"}, 1},
		{map[string]string{"score[gte]": "10"}, 3},
		{map[string]string{"status[in]": "active,pending"}, 2},
		{map[string]string{"name[like]": "Bo%"}, 1},
		{map[string]string{"name[like]": "%o%"}, 2},
		{map[string]string{"name": "Alice"}, 1},
		{map[string]string{"name": "alice"}, 0},
		{map[string]string{"score[gte]": "40", "status": "active"}, 1},
		{map[string]string{"score[gte]": "40", "status": "pending"}, 0},
		// fail-open: an unparsable gte value drops the clause
		{map[string]string{"score[gte]": "not-a-number"}, 3},
		// fail-closed: a clause on a missing field excludes everything
		{map[string]string{"missing[gte]": "1"}, 0},
	}

	for _, tc := range cases {
		result, err := s.QueryData("users", query.ParseMap(tc.params))
		if err != nil {
			t.Fatalf("QueryData(%v) failed: %v", tc.params, err)
		}
		if result.TotalItems != tc.want {
			t.Errorf("Query %v: expected %d matches, got %d", tc.params, tc.want, result.TotalItems)
		}
	}
}

func testPagination(t *testing.T, s bucket.IBucketStore) {
	const total = 25
	for i := 0; i < total; i++ {
		mustAdd(t, s, "pages", bucket.Record{"n": i, "timestamp": int64(i + 1)})
	}

	result, err := s.QueryData("pages", query.ParseMap(map[string]string{"limit": "10"}))
	if err != nil {
		t.Fatalf("QueryData failed: %v", err)
	}
	if result.TotalItems != total || result.TotalPages != 3 {
		t.Errorf("Expected 25 items in 3 pages, got %d in %d", result.TotalItems, result.TotalPages)
	}
	if len(result.Items) != 10 {
		t.Errorf("Expected 10 items on page 1, got %d", len(result.Items))
	}

	result, _ = s.QueryData("pages", query.ParseMap(map[string]string{"limit": "10", "page": "3"}))
	if len(result.Items) != 5 {
		t.Errorf("Expected 5 items on the last page, got %d", len(result.Items))
	}

	// a page beyond the range is empty but keeps the totals
	result, _ = s.QueryData("pages", query.ParseMap(map[string]string{"limit": "10", "page": "7"}))
	if len(result.Items) != 0 || result.TotalItems != total || result.TotalPages != 3 {
		t.Errorf("Expected empty out-of-range page with correct totals, got %+v", result)
	}
}

func testSorting(t *testing.T, s bucket.IBucketStore) {
	mustAdd(t, s, "sorted", bucket.Record{"name": "b", "timestamp": int64(100)})
	mustAdd(t, s, "sorted", bucket.Record{"name": "c", "timestamp": int64(300)})
	mustAdd(t, s, "sorted", bucket.Record{"name": "a", "timestamp": int64(200)})

	// default sort: timestamp descending
	result := mustQueryAll(t, s, "sorted")
	if result.Items[0]["name"] != "c" || result.Items[2]["name"] != "b" {
		t.Errorf("Expected default timestamp-descending order, got %v", names(result))
	}

	// explicit ascending sort by field
	result, _ = s.QueryData("sorted", query.ParseMap(map[string]string{"sortBy": "name"}))
	if fmt.Sprint(names(result)) != "[a b c]" {
		t.Errorf("Expected ascending name order, got %v", names(result))
	}

	// explicit descending sort by field
	result, _ = s.QueryData("sorted", query.ParseMap(map[string]string{"sortBy": "name", "sortDescending": "true"}))
	if fmt.Sprint(names(result)) != "[c b a]" {
		t.Errorf("Expected descending name order, got %v", names(result))
	}
}

func names(result bucket.Result) []string {
	out := make([]string, len(result.Items))
	for i, item := range result.Items {
		out[i] = fmt.Sprint(item["name"])
	}
	return out
}

func testDeleteData(t *testing.T, s bucket.IBucketStore) {
	// unknown bucket reports plain failure, no error
	removed, err := s.DeleteData("ghost", query.ParseMap(nil))
	if err != nil {
		t.Fatalf("DeleteData on unknown bucket returned error: %v", err)
	}
	if removed {
		t.Errorf("Expected no removal for unknown bucket")
	}

	mustAdd(t, s, "logs", bucket.Record{"level": "info"})
	mustAdd(t, s, "logs", bucket.Record{"level": "error"})
	mustAdd(t, s, "logs", bucket.Record{"level": "error"})

	removed, err = s.DeleteData("logs", query.ParseMap(map[string]string{"level": "error"}))
	if err != nil || !removed {
		t.Fatalf("Expected matching records to be removed, got removed=%v err=%v", removed, err)
	}
	result := mustQueryAll(t, s, "logs")
	if result.TotalItems != 1 || result.Items[0]["level"] != "info" {
		t.Errorf("Expected only the info record to survive, got %+v", result)
	}

	removed, _ = s.DeleteData("logs", query.ParseMap(map[string]string{"level": "error"}))
	if removed {
		t.Errorf("Expected second delete to remove nothing")
	}
}

func testFlushBucket(t *testing.T, s bucket.IBucketStore) {
	if err := s.FlushBucket("ghost"); err == nil {
		t.Errorf("Expected FlushBucket of unknown bucket to fail")
	} else if !bucket.IsNotFound(err) {
		t.Errorf("Expected a not-found error, got %v", err)
	}

	mustAdd(t, s, "cache", bucket.Record{"k": "v"})
	if err := s.FlushBucket("cache"); err != nil {
		t.Fatalf("FlushBucket failed: %v", err)
	}

	// the bucket itself survives with its metadata
	configs, _ := s.ListBuckets()
	if len(configs) != 1 || configs[0].Name != "cache" {
		t.Errorf("Expected the flushed bucket to remain, got %v", configs)
	}
	result := mustQueryAll(t, s, "cache")
	if result.TotalItems != 0 {
		t.Errorf("Expected no records after flush, got %d", result.TotalItems)
	}
}

func testMappingInvariant(t *testing.T, s bucket.IBucketStore) {
	// every bucket visible via list answers queries, in every lifecycle
	mustAdd(t, s, "a", bucket.Record{"x": 1})
	_ = s.CreateBucket("b")
	_ = s.FlushBucket("a")
	_ = s.DeleteBucket("b")

	configs, _ := s.ListBuckets()
	for _, cfg := range configs {
		if _, err := s.QueryData(cfg.Name, query.ParseMap(nil)); err != nil {
			t.Errorf("Bucket %q listed but not queryable: %v", cfg.Name, err)
		}
	}
	if len(configs) != 1 || configs[0].Name != "a" {
		t.Errorf("Expected only bucket 'a' to remain, got %v", configs)
	}
}
