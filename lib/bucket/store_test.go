package bucket_test

import (
	"testing"

	"bucketdb/lib/bucket"
	storetesting "bucketdb/lib/bucket/testing"
	"bucketdb/lib/persistence"
	"bucketdb/lib/query"
)

func newFSStore(t *testing.T) bucket.IBucketStore {
	t.Helper()
	persist, err := persistence.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}
	store, err := bucket.NewStore(persist, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func Test(t *testing.T) {
	storetesting.RunBucketStoreTests(t, "FSStore", newFSStore)
}

// TestRoundTrip persists records, reopens the store on the same
// directory and expects the identical ordered sequence back.
func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()

	persist, err := persistence.NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}
	store, err := bucket.NewStore(persist, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		err := store.AddData("journal", bucket.Record{"seq": i, "timestamp": int64(i)})
		if err != nil {
			t.Fatalf("AddData failed: %v", err)
		}
	}

	// simulated restart
	persist2, err := persistence.NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}
	reopened, err := bucket.NewStore(persist2, nil)
	if err != nil {
		t.Fatalf("NewStore after restart failed: %v", err)
	}

	pred := query.ParseMap(map[string]string{"sortBy": "seq"})
	result, err := reopened.QueryData("journal", pred)
	if err != nil {
		t.Fatalf("QueryData failed: %v", err)
	}
	if result.TotalItems != 5 {
		t.Fatalf("Expected 5 records after restart, got %d", result.TotalItems)
	}
	for i, item := range result.Items {
		if seq, _ := query.ToFloat(item["seq"]); int(seq) != i {
			t.Errorf("Record %d out of order after restart: %v", i, item)
		}
	}
}

// --------------------------------------------------------------------------
// Replication notification
// --------------------------------------------------------------------------

// captureNotifier records every notification it receives.
type captureNotifier struct {
	calls []string
}

func (n *captureNotifier) NotifyCreateBucket(name string) { n.calls = append(n.calls, "create:"+name) }
func (n *captureNotifier) NotifyDeleteBucket(name string) { n.calls = append(n.calls, "delete:"+name) }
func (n *captureNotifier) NotifyAddData(name string, _ bucket.Record) {
	n.calls = append(n.calls, "add:"+name)
}
func (n *captureNotifier) NotifySetData(name string, _ bucket.Record, _ string) {
	n.calls = append(n.calls, "set:"+name)
}
func (n *captureNotifier) NotifyDeleteData(name string, _ map[string]string) {
	n.calls = append(n.calls, "deleteData:"+name)
}
func (n *captureNotifier) NotifyFlushBucket(name string) { n.calls = append(n.calls, "flush:"+name) }

func TestNotifications(t *testing.T) {
	persist, err := persistence.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}
	notifier := &captureNotifier{}
	store, err := bucket.NewStore(persist, notifier)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	if err := store.CreateBucket("a"); err != nil {
		t.Fatalf("CreateBucket failed: %v", err)
	}
	if err := store.AddData("a", bucket.Record{"x": 1}); err != nil {
		t.Fatalf("AddData failed: %v", err)
	}
	if err := store.FlushBucket("a"); err != nil {
		t.Fatalf("FlushBucket failed: %v", err)
	}

	want := []string{"create:a", "add:a", "flush:a"}
	if len(notifier.calls) != len(want) {
		t.Fatalf("Expected %v notifications, got %v", want, notifier.calls)
	}
	for i, call := range want {
		if notifier.calls[i] != call {
			t.Errorf("Notification %d: expected %s, got %s", i, call, notifier.calls[i])
		}
	}

	// failed operations notify nothing
	if err := store.CreateBucket("a"); err == nil {
		t.Fatalf("Expected duplicate create to fail")
	}
	if len(notifier.calls) != len(want) {
		t.Errorf("Expected no notification for a failed operation, got %v", notifier.calls)
	}

	// the replicated view suppresses notifications entirely
	replicated := store.Replicated()
	if err := replicated.AddData("a", bucket.Record{"y": 2}); err != nil {
		t.Fatalf("AddData via replicated view failed: %v", err)
	}
	if err := replicated.DeleteBucket("a"); err != nil {
		t.Fatalf("DeleteBucket via replicated view failed: %v", err)
	}
	if len(notifier.calls) != len(want) {
		t.Errorf("Expected replicated view to stay silent, got %v", notifier.calls)
	}
}
