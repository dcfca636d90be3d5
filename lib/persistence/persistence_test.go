package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"bucketdb/lib/bucket"
)

func TestLoadEmptyDir(t *testing.T) {
	fs, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}

	configs, buckets, err := fs.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(configs) != 0 || len(buckets) != 0 {
		t.Errorf("Expected empty store from empty dir, got %v / %v", configs, buckets)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}

	configs := map[string]bucket.Config{
		"users": {Name: "users", Metadata: map[string]string{}},
	}
	records := []bucket.Record{
		{"name": "Alice", "timestamp": float64(100)},
		{"name": "Bob", "timestamp": float64(200)},
	}
	if err := fs.SaveConfigs(configs); err != nil {
		t.Fatalf("SaveConfigs failed: %v", err)
	}
	if err := fs.SaveBucket("users", records); err != nil {
		t.Fatalf("SaveBucket failed: %v", err)
	}

	// no stray temp files after the rename
	entries, _ := os.ReadDir(dir)
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".tmp" {
			t.Errorf("Expected no leftover temp file, found %s", entry.Name())
		}
	}

	loadedConfigs, loadedBuckets, err := fs.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loadedConfigs["users"].Name != "users" {
		t.Errorf("Expected users config, got %v", loadedConfigs)
	}
	loaded := loadedBuckets["users"]
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 records, got %v", loaded)
	}
	// record order is preserved
	if loaded[0]["name"] != "Alice" || loaded[1]["name"] != "Bob" {
		t.Errorf("Expected order Alice,Bob, got %v", loaded)
	}
}

func TestSaveBucketNil(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}

	// a nil slice still writes a JSON array, not null
	if err := fs.SaveBucket("empty", nil); err != nil {
		t.Fatalf("SaveBucket failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "empty.bucket"))
	if err != nil {
		t.Fatalf("read bucket file: %v", err)
	}
	var records []bucket.Record
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("Expected a JSON array, got %s: %v", data, err)
	}
}

func TestRemoveBucket(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}

	if err := fs.SaveBucket("gone", []bucket.Record{{"x": 1}}); err != nil {
		t.Fatalf("SaveBucket failed: %v", err)
	}
	if err := fs.RemoveBucket("gone"); err != nil {
		t.Fatalf("RemoveBucket failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "gone.bucket")); !os.IsNotExist(err) {
		t.Errorf("Expected bucket file to be deleted")
	}

	// removing a bucket that never existed is not an error
	if err := fs.RemoveBucket("never"); err != nil {
		t.Errorf("Expected removing an unknown bucket to succeed, got %v", err)
	}
}

func TestMissingBucketFile(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}

	// config references a bucket but the record file is missing
	configs := map[string]bucket.Config{
		"orphan": {Name: "orphan", Metadata: map[string]string{}},
	}
	if err := fs.SaveConfigs(configs); err != nil {
		t.Fatalf("SaveConfigs failed: %v", err)
	}

	loadedConfigs, loadedBuckets, err := fs.Load()
	if err != nil {
		t.Fatalf("Expected load to survive a missing bucket file, got %v", err)
	}
	if _, ok := loadedConfigs["orphan"]; !ok {
		t.Errorf("Expected orphan config to survive")
	}
	if records, ok := loadedBuckets["orphan"]; !ok || len(records) != 0 {
		t.Errorf("Expected empty record set for orphan bucket, got %v", records)
	}
}

// --------------------------------------------------------------------------
// Legacy Migration
// --------------------------------------------------------------------------

func TestLegacyMigration(t *testing.T) {
	dir := t.TempDir()

	legacy := legacyLayout{
		Buckets: map[string][]bucket.Record{
			"users": {
				{"name": "Alice", "timestamp": float64(100)},
			},
			"unconfigured": {
				{"x": 1},
			},
		},
		Configurations: map[string]bucket.Config{
			"users": {Name: "users", Metadata: map[string]string{"owner": "ops"}},
		},
	}
	data, err := json.Marshal(legacy)
	if err != nil {
		t.Fatalf("marshal legacy layout: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "buckets.json"), data, 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}
	configs, buckets, err := fs.Load()
	if err != nil {
		t.Fatalf("Load with legacy file failed: %v", err)
	}

	if len(configs) != 2 {
		t.Fatalf("Expected 2 configs after migration, got %v", configs)
	}
	if configs["users"].Metadata["owner"] != "ops" {
		t.Errorf("Expected users metadata to survive migration, got %v", configs["users"])
	}
	// buckets without a configuration entry get one synthesized
	if configs["unconfigured"].Name != "unconfigured" {
		t.Errorf("Expected synthesized config for unconfigured bucket, got %v", configs)
	}
	if len(buckets["users"]) != 1 || buckets["users"][0]["name"] != "Alice" {
		t.Errorf("Expected users records to survive migration, got %v", buckets["users"])
	}

	// the legacy file is renamed aside, not deleted
	if _, err := os.Stat(filepath.Join(dir, "buckets.json.bak")); err != nil {
		t.Errorf("Expected buckets.json.bak backup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "buckets.json")); !os.IsNotExist(err) {
		t.Errorf("Expected original legacy file to be gone")
	}

	// a second load is a plain load of the new layout
	configs2, buckets2, err := fs.Load()
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}
	if len(configs2) != 2 || len(buckets2["users"]) != 1 {
		t.Errorf("Expected second load to see the migrated layout, got %v / %v", configs2, buckets2)
	}
}

func TestLegacyMigrationCorrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "buckets.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}
	if _, _, err := fs.Load(); err == nil {
		t.Errorf("Expected load to fail on a corrupt legacy file")
	}
}
