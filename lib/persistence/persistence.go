// Package persistence implements the on-disk layout of the bucket
// store: one config.json holding all bucket metadata and one
// <bucketName>.bucket file per bucket holding its records as a JSON
// array, in store order. A legacy combined buckets.json file is
// migrated into this layout once on first load.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"bucketdb/lib/bucket"
	"bucketdb/lib/logging"
)

var log = logging.GetLogger("persistence")

const (
	configFile   = "config.json"
	bucketExt    = ".bucket"
	legacyFile   = "buckets.json"
	legacyBackup = "buckets.json.bak"
)

// FS persists buckets as JSON files in a single directory. It
// implements bucket.Persistence. Whole files are rewritten per
// mutation; callers serialize access through the store's guard.
type FS struct {
	dir string
}

// NewFS creates the data directory if needed and returns a file-backed
// persistence layer rooted there.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &FS{dir: dir}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see bucket.Persistence)
// --------------------------------------------------------------------------

func (f *FS) Load() (map[string]bucket.Config, map[string][]bucket.Record, error) {
	if err := f.migrateLegacy(); err != nil {
		return nil, nil, err
	}

	configs := map[string]bucket.Config{}
	data, err := os.ReadFile(filepath.Join(f.dir, configFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return configs, map[string][]bucket.Record{}, nil
	case err != nil:
		return nil, nil, fmt.Errorf("read %s: %w", configFile, err)
	}
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", configFile, err)
	}

	buckets := make(map[string][]bucket.Record, len(configs))
	for name := range configs {
		records, err := f.loadBucket(name)
		if err != nil {
			return nil, nil, err
		}
		buckets[name] = records
	}
	return configs, buckets, nil
}

func (f *FS) SaveConfigs(configs map[string]bucket.Config) error {
	return f.writeJSON(configFile, configs)
}

func (f *FS) SaveBucket(name string, records []bucket.Record) error {
	if records == nil {
		records = []bucket.Record{}
	}
	return f.writeJSON(name+bucketExt, records)
}

func (f *FS) RemoveBucket(name string) error {
	err := os.Remove(filepath.Join(f.dir, name+bucketExt))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove bucket file %s: %w", name, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (f *FS) loadBucket(name string) ([]bucket.Record, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, name+bucketExt))
	switch {
	case errors.Is(err, os.ErrNotExist):
		// config references a bucket whose file is gone, start empty
		log.Warn("bucket file missing, starting empty", "bucket", name)
		return []bucket.Record{}, nil
	case err != nil:
		return nil, fmt.Errorf("read bucket %s: %w", name, err)
	}

	var records []bucket.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse bucket %s: %w", name, err)
	}
	return records, nil
}

// writeJSON writes to a temp file in the same directory and renames it
// over the target, so readers never observe a half-written file.
func (f *FS) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	target := filepath.Join(f.dir, name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Legacy Migration
// --------------------------------------------------------------------------

// legacyLayout is the old single-file format: every bucket's records
// and configuration combined in one buckets.json.
type legacyLayout struct {
	Buckets        map[string][]bucket.Record `json:"Buckets"`
	Configurations map[string]bucket.Config   `json:"Configurations"`
}

// migrateLegacy splits a legacy buckets.json into the per-bucket layout
// and renames the original aside. A second startup without the legacy
// file is a no-op.
func (f *FS) migrateLegacy() error {
	path := filepath.Join(f.dir, legacyFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", legacyFile, err)
	}

	var legacy legacyLayout
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("parse %s: %w", legacyFile, err)
	}

	log.Info("migrating legacy storage file", "buckets", len(legacy.Buckets))

	configs := legacy.Configurations
	if configs == nil {
		configs = map[string]bucket.Config{}
	}
	// buckets without a configuration entry still get one
	for name := range legacy.Buckets {
		if _, ok := configs[name]; !ok {
			configs[name] = bucket.Config{Name: name, Metadata: map[string]string{}}
		}
	}

	if err := f.SaveConfigs(configs); err != nil {
		return err
	}
	for name, records := range legacy.Buckets {
		if err := f.SaveBucket(name, records); err != nil {
			return err
		}
	}

	if err := os.Rename(path, filepath.Join(f.dir, legacyBackup)); err != nil {
		return fmt.Errorf("rename %s: %w", legacyFile, err)
	}
	log.Info("legacy migration complete", "backup", legacyBackup)
	return nil
}
