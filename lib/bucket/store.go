package bucket

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"bucketdb/lib/logging"
	"bucketdb/lib/query"
)

var log = logging.GetLogger("store")

// storeImpl owns the two parallel mappings (name to record sequence,
// name to configuration) behind a single guard. Every mutation writes
// the affected bucket through to the persistence layer before the
// outcome is reported, then hands the mutation to the notifier.
//
// Invariant: the two mappings always have identical key sets after any
// operation completes.
type storeImpl struct {
	mu       sync.RWMutex
	buckets  map[string][]Record
	configs  map[string]Config
	persist  Persistence
	notifier Notifier
}

// NewStore loads all persisted buckets and returns a ready store.
// The notifier may be nil for embedded use without replication.
//
// Thread-safety: all methods of the returned store are safe for
// concurrent use.
func NewStore(persist Persistence, notifier Notifier) (IBucketStore, error) {
	configs, buckets, err := persist.Load()
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}

	log.Info("store loaded", "buckets", len(configs))

	return &storeImpl{
		buckets:  buckets,
		configs:  configs,
		persist:  persist,
		notifier: notifier,
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) CreateBucket(name string) error {
	return s.createBucket(name, true)
}

func (s *storeImpl) ListBuckets() ([]Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	configs := make([]Config, 0, len(s.configs))
	for _, cfg := range s.configs {
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (s *storeImpl) DeleteBucket(name string) error {
	return s.deleteBucket(name, true)
}

func (s *storeImpl) AddData(name string, rec Record) error {
	return s.addData(name, rec, true)
}

func (s *storeImpl) SetData(name string, rec Record, keyField string) error {
	return s.setData(name, rec, keyField, true)
}

func (s *storeImpl) QueryData(name string, pred query.Predicate) (Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := Result{
		Items: []Record{},
		Page:  pred.Page,
		Limit: pred.Limit,
	}

	records, ok := s.buckets[name]
	if !ok {
		// unknown bucket is an empty page, not an error
		return result, nil
	}

	matches := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		if pred.Matches(rec) {
			matches = append(matches, rec.Clone())
		}
	}

	paged, total, totalPages := pred.SortAndPage(matches)
	result.TotalItems = total
	result.TotalPages = totalPages
	result.Items = make([]Record, len(paged))
	for i, fields := range paged {
		result.Items[i] = Record(fields)
	}
	return result, nil
}

func (s *storeImpl) DeleteData(name string, pred query.Predicate) (bool, error) {
	return s.deleteData(name, pred, true)
}

func (s *storeImpl) FlushBucket(name string) error {
	return s.flushBucket(name, true)
}

func (s *storeImpl) Replicated() IBucketStore {
	return &replicatedView{store: s}
}

// --------------------------------------------------------------------------
// Mutations
// --------------------------------------------------------------------------

func (s *storeImpl) createBucket(name string, notify bool) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.configs[name]; exists {
		return NewError(RetCAlreadyExists, fmt.Sprintf("bucket %q already exists", name))
	}

	s.configs[name] = newConfig(name)
	s.buckets[name] = []Record{}

	if err := s.persist.SaveConfigs(s.configs); err != nil {
		return err
	}
	if err := s.persist.SaveBucket(name, nil); err != nil {
		return err
	}

	log.Info("bucket created", "bucket", name)
	if notify && s.notifier != nil {
		s.notifier.NotifyCreateBucket(name)
	}
	return nil
}

func (s *storeImpl) deleteBucket(name string, notify bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.configs[name]; !exists {
		return NewError(RetCNotFound, fmt.Sprintf("bucket %q does not exist", name))
	}

	delete(s.configs, name)
	delete(s.buckets, name)

	if err := s.persist.SaveConfigs(s.configs); err != nil {
		return err
	}
	if err := s.persist.RemoveBucket(name); err != nil {
		return err
	}

	log.Info("bucket deleted", "bucket", name)
	if notify && s.notifier != nil {
		s.notifier.NotifyDeleteBucket(name)
	}
	return nil
}

func (s *storeImpl) addData(name string, rec Record, notify bool) error {
	if err := validateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureBucket(name); err != nil {
		return err
	}

	stored := rec.Clone()
	if _, ok := stored[TimestampField]; !ok {
		stored[TimestampField] = time.Now().UnixMilli()
	}

	s.buckets[name] = append(s.buckets[name], stored)
	if err := s.persist.SaveBucket(name, s.buckets[name]); err != nil {
		return err
	}

	if notify && s.notifier != nil {
		// forward the stored record so the replica keeps the injected
		// timestamp rather than injecting its own
		s.notifier.NotifyAddData(name, stored)
	}
	return nil
}

func (s *storeImpl) setData(name string, rec Record, keyField string, notify bool) error {
	if err := validateName(name); err != nil {
		return err
	}
	keyValue, ok := rec[keyField]
	if !ok {
		return NewError(RetCValidation, fmt.Sprintf("record is missing the key field %q", keyField))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureBucket(name); err != nil {
		return err
	}

	stored := rec.Clone()
	stored[TimestampField] = time.Now().UnixMilli()

	// upsert: replace the first record with the same key value in
	// place, otherwise append. Duplicates created earlier via AddData
	// are intentionally left alone.
	key := query.ToString(keyValue)
	records := s.buckets[name]
	replaced := false
	for i, existing := range records {
		if query.ToString(existing[keyField]) == key {
			records[i] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, stored)
	}
	s.buckets[name] = records

	if err := s.persist.SaveBucket(name, records); err != nil {
		return err
	}

	if notify && s.notifier != nil {
		s.notifier.NotifySetData(name, stored, keyField)
	}
	return nil
}

func (s *storeImpl) deleteData(name string, pred query.Predicate, notify bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.buckets[name]
	if !ok {
		// reported as a plain failure, not an error
		return false, nil
	}

	kept := make([]Record, 0, len(records))
	for _, rec := range records {
		if !pred.Matches(rec) {
			kept = append(kept, rec)
		}
	}
	removed := len(kept) < len(records)
	if !removed {
		return false, nil
	}

	s.buckets[name] = kept
	if err := s.persist.SaveBucket(name, kept); err != nil {
		return false, err
	}

	log.Debug("records deleted", "bucket", name, "removed", len(records)-len(kept))
	if notify && s.notifier != nil {
		s.notifier.NotifyDeleteData(name, pred.Params)
	}
	return true, nil
}

func (s *storeImpl) flushBucket(name string, notify bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.configs[name]; !exists {
		return NewError(RetCNotFound, fmt.Sprintf("bucket %q does not exist", name))
	}

	s.buckets[name] = []Record{}
	if err := s.persist.SaveBucket(name, nil); err != nil {
		return err
	}

	log.Info("bucket flushed", "bucket", name)
	if notify && s.notifier != nil {
		s.notifier.NotifyFlushBucket(name)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// ensureBucket auto-creates a bucket on first write. Caller must hold
// the write lock.
func (s *storeImpl) ensureBucket(name string) error {
	if _, exists := s.configs[name]; exists {
		return nil
	}
	s.configs[name] = newConfig(name)
	s.buckets[name] = []Record{}
	if err := s.persist.SaveConfigs(s.configs); err != nil {
		return err
	}
	log.Info("bucket auto-created", "bucket", name)
	return nil
}

func newConfig(name string) Config {
	return Config{
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Metadata:  map[string]string{},
	}
}

// validateName rejects names that would escape the data directory once
// used as a file name.
func validateName(name string) error {
	if name == "" {
		return NewError(RetCValidation, "bucket name must not be empty")
	}
	if strings.ContainsAny(name, "/\\") || strings.HasPrefix(name, ".") {
		return NewError(RetCValidation, fmt.Sprintf("invalid bucket name %q", name))
	}
	return nil
}

// --------------------------------------------------------------------------
// Replicated View
// --------------------------------------------------------------------------

// replicatedView applies mutations without notifying the replication
// layer. Reads pass through unchanged.
type replicatedView struct {
	store *storeImpl
}

func (v *replicatedView) CreateBucket(name string) error {
	return v.store.createBucket(name, false)
}

func (v *replicatedView) ListBuckets() ([]Config, error) {
	return v.store.ListBuckets()
}

func (v *replicatedView) DeleteBucket(name string) error {
	return v.store.deleteBucket(name, false)
}

func (v *replicatedView) AddData(name string, rec Record) error {
	return v.store.addData(name, rec, false)
}

func (v *replicatedView) SetData(name string, rec Record, keyField string) error {
	return v.store.setData(name, rec, keyField, false)
}

func (v *replicatedView) QueryData(name string, pred query.Predicate) (Result, error) {
	return v.store.QueryData(name, pred)
}

func (v *replicatedView) DeleteData(name string, pred query.Predicate) (bool, error) {
	return v.store.deleteData(name, pred, false)
}

func (v *replicatedView) FlushBucket(name string) error {
	return v.store.flushBucket(name, false)
}

func (v *replicatedView) Replicated() IBucketStore {
	return v
}
