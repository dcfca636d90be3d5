package bucket

import (
	"fmt"
	"time"

	"bucketdb/lib/query"
)

// --------------------------------------------------------------------------
// Core Types
// --------------------------------------------------------------------------

// Record is a single schema-less JSON document stored in a bucket.
// Every stored record carries a "timestamp" field (milliseconds since
// epoch); the store injects it at write time if the caller omits it.
type Record map[string]any

// TimestampField is the record field the store injects and the query
// engine sorts by when no explicit sort field is given.
const TimestampField = "timestamp"

// Timestamp returns the record's timestamp in milliseconds, or 0 if the
// field is missing or not numeric.
func (r Record) Timestamp() int64 {
	v, ok := r[TimestampField]
	if !ok {
		return 0
	}
	f, ok := query.ToFloat(v)
	if !ok {
		return 0
	}
	return int64(f)
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Config holds the metadata of a single bucket.
type Config struct {
	Name      string            `json:"name"`
	CreatedAt time.Time         `json:"createdAt"`
	Metadata  map[string]string `json:"metadata"`
}

// Result is one page of query results.
type Result struct {
	Items      []Record `json:"items"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	TotalItems int      `json:"totalItems"`
	TotalPages int      `json:"totalPages"`
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IBucketStore is the interface for interacting with the bucket store.
// All mutating operations persist the affected bucket before returning
// (write-through) and return a *Error for expected failure conditions
// (unknown bucket, validation). Query operations never return an error
// for an unknown bucket; they return an empty result instead.
type IBucketStore interface {
	// CreateBucket creates a new, empty bucket. Fails with
	// RetCAlreadyExists if a bucket of that name exists.
	CreateBucket(name string) error
	// ListBuckets returns the metadata of all buckets. No ordering
	// guarantee.
	ListBuckets() ([]Config, error)
	// DeleteBucket removes a bucket and all its records. Fails with
	// RetCNotFound if the bucket does not exist.
	DeleteBucket(name string) error
	// AddData appends a record to a bucket, creating the bucket if it
	// does not exist. A missing timestamp field is injected.
	AddData(name string, rec Record) error
	// SetData upserts a record keyed by the value of keyField: if a
	// record with the same keyField value exists it is replaced in
	// place, otherwise the record is appended. The record's timestamp
	// is always refreshed. Fails with RetCValidation if the record
	// lacks keyField. The bucket is created if it does not exist.
	SetData(name string, rec Record, keyField string) error
	// QueryData filters, sorts and paginates the records of a bucket.
	// An unknown bucket yields an empty result, not an error.
	QueryData(name string, pred query.Predicate) (Result, error)
	// DeleteData removes every record matching the predicate. The
	// boolean reports whether at least one record was removed. An
	// unknown bucket reports false without an error.
	DeleteData(name string, pred query.Predicate) (bool, error)
	// FlushBucket removes all records of a bucket but keeps the bucket
	// and its metadata. Fails with RetCNotFound if the bucket does not
	// exist.
	FlushBucket(name string) error
	// Replicated returns a view of the store whose mutations are not
	// handed to the replication notifier. The HTTP layer uses it for
	// requests that carry the replication marker, breaking forwarding
	// loops between master and replica.
	Replicated() IBucketStore
}

// --------------------------------------------------------------------------
// Collaborator Interfaces
// --------------------------------------------------------------------------

// Persistence is the durability layer the store writes through. The
// store calls it under its own guard; implementations need not be
// thread-safe.
type Persistence interface {
	// Load reads all bucket configurations and records, performing the
	// one-time legacy layout migration if needed.
	Load() (map[string]Config, map[string][]Record, error)
	// SaveConfigs rewrites the full configuration file.
	SaveConfigs(configs map[string]Config) error
	// SaveBucket rewrites the full record file of one bucket.
	SaveBucket(name string, records []Record) error
	// RemoveBucket deletes the record file of one bucket.
	RemoveBucket(name string) error
}

// Notifier receives every successful local mutation for asynchronous
// forwarding to the replica. Implementations must never block the
// calling mutation path.
type Notifier interface {
	NotifyCreateBucket(name string)
	NotifyDeleteBucket(name string)
	NotifyAddData(name string, rec Record)
	NotifySetData(name string, rec Record, keyField string)
	NotifyDeleteData(name string, params map[string]string)
	NotifyFlushBucket(name string)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	errorCode := ""
	switch e.Code {
	case RetCInternalError:
		errorCode = "InternalError"
	case RetCNotFound:
		errorCode = "NotFound"
	case RetCAlreadyExists:
		errorCode = "AlreadyExists"
	case RetCValidation:
		errorCode = "Validation"
	default:
		errorCode = "Unknown"
	}

	return fmt.Sprintf("BucketStoreError (code %s): %s", errorCode, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// IsNotFound reports whether err is a store error with RetCNotFound.
func IsNotFound(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Code == RetCNotFound
}

// IsValidation reports whether err is a store error with RetCValidation
// or RetCAlreadyExists.
func IsValidation(err error) bool {
	e, ok := err.(*Error)
	return ok && (e.Code == RetCValidation || e.Code == RetCAlreadyExists)
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess       RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                // 1: Operation failed due to an internal error.
	RetCNotFound                     // 2: The addressed bucket does not exist.
	RetCAlreadyExists                // 3: The bucket already exists.
	RetCValidation                   // 4: The input failed validation.
)
