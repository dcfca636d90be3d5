// Package server exposes the bucket store over HTTP. The same surface
// serves regular API clients and replication traffic from a master
// node; replicated requests are marked with a query parameter and
// applied without being forwarded again.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/VictoriaMetrics/metrics"

	"bucketdb/lib/bucket"
	"bucketdb/lib/logging"
	"bucketdb/lib/query"
	"bucketdb/rpc/auth"
	"bucketdb/rpc/client"
	"bucketdb/rpc/common"
)

var log = logging.GetLogger("rpc/server")

// Server is the HTTP front of a bucketdb node.
type Server struct {
	config    common.ServerConfig
	store     bucket.IBucketStore
	validator *auth.Validator
	http      *http.Server
}

// NewServer creates the HTTP server for the given store. The validator
// guards every bucket operation; health and metrics are open.
func NewServer(config common.ServerConfig, store bucket.IBucketStore, validator *auth.Validator) *Server {
	s := &Server{
		config:    config,
		store:     store,
		validator: validator,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /buckets", s.authorized(s.handleListBuckets))
	mux.HandleFunc("POST /buckets/{name}", s.authorized(s.handleCreateBucket))
	mux.HandleFunc("DELETE /buckets/{name}", s.authorized(s.handleDeleteBucket))
	mux.HandleFunc("POST /buckets/{name}/flush", s.authorized(s.handleFlushBucket))
	mux.HandleFunc("POST /buckets/{name}/data", s.authorized(s.handleAddData))
	mux.HandleFunc("GET /buckets/{name}/data", s.authorized(s.handleQueryData))
	mux.HandleFunc("PUT /buckets/{name}/data", s.authorized(s.handleSetData))
	mux.HandleFunc("DELETE /buckets/{name}/data", s.authorized(s.handleDeleteData))

	s.http = &http.Server{
		Addr:    config.Endpoint,
		Handler: loggerMiddleware(mux),
	}
	return s
}

// Serve starts listening on the configured endpoint and blocks until
// the server is shut down.
func (s *Server) Serve() error {
	log.Info("starting HTTP server", "endpoint", s.config.Endpoint)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// --------------------------------------------------------------------------
// Bucket Handlers
// --------------------------------------------------------------------------

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	countOp("create_bucket")
	if err := s.storeFor(r).CreateBucket(r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true})
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	countOp("list_buckets")
	configs, err := s.store.ListBuckets()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Buckets: configs})
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	countOp("delete_bucket")
	if err := s.storeFor(r).DeleteBucket(r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (s *Server) handleFlushBucket(w http.ResponseWriter, r *http.Request) {
	countOp("flush_bucket")
	if err := s.storeFor(r).FlushBucket(r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

// --------------------------------------------------------------------------
// Data Handlers
// --------------------------------------------------------------------------

func (s *Server) handleAddData(w http.ResponseWriter, r *http.Request) {
	countOp("add_data")
	rec, err := readRecord(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: err.Error()})
		return
	}
	if err := s.storeFor(r).AddData(r.PathValue("name"), rec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true})
}

func (s *Server) handleSetData(w http.ResponseWriter, r *http.Request) {
	countOp("set_data")
	keyField := r.URL.Query().Get("keyField")
	if keyField == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "missing keyField parameter"})
		return
	}
	rec, err := readRecord(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: err.Error()})
		return
	}
	if err := s.storeFor(r).SetData(r.PathValue("name"), rec, keyField); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (s *Server) handleQueryData(w http.ResponseWriter, r *http.Request) {
	countOp("query_data")
	pred := query.Parse(filterParams(r.URL.Query()))
	result, err := s.store.QueryData(r.PathValue("name"), pred)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Result: &result})
}

func (s *Server) handleDeleteData(w http.ResponseWriter, r *http.Request) {
	countOp("delete_data")

	// the predicate arrives in the body (replication, API clients) or,
	// as a convenience, in the query string
	var params map[string]string
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "unreadable request body"})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			writeJSON(w, http.StatusBadRequest, envelope{Error: fmt.Sprintf("invalid predicate: %v", err)})
			return
		}
	} else {
		params = map[string]string{}
		for key := range filterParams(r.URL.Query()) {
			params[key] = r.URL.Query().Get(key)
		}
	}

	removed, err := s.storeFor(r).DeleteData(r.PathValue("name"), query.ParseMap(params))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Removed: removed})
}

// --------------------------------------------------------------------------
// Liveness and Metrics
// --------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	metrics.WritePrometheus(w, true)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// storeFor returns the store view matching the request's origin:
// requests carrying the replication marker mutate without triggering
// another round of replication.
func (s *Server) storeFor(r *http.Request) bucket.IBucketStore {
	if r.URL.Query().Get(client.ReplicatedParam) == "true" {
		return s.store.Replicated()
	}
	return s.store
}

// filterParams strips the transport-level parameters so they do not
// end up as equality clauses in a predicate.
func filterParams(values url.Values) url.Values {
	filtered := url.Values{}
	for key, vals := range values {
		if key == client.ReplicatedParam || key == "keyField" {
			continue
		}
		filtered[key] = vals
	}
	return filtered
}

func readRecord(r *http.Request) (bucket.Record, error) {
	var rec bucket.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("invalid record JSON: %w", err)
	}
	return rec, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Removed bool            `json:"removed,omitempty"`
	Buckets []bucket.Config `json:"buckets,omitempty"`
	Result  *bucket.Result  `json:"result,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Error("failed to write response", "err", err)
	}
}

// writeError maps store errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var storeErr *bucket.Error
	if errors.As(err, &storeErr) {
		switch storeErr.Code {
		case bucket.RetCNotFound:
			status = http.StatusNotFound
		case bucket.RetCAlreadyExists:
			status = http.StatusConflict
		case bucket.RetCValidation:
			status = http.StatusBadRequest
		}
	}
	if status == http.StatusInternalServerError {
		log.Error("request failed", "err", err)
	}
	writeJSON(w, status, envelope{Error: err.Error()})
}

func countOp(op string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`bucketdb_ops_total{op=%q}`, op)).Inc()
}
