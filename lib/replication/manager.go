// Package replication mirrors local mutations to a secondary replica.
//
// The manager tracks replica liveness with a periodic health probe,
// forwards mutations as they happen through a single worker fed by a
// bounded queue, and parks failed forwards in a FIFO buffer that a
// periodic drain loop replays once the replica recovers. Delivery is
// at-least-once and in order, but the buffer lives only in memory and
// does not survive a restart.
package replication

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"

	"bucketdb/lib/bucket"
	"bucketdb/lib/logging"
)

var log = logging.GetLogger("replication")

// Forward/buffer counters, shared across manager instances.
var (
	tasksForwarded = metrics.GetOrCreateCounter(`bucketdb_replication_tasks_total{outcome="forwarded"}`)
	tasksBuffered  = metrics.GetOrCreateCounter(`bucketdb_replication_tasks_total{outcome="buffered"}`)
	tasksDropped   = metrics.GetOrCreateCounter(`bucketdb_replication_tasks_total{outcome="dropped"}`)
)

// --------------------------------------------------------------------------
// Target Interface
// --------------------------------------------------------------------------

// Target is the replica side of the wire contract: one call per
// mutating store operation, plus the liveness probe. Implementations
// must tag their calls with the replication marker so the replica does
// not re-replicate them.
type Target interface {
	CreateBucket(name string) error
	DeleteBucket(name string) error
	AddData(name string, rec bucket.Record) error
	SetData(name string, rec bucket.Record, keyField string) error
	DeleteData(name string, params map[string]string) error
	FlushBucket(name string) error
	// Ping probes the replica's health endpoint.
	Ping(ctx context.Context) error
}

// --------------------------------------------------------------------------
// Tasks
// --------------------------------------------------------------------------

// TaskKind identifies which store operation a task replays.
type TaskKind uint8

const (
	TaskCreateBucket TaskKind = iota
	TaskDeleteBucket
	TaskAddData
	TaskSetData
	TaskDeleteData
	TaskFlushBucket
)

// String returns the operation name of the task kind.
func (k TaskKind) String() string {
	switch k {
	case TaskCreateBucket:
		return "createBucket"
	case TaskDeleteBucket:
		return "deleteBucket"
	case TaskAddData:
		return "addData"
	case TaskSetData:
		return "setData"
	case TaskDeleteData:
		return "deleteData"
	case TaskFlushBucket:
		return "flushBucket"
	default:
		return "unknown"
	}
}

// Task is one buffered mutation pending delivery to the replica. Only
// the payload fields relevant for its kind are populated.
type Task struct {
	Kind   TaskKind
	Bucket string

	Record   bucket.Record     // TaskAddData, TaskSetData
	KeyField string            // TaskSetData
	Params   map[string]string // TaskDeleteData
}

// --------------------------------------------------------------------------
// Manager
// --------------------------------------------------------------------------

// Config holds the replication parameters of one node.
type Config struct {
	// Master enables forwarding; on a replica the manager is inert.
	Master bool
	// HealthInterval is the period of the liveness probe (default 5s).
	HealthInterval time.Duration
	// DrainInterval is the period of the buffer replay loop (default 10s).
	DrainInterval time.Duration
	// ProbeTimeout bounds a single liveness probe (default 2s).
	ProbeTimeout time.Duration
	// QueueSize bounds the forward-now queue (default 256).
	QueueSize int
	// BufferLimit bounds the retry buffer; the oldest task is dropped
	// on overflow (default 8192).
	BufferLimit int
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 5 * time.Second
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 10 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.BufferLimit <= 0 {
		cfg.BufferLimit = 8192
	}
	return cfg
}

// Manager implements bucket.Notifier. Mutations enter through the
// Notify methods, which never block: they hand the task to the worker
// via a bounded channel or fall through to the retry buffer.
type Manager struct {
	cfg    Config
	target Target

	reachable atomic.Bool
	pending   chan Task

	mu     sync.Mutex
	buffer []Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a replication manager forwarding to target. The
// target may be nil when the node has no replica; the manager is then
// inert regardless of the master flag.
func NewManager(cfg Config, target Target) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg.withDefaults(),
		target:  target,
		pending: make(chan Task, cfg.withDefaults().QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker, health and drain goroutines.
func (m *Manager) Start() {
	if !m.active() {
		log.Info("replication disabled", "master", m.cfg.Master)
		return
	}

	log.Info("replication manager starting",
		"healthInterval", m.cfg.HealthInterval,
		"drainInterval", m.cfg.DrainInterval,
		"bufferLimit", m.cfg.BufferLimit)

	m.wg.Add(3)
	go m.workerLoop()
	go m.healthLoop()
	go m.drainLoop()
}

// Stop cancels the background loops and waits for them to finish.
// Buffered tasks are lost; the buffer is not durable.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
	if n := m.BufferLen(); n > 0 {
		log.Warn("stopping with undelivered replication tasks", "tasks", n)
	}
}

// Reachable reports the replica liveness as of the last health check.
func (m *Manager) Reachable() bool {
	return m.reachable.Load()
}

// BufferLen returns the number of tasks waiting for replay.
func (m *Manager) BufferLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer)
}

func (m *Manager) active() bool {
	return m.cfg.Master && m.target != nil
}

// --------------------------------------------------------------------------
// Notifier Interface (docu see bucket.Notifier)
// --------------------------------------------------------------------------

func (m *Manager) NotifyCreateBucket(name string) {
	m.submit(Task{Kind: TaskCreateBucket, Bucket: name})
}

func (m *Manager) NotifyDeleteBucket(name string) {
	m.submit(Task{Kind: TaskDeleteBucket, Bucket: name})
}

func (m *Manager) NotifyAddData(name string, rec bucket.Record) {
	m.submit(Task{Kind: TaskAddData, Bucket: name, Record: rec})
}

func (m *Manager) NotifySetData(name string, rec bucket.Record, keyField string) {
	m.submit(Task{Kind: TaskSetData, Bucket: name, Record: rec, KeyField: keyField})
}

func (m *Manager) NotifyDeleteData(name string, params map[string]string) {
	m.submit(Task{Kind: TaskDeleteData, Bucket: name, Params: params})
}

func (m *Manager) NotifyFlushBucket(name string) {
	m.submit(Task{Kind: TaskFlushBucket, Bucket: name})
}

// submit hands a task to the worker without ever blocking the mutation
// path. A full queue skips straight to the retry buffer.
func (m *Manager) submit(task Task) {
	if !m.active() {
		return
	}
	select {
	case m.pending <- task:
	default:
		m.bufferTask(task)
	}
}

// --------------------------------------------------------------------------
// Background Loops
// --------------------------------------------------------------------------

// workerLoop is the forward-now path: it applies tasks immediately
// while the replica is reachable and buffers them otherwise. A forward
// failure buffers the task; liveness itself is only changed by the
// health loop.
func (m *Manager) workerLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case task := <-m.pending:
			if !m.reachable.Load() {
				m.bufferTask(task)
				continue
			}
			if err := m.apply(task); err != nil {
				log.Warn("forward failed, buffering task",
					"op", task.Kind.String(), "bucket", task.Bucket, "err", err)
				m.bufferTask(task)
				continue
			}
			tasksForwarded.Inc()
		}
	}
}

// healthLoop probes the replica on a fixed period and is the only
// writer of the liveness flag.
func (m *Manager) healthLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	m.checkHealth()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkHealth()
		}
	}
}

func (m *Manager) checkHealth() {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.ProbeTimeout)
	defer cancel()

	err := m.target.Ping(ctx)
	was := m.reachable.Swap(err == nil)

	switch {
	case err != nil && was:
		log.Warn("replica became unreachable", "err", err)
	case err == nil && !was:
		log.Info("replica is reachable")
	}
}

// drainLoop replays the retry buffer head-first while the replica is
// reachable. The first failure ends the cycle with the failed task
// still at the head, preserving FIFO order.
func (m *Manager) drainLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.drain()
		}
	}
}

func (m *Manager) drain() {
	for m.reachable.Load() {
		task, ok := m.peek()
		if !ok {
			return
		}
		if err := m.apply(task); err != nil {
			log.Warn("drain stopped on failed task",
				"op", task.Kind.String(), "bucket", task.Bucket,
				"remaining", m.BufferLen(), "err", err)
			return
		}
		tasksForwarded.Inc()
		m.pop()
	}
}

// --------------------------------------------------------------------------
// Buffer
// --------------------------------------------------------------------------

func (m *Manager) bufferTask(task Task) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.buffer) >= m.cfg.BufferLimit {
		dropped := m.buffer[0]
		m.buffer = m.buffer[1:]
		tasksDropped.Inc()
		log.Error("replication buffer full, dropping oldest task",
			"op", dropped.Kind.String(), "bucket", dropped.Bucket)
	}
	m.buffer = append(m.buffer, task)
	tasksBuffered.Inc()
}

func (m *Manager) peek() (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buffer) == 0 {
		return Task{}, false
	}
	return m.buffer[0], true
}

func (m *Manager) pop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buffer) > 0 {
		m.buffer = m.buffer[1:]
	}
}

// apply replays one task against the replica.
func (m *Manager) apply(task Task) error {
	switch task.Kind {
	case TaskCreateBucket:
		return m.target.CreateBucket(task.Bucket)
	case TaskDeleteBucket:
		return m.target.DeleteBucket(task.Bucket)
	case TaskAddData:
		return m.target.AddData(task.Bucket, task.Record)
	case TaskSetData:
		return m.target.SetData(task.Bucket, task.Record, task.KeyField)
	case TaskDeleteData:
		return m.target.DeleteData(task.Bucket, task.Params)
	case TaskFlushBucket:
		return m.target.FlushBucket(task.Bucket)
	default:
		log.Error("unknown replication task kind", "kind", uint8(task.Kind))
		return nil
	}
}
