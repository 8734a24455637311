package recovery

import (
	"log/slog"
	"sync"
	"time"
)

// JobStatusKind is the lifecycle state of one dispatched component
// recovery job.
type JobStatusKind string

const (
	JobRunning   JobStatusKind = "running"
	JobCompleted JobStatusKind = "completed"
	JobFailed    JobStatusKind = "failed"
)

// Terminal reports whether a status kind ends a job's lifecycle.
func (k JobStatusKind) Terminal() bool {
	return k == JobCompleted || k == JobFailed
}

// RecoveryJobStatus is the tracker's record for one (node, component) job.
type RecoveryJobStatus struct {
	NodeID        string
	ComponentType string
	Status        JobStatusKind
	Progress      int
	Error         *string
	CompletedAt   *time.Time
}

func jobKey(nodeID, componentType string) string {
	return nodeID + "|" + componentType
}

// JobTracker is the Job Tracker (L8): the single source of truth for every
// dispatched recovery job's status, upserted by (node_id, component_type)
// so a job's final status overwrites its running one rather than
// duplicating. It also broadcasts every upsert onto per-subscriber
// channels for streaming consumers; the map itself is authoritative, the
// stream is best-effort: an update for a subscriber whose buffer is full
// is dropped and logged.
type JobTracker struct {
	logger *slog.Logger

	mu       sync.RWMutex
	statuses map[string]RecoveryJobStatus

	subMu sync.Mutex
	subs  map[int]chan RecoveryJobStatus
	nextSub int
}

const subscriberBuffer = 64

// NewJobTracker creates an empty JobTracker.
func NewJobTracker(logger *slog.Logger) *JobTracker {
	return &JobTracker{
		logger:   logger,
		statuses: make(map[string]RecoveryJobStatus),
		subs:     make(map[int]chan RecoveryJobStatus),
	}
}

// Upsert records status, replacing any prior record for the same
// (node_id, component_type), and publishes it to every subscriber.
func (t *JobTracker) Upsert(status RecoveryJobStatus) {
	key := jobKey(status.NodeID, status.ComponentType)

	t.mu.Lock()
	t.statuses[key] = status
	t.mu.Unlock()

	t.publish(status)
}

// Get returns the current status for a (node_id, component_type) pair.
func (t *JobTracker) Get(nodeID, componentType string) (RecoveryJobStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.statuses[jobKey(nodeID, componentType)]
	return s, ok
}

// AllTerminal reports whether every job named by keys has reached a
// terminal status.
func (t *JobTracker) AllTerminal(keys [][2]string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, k := range keys {
		s, ok := t.statuses[jobKey(k[0], k[1])]
		if !ok || !s.Status.Terminal() {
			return false
		}
	}
	return true
}

// FirstFailure returns the first Failed status among keys, if any.
func (t *JobTracker) FirstFailure(keys [][2]string) (RecoveryJobStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, k := range keys {
		s, ok := t.statuses[jobKey(k[0], k[1])]
		if ok && s.Status == JobFailed {
			return s, true
		}
	}
	return RecoveryJobStatus{}, false
}

// Subscribe registers a new stream of status upserts. The caller must call
// the returned cancel function when done.
func (t *JobTracker) Subscribe() (<-chan RecoveryJobStatus, func()) {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	id := t.nextSub
	t.nextSub++
	ch := make(chan RecoveryJobStatus, subscriberBuffer)
	t.subs[id] = ch

	cancel := func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (t *JobTracker) publish(status RecoveryJobStatus) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for id, ch := range t.subs {
		select {
		case ch <- status:
		default:
			t.logger.Warn("recovery: job status subscriber buffer full, dropping update",
				"subscriber", id, "node", status.NodeID, "component", status.ComponentType)
		}
	}
}
