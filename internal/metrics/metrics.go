package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter names
const (
	CounterEventsAppended    = "events_appended_total"
	CounterEventsPublished   = "events_published_total"
	CounterEventsFailed      = "events_publish_failed_total"
	CounterEventsStale       = "events_stale_total"
	CounterEventsReplayed    = "events_replayed_total"
	CounterTasksSent         = "tasks_sent_total"
	CounterTasksSucceeded    = "tasks_succeeded_total"
	CounterTasksFailed       = "tasks_failed_total"
	CounterTasksRetried      = "tasks_retried_total"
	CounterTasksDeadLettered = "tasks_dead_lettered_total"
	CounterTasksMalformed    = "tasks_malformed_total"
	CounterDuplicatesSkipped = "duplicates_skipped_total"
	CounterProjectionsBuilt  = "projections_built_total"
)

// QueueMetrics is the externally visible task queue snapshot
type QueueMetrics struct {
	Sent      int64 `json:"sent"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	DLQCount  int64 `json:"dlqCount"`
}

// Collector is a process-scoped metrics collector. It is passed to its
// consumers explicitly; there is no package-level instance.
type Collector struct {
	mu        sync.RWMutex
	counters  map[string]*int64
	startTime time.Time
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		counters:  make(map[string]*int64),
		startTime: time.Now(),
	}
}

func (c *Collector) counter(name string) *int64 {
	c.mu.RLock()
	v, ok := c.counters[name]
	c.mu.RUnlock()
	if ok {
		return v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.counters[name]; ok {
		return v
	}
	v = new(int64)
	c.counters[name] = v
	return v
}

// Increment adds one to a counter
func (c *Collector) Increment(name string) {
	atomic.AddInt64(c.counter(name), 1)
}

// Add adds a value to a counter
func (c *Collector) Add(name string, value int64) {
	atomic.AddInt64(c.counter(name), value)
}

// Value returns a counter's current value
func (c *Collector) Value(name string) int64 {
	return atomic.LoadInt64(c.counter(name))
}

// Snapshot returns all counters plus uptime
func (c *Collector) Snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]int64, len(c.counters)+1)
	for name, v := range c.counters {
		snapshot[name] = atomic.LoadInt64(v)
	}
	snapshot["uptime_seconds"] = int64(time.Since(c.startTime).Seconds())
	return snapshot
}

// Queue returns the task queue metrics snapshot
func (c *Collector) Queue() QueueMetrics {
	return QueueMetrics{
		Sent:      c.Value(CounterTasksSent),
		Succeeded: c.Value(CounterTasksSucceeded),
		Failed:    c.Value(CounterTasksFailed),
		DLQCount:  c.Value(CounterTasksDeadLettered),
	}
}
