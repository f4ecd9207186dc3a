package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.Increment(CounterTasksSent)
	c.Increment(CounterTasksSent)
	c.Add(CounterEventsAppended, 5)

	require.Equal(t, int64(2), c.Value(CounterTasksSent))
	require.Equal(t, int64(5), c.Value(CounterEventsAppended))
	require.Equal(t, int64(0), c.Value(CounterTasksFailed))
}

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()
	c.Increment(CounterTasksSucceeded)

	snapshot := c.Snapshot()
	require.Equal(t, int64(1), snapshot[CounterTasksSucceeded])
	require.Contains(t, snapshot, "uptime_seconds")
}

func TestCollectorQueueMetrics(t *testing.T) {
	c := NewCollector()
	c.Add(CounterTasksSent, 10)
	c.Add(CounterTasksSucceeded, 7)
	c.Add(CounterTasksFailed, 3)
	c.Increment(CounterTasksDeadLettered)

	q := c.Queue()
	require.Equal(t, int64(10), q.Sent)
	require.Equal(t, int64(7), q.Succeeded)
	require.Equal(t, int64(3), q.Failed)
	require.Equal(t, int64(1), q.DLQCount)
}

func TestCollectorConcurrentIncrements(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Increment(CounterTasksSent)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(5000), c.Value(CounterTasksSent))
}
