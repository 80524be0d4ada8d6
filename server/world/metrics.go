package world

import (
	"sync"
)

// Metrics tracks counters describing the work done by a World.
type Metrics struct {
	mu sync.Mutex

	counters map[string]uint64
	packaged map[ChunkPos]uint64
	queue    int
}

// MetricsSnapshot is a copy of the counters held by Metrics at a point in
// time.
type MetricsSnapshot struct {
	Loads            uint64
	LoadFailures     uint64
	Generated        uint64
	Saves            uint64
	SaveFailures     uint64
	Evictions        uint64
	Packaged         uint64
	PayloadHits      uint64
	RandomUpdates    uint64
	ScheduledUpdates uint64
	SkippedUpdates   uint64
	Panics           uint64
	QueueSaturation  uint64
	// QueueSize is the amount of tasks waiting for the I/O worker when the
	// worker last took a task.
	QueueSize int
}

const (
	metricLoads            = "loads"
	metricLoadFailures     = "load_failures"
	metricGenerated        = "generated"
	metricSaves            = "saves"
	metricSaveFailures     = "save_failures"
	metricEvictions        = "evictions"
	metricPackaged         = "packaged"
	metricPayloadHits      = "payload_hits"
	metricRandomUpdates    = "random_updates"
	metricScheduledUpdates = "scheduled_updates"
	metricSkippedUpdates   = "skipped_updates"
	metricPanics           = "panics"
	metricQueueSaturation  = "queue_saturation"
)

// NewMetrics creates an empty metrics registry.
func NewMetrics() *Metrics {
	return &Metrics{
		counters: make(map[string]uint64),
		packaged: make(map[ChunkPos]uint64),
	}
}

// add increments the counter with the name passed.
func (m *Metrics) add(name string, value uint64) {
	if m == nil || value == 0 {
		return
	}
	m.mu.Lock()
	m.counters[name] += value
	m.mu.Unlock()
}

func (m *Metrics) inc(name string) {
	m.add(name, 1)
}

// incPackaged increments the packaging counter for a chunk.
func (m *Metrics) incPackaged(pos ChunkPos) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters[metricPackaged]++
	m.packaged[pos]++
	m.mu.Unlock()
}

// setQueueSize stores the current size of the I/O worker queue.
func (m *Metrics) setQueueSize(size int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.queue = size
	m.mu.Unlock()
}

// PackagedCount returns how often the chunk at the position passed was
// packaged.
func (m *Metrics) PackagedCount(pos ChunkPos) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.packaged[pos]
}

// forget removes the per-chunk counters of a chunk that left the cache.
func (m *Metrics) forget(pos ChunkPos) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.packaged, pos)
	m.mu.Unlock()
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Loads:            m.counters[metricLoads],
		LoadFailures:     m.counters[metricLoadFailures],
		Generated:        m.counters[metricGenerated],
		Saves:            m.counters[metricSaves],
		SaveFailures:     m.counters[metricSaveFailures],
		Evictions:        m.counters[metricEvictions],
		Packaged:         m.counters[metricPackaged],
		PayloadHits:      m.counters[metricPayloadHits],
		RandomUpdates:    m.counters[metricRandomUpdates],
		ScheduledUpdates: m.counters[metricScheduledUpdates],
		SkippedUpdates:   m.counters[metricSkippedUpdates],
		Panics:           m.counters[metricPanics],
		QueueSaturation:  m.counters[metricQueueSaturation],
		QueueSize:        m.queue,
	}
}
