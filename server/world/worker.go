package world

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// workerPollTimeout is the maximum time the worker waits for a task before
// recording a heartbeat and checking if the world is closing.
const workerPollTimeout = 500 * time.Millisecond

// task is a unit of work executed by the I/O worker.
type task interface {
	run(w *worker)
}

// loadTask loads or generates the chunk of a ChunkFuture.
type loadTask struct {
	f *ChunkFuture
}

// saveTask writes a snapshot of a chunk to the Provider. source is the chunk
// the snapshot was taken from: its in-flight counter is released once the
// snapshot was written.
type saveTask struct {
	pos      ChunkPos
	snapshot *Chunk
	source   *Chunk
}

// worker executes load and save tasks in FIFO order on a single goroutine,
// keeping disk I/O and generation off the simulation goroutine.
type worker struct {
	log     *slog.Logger
	prov    Provider
	gen     Generator
	metrics *Metrics

	tasks       *queue[task]
	completions *queue[*ChunkFuture]

	warnThreshold int
	lastWarn      atomic.Int64
	heartbeat     atomic.Int64

	closing chan struct{}
	done    chan struct{}
}

func newWorker(log *slog.Logger, prov Provider, gen Generator, m *Metrics, warnThreshold int) *worker {
	return &worker{
		log:           log,
		prov:          prov,
		gen:           gen,
		metrics:       m,
		tasks:         newQueue[task](),
		completions:   newQueue[*ChunkFuture](),
		warnThreshold: warnThreshold,
		closing:       make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// enqueue adds a task to the end of the worker queue. It never blocks.
func (w *worker) enqueue(t task) {
	if n := w.tasks.push(t); w.warnThreshold > 0 && n >= w.warnThreshold {
		w.handleBackpressure(n)
	}
}

// handleBackpressure counts a saturated queue and emits a throttled warning,
// at most once a minute.
func (w *worker) handleBackpressure(size int) {
	w.metrics.inc(metricQueueSaturation)
	now := time.Now().UnixNano()
	last := w.lastWarn.Load()
	if last != 0 && time.Duration(now-last) < time.Minute {
		return
	}
	if !w.lastWarn.CompareAndSwap(last, now) {
		return
	}
	w.log.Warn("world I/O queue saturated: chunk load/save backlog detected.", "queued_tasks", size, "threshold", w.warnThreshold)
}

// run processes tasks until the worker is closed. Remaining tasks are
// drained before run returns: saves are still written, loads are resolved
// with ErrClosed.
func (w *worker) run() {
	defer close(w.done)
	for {
		t, ok := w.tasks.poll(workerPollTimeout, w.closing)
		w.heartbeat.Store(time.Now().UnixNano())
		if ok {
			w.metrics.setQueueSize(w.tasks.len())
			w.exec(t)
			continue
		}
		select {
		case <-w.closing:
			w.drain()
			return
		default:
		}
	}
}

// drain runs the tasks left in the queue after the worker was closed.
func (w *worker) drain() {
	for _, t := range w.tasks.drain() {
		switch t := t.(type) {
		case loadTask:
			t.f.resolve(nil, ErrClosed)
			w.completions.push(t.f)
		default:
			w.exec(t)
		}
	}
}

// exec runs a single task. Panics are recovered so that the worker keeps
// running.
func (w *worker) exec(t task) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.inc(metricPanics)
			w.log.Error("world worker: task panicked", "error", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	t.run(w)
}

// close stops the worker and waits until the remaining tasks were drained.
func (w *worker) close() {
	close(w.closing)
	<-w.done
}

// lastHeartbeat returns the last time the worker loop was active.
func (w *worker) lastHeartbeat() time.Time {
	return time.Unix(0, w.heartbeat.Load())
}

func (t loadTask) run(w *worker) {
	c, err := w.load(t.f.pos, &t.f.generate)
	t.f.resolve(c, err)
	w.completions.push(t.f)
}

// load reads the chunk at the position passed from the Provider. If it is
// not stored and generate is set, a new chunk is generated instead. generate
// is read after the Provider returned, so that callers joining the load while
// the Provider is read are taken into account.
func (w *worker) load(pos ChunkPos, generate *atomic.Bool) (c *Chunk, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.inc(metricPanics)
			c, err = nil, fmt.Errorf("load chunk %v: panic: %v", pos, r)
		}
		if err != nil {
			w.metrics.inc(metricLoadFailures)
		}
	}()

	c, err = w.prov.LoadChunk(pos)
	switch {
	case err == nil:
		if c == nil {
			return nil, fmt.Errorf("load chunk %v: provider returned no chunk", pos)
		}
		c.pos, c.modified = pos, false
		w.metrics.inc(metricLoads)
	case errors.Is(err, ErrChunkNotFound) && generate.Load():
		c = NewChunk(pos)
		if err := w.gen.GenerateChunk(pos, c); err != nil {
			return nil, fmt.Errorf("generate chunk %v: %w", pos, err)
		}
		// Generated chunks are not stored yet.
		c.modified = true
		w.metrics.inc(metricGenerated)
	default:
		return nil, fmt.Errorf("load chunk %v: %w", pos, err)
	}
	c.RecalculateHeightMap()
	return c, nil
}

func (t saveTask) run(w *worker) {
	defer t.source.inflight.Add(-1)
	if err := w.save(t.pos, t.snapshot); err != nil {
		t.source.resave.Store(true)
		w.metrics.inc(metricSaveFailures)
		w.log.Error("save chunk: "+err.Error(), "X", t.pos[0], "Z", t.pos[1])
		return
	}
	w.metrics.inc(metricSaves)
}

func (w *worker) save(pos ChunkPos, c *Chunk) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.inc(metricPanics)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.prov.SaveChunk(pos, c)
}
