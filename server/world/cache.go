package world

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Chunk returns the chunk at the position passed if it is resident in the
// cache. Chunk never blocks on I/O and may be called from any goroutine,
// although the chunk returned may only be used on the simulation goroutine.
func (w *World) Chunk(pos ChunkPos) (*Chunk, bool) {
	w.cacheMu.RLock()
	defer w.cacheMu.RUnlock()
	return w.residentChunk(pos)
}

// residentChunk looks up a chunk in the cache. cacheMu must be held.
func (w *World) residentChunk(pos ChunkPos) (*Chunk, bool) {
	i, ok := w.index.Get(pos.Hash())
	if !ok {
		return nil, false
	}
	return w.chunks[i], true
}

// GetOrLoad calls onReady with the chunk at the position passed. If the chunk
// is resident, onReady is called immediately on the calling goroutine.
// Otherwise, the chunk is loaded from the Provider (or generated if generate is
// true and the Provider does not hold it) and onReady is called on the
// simulation goroutine once the chunk was installed in the cache. If loading
// fails, onReady is never called.
func (w *World) GetOrLoad(pos ChunkPos, generate bool, onReady func(*Chunk)) {
	if c, ok := w.Chunk(pos); ok {
		onReady(c)
		return
	}
	f := w.LoadChunk(pos, generate)
	if f.then(onReady) {
		return
	}
	// The future was settled between the lookup and registering the
	// callback.
	if c, err := f.Result(); err == nil && c != nil {
		onReady(c)
	}
}

// LoadChunk requests the chunk at the position passed to be loaded and returns
// a ChunkFuture for it. If a load of the chunk is already pending, the pending
// future is returned, and generate is raised on it if passed. The flag is
// only honoured if it was raised before the Provider reported the chunk as
// missing: a caller joining later receives ErrChunkNotFound and has to request
// the chunk again. If the chunk is resident, a settled future holding the
// chunk is returned.
func (w *World) LoadChunk(pos ChunkPos, generate bool) *ChunkFuture {
	w.cacheMu.Lock()
	if c, ok := w.residentChunk(pos); ok {
		w.cacheMu.Unlock()
		f := newChunkFuture(pos, generate)
		f.resolve(c, nil)
		f.settle(c)
		return f
	}
	if f, ok := w.pending[pos]; ok {
		if generate {
			f.generate.Store(true)
		}
		w.cacheMu.Unlock()
		return f
	}
	f := newChunkFuture(pos, generate)
	if w.cacheClosed {
		w.cacheMu.Unlock()
		f.resolve(nil, ErrClosed)
		f.settle(nil)
		return f
	}
	w.pending[pos] = f
	w.cacheMu.Unlock()

	w.worker.enqueue(loadTask{f: f})
	return f
}

// drainCompletions installs all chunks the worker finished loading since the
// last call and runs the callbacks waiting for them.
func (w *World) drainCompletions() {
	for _, f := range w.worker.completions.drain() {
		w.settle(f)
	}
}

// settle installs the result of a resolved ChunkFuture in the cache. If a
// chunk at the same position became resident in the meantime, the resident
// chunk is kept and the loaded one discarded. Callbacks of the future are run
// with the resident chunk.
func (w *World) settle(f *ChunkFuture) *Chunk {
	c, err := f.Result()
	if f.Settled() {
		// Already installed by LoadChunkSync.
		return c
	}

	w.cacheMu.Lock()
	if w.pending[f.pos] == f {
		delete(w.pending, f.pos)
	}
	if err == nil {
		if resident, ok := w.residentChunk(f.pos); ok {
			c = resident
		} else {
			now := w.conf.Clock()
			c.loadedAt, c.lastPlayerLeft = now, now
			w.insert(c)
		}
	}
	w.cacheMu.Unlock()

	callbacks, ok := f.settle(c)
	if !ok {
		return c
	}
	if err != nil {
		w.conf.Log.Error("load chunk: "+err.Error(), "X", f.pos[0], "Z", f.pos[1])
		return nil
	}
	for _, cb := range callbacks {
		w.runCallback(f.pos, cb, c)
	}
	return c
}

// runCallback runs a single load callback, recovering from any panic.
func (w *World) runCallback(pos ChunkPos, cb func(*Chunk), c *Chunk) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.inc(metricPanics)
			w.conf.Log.Error("chunk callback: panic", "error", fmt.Sprint(r), "X", pos[0], "Z", pos[1], "stack", string(debug.Stack()))
		}
	}()
	cb(c)
}

// insert adds a chunk to the cache. cacheMu must be held.
func (w *World) insert(c *Chunk) {
	w.index.Put(c.pos.Hash(), int64(len(w.chunks)))
	w.chunks = append(w.chunks, c)
}

// remove removes the chunk at index i from the cache, moving the last chunk
// into its place. cacheMu must be held.
func (w *World) remove(i int) *Chunk {
	c := w.chunks[i]
	last := len(w.chunks) - 1
	w.index.Del(c.pos.Hash())
	if i != last {
		moved := w.chunks[last]
		w.chunks[i] = moved
		w.index.Put(moved.pos.Hash(), int64(i))
	}
	w.chunks[last] = nil
	w.chunks = w.chunks[:last]
	return c
}

// evictChunks removes all chunks from the cache that may be evicted at the
// time passed. Modified chunks are saved before they are removed. Scheduled
// updates of removed chunks stay queued and are skipped once due.
func (w *World) evictChunks(now time.Time) int {
	w.cacheMu.Lock()
	var evicted []*Chunk
	for i := 0; i < len(w.chunks); {
		c := w.chunks[i]
		if !c.evictable(now, w.conf.MinResidency, w.conf.GracePeriod) {
			i++
			continue
		}
		evicted = append(evicted, w.remove(i))
	}
	w.cacheMu.Unlock()

	for _, c := range evicted {
		w.saveChunk(c, now)
		w.payloads.remove(c)
		w.metrics.forget(c.pos)
		w.metrics.inc(metricEvictions)
	}
	return len(evicted)
}

// saveChunk queues a snapshot of the chunk passed for saving if it holds
// changes that were not yet saved.
func (w *World) saveChunk(c *Chunk, now time.Time) {
	if w.conf.ReadOnly || !c.needsSave() {
		return
	}
	c.resave.Store(false)
	snapshot := c.Clone()
	c.modified = false
	c.lastSaved = now
	c.inflight.Add(1)
	w.worker.enqueue(saveTask{pos: c.pos, snapshot: snapshot, source: c})
}

// residentChunks returns a copy of the chunks in the cache in cache order.
func (w *World) residentChunks() []*Chunk {
	w.cacheMu.RLock()
	defer w.cacheMu.RUnlock()
	chunks := make([]*Chunk, len(w.chunks))
	copy(chunks, w.chunks)
	return chunks
}

// LoadedChunkCount returns the number of chunks currently kept in memory by the
// world.
func (w *World) LoadedChunkCount() int {
	w.cacheMu.RLock()
	defer w.cacheMu.RUnlock()
	return len(w.chunks)
}
