package world

import (
	"sync"
	"sync/atomic"
)

// ChunkFuture is the pending result of loading a chunk. Every concurrent
// request for the same chunk position shares a single ChunkFuture, so a chunk
// is only ever loaded once at a time.
//
// A ChunkFuture is resolved by the I/O worker once the chunk was read from the
// Provider or generated. It is settled afterwards on the simulation goroutine,
// where the chunk is installed in the cache and the callbacks registered on
// the future are run.
type ChunkFuture struct {
	pos      ChunkPos
	generate atomic.Bool
	done     chan struct{}

	mu        sync.Mutex
	chunk     *Chunk
	err       error
	settled   bool
	callbacks []func(*Chunk)
}

// newChunkFuture returns an unresolved ChunkFuture for the position passed.
func newChunkFuture(pos ChunkPos, generate bool) *ChunkFuture {
	f := &ChunkFuture{pos: pos, done: make(chan struct{})}
	f.generate.Store(generate)
	return f
}

// Pos returns the position of the chunk being loaded.
func (f *ChunkFuture) Pos() ChunkPos {
	return f.pos
}

// Done returns a channel that is closed once the load finished, successfully
// or not.
func (f *ChunkFuture) Done() <-chan struct{} {
	return f.done
}

// Result returns the loaded chunk or the error that occurred while loading
// it. Result returns (nil, nil) if the load has not yet finished. Once the
// future is settled, the chunk returned is the instance held by the cache.
func (f *ChunkFuture) Result() (*Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunk, f.err
}

// Settled reports if the result of the future was installed in the cache and
// its callbacks were run.
func (f *ChunkFuture) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// then registers a function to run on the simulation goroutine once the chunk
// is installed. It returns false if the future was already settled, in which
// case f is not registered.
func (f *ChunkFuture) then(fn func(*Chunk)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.callbacks = append(f.callbacks, fn)
	return true
}

// resolve stores the result of the load and closes the done channel.
func (f *ChunkFuture) resolve(c *Chunk, err error) {
	f.mu.Lock()
	f.chunk, f.err = c, err
	f.mu.Unlock()
	close(f.done)
}

// settle replaces the chunk of the future with the instance held by the cache
// and returns the callbacks to run. settle returns false if the future was
// settled before.
func (f *ChunkFuture) settle(c *Chunk) ([]func(*Chunk), bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return nil, false
	}
	f.settled = true
	if c != nil {
		f.chunk = c
	}
	callbacks := f.callbacks
	f.callbacks = nil
	return callbacks, true
}
