package world

import (
	"errors"
)

// ErrChunkNotFound is returned by a Provider if no chunk was stored at the
// position requested.
var ErrChunkNotFound = errors.New("chunk not found")

// Provider represents a value that may provide world data to a World. It
// may read chunks from disk or from another source. LoadChunk and SaveChunk
// are only ever called from the I/O worker goroutine of the World.
type Provider interface {
	// LoadChunk loads the chunk at the position passed. If no chunk is
	// stored at that position, an error wrapping ErrChunkNotFound is
	// returned.
	LoadChunk(pos ChunkPos) (*Chunk, error)
	// SaveChunk writes the chunk passed to the position passed. The chunk is
	// a snapshot owned by the Provider for the duration of the call.
	SaveChunk(pos ChunkPos, c *Chunk) error
	// Close closes the provider, writing any pending data.
	Close() error
}

// NopProvider implements a Provider that does not perform any disk I/O. It
// never has chunks stored and discards every chunk saved.
type NopProvider struct{}

var _ Provider = NopProvider{}

func (NopProvider) LoadChunk(ChunkPos) (*Chunk, error) { return nil, ErrChunkNotFound }
func (NopProvider) SaveChunk(ChunkPos, *Chunk) error    { return nil }
func (NopProvider) Close() error                        { return nil }
