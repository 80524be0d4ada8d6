package world

// Generator handles the generating of newly created chunks. Worlds have one
// generator which is used to generate chunks that are not yet stored by the
// Provider. GenerateChunk is only called from the I/O worker goroutine.
type Generator interface {
	// GenerateChunk generates a chunk at a chunk position passed. The
	// generator sets blocks in the chunk that is passed to the method.
	GenerateChunk(pos ChunkPos, chunk *Chunk) error
}

// NopGenerator is the default generator a world uses. It leaves every chunk
// filled with air.
type NopGenerator struct{}

func (NopGenerator) GenerateChunk(ChunkPos, *Chunk) error { return nil }
