package mcdb

// Keys on a per-chunk basis. These are prefixed by the chunk coordinates.
const (
	// keyVersion holds the version of the chunk.
	keyVersion = ','
	// keyVersionOld holds the version of chunks written by older versions.
	keyVersionOld = 'v'
	// keySubChunkData holds a sub chunk. It is followed by the index of the
	// sub chunk.
	keySubChunkData = '/'
	// key2DData holds the height map and the biomes of the chunk.
	key2DData = '-'
	// keyBlockEntities holds a list of block entities of the chunk.
	keyBlockEntities = '1'
	// keyFinalisation holds the finalisation state of the chunk.
	keyFinalisation = '6'
)
