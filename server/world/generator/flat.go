package generator

import (
	"github.com/dm-vev/adamant/server/world"
)

// Legacy block IDs used by the generators in this package.
const (
	Air     uint8 = 0
	Stone   uint8 = 1
	Grass   uint8 = 2
	Dirt    uint8 = 3
	Bedrock uint8 = 7
	Water   uint8 = 9
)

// BiomePlains is the biome ID of plains.
const BiomePlains uint8 = 1

// Flat is the flat generator of World. It generates flat worlds (like those in
// vanilla) with no other decoration. It may be constructed by calling NewFlat.
type Flat struct {
	// biome is the encoded biome that the generator should use.
	biome uint8
	// layers is a list of block layers placed by the Flat generator. The layers
	// are ordered in a way where the last element in the slice is placed as
	// the bottom most block of the chunk.
	layers []uint8
	// n is the amount of layers in the slice above.
	n int16
}

// NewFlat creates a new Flat generator. Chunks generated are completely filled
// with the biome passed. layers is a list of block layers placed by the Flat
// generator. The layers are ordered in a way where the last element in the
// slice is placed as the bottom most block of the chunk.
func NewFlat(biome uint8, layers []uint8) Flat {
	return Flat{
		biome:  biome,
		layers: layers,
		n:      int16(len(layers)),
	}
}

// DefaultFlat returns a Flat generator with a grass, two dirt and a bedrock
// layer, placed in plains.
func DefaultFlat() Flat {
	return NewFlat(BiomePlains, []uint8{Grass, Dirt, Dirt, Bedrock})
}

// GenerateChunk ...
func (f Flat) GenerateChunk(_ world.ChunkPos, chunk *world.Chunk) error {
	for x := uint8(0); x < 16; x++ {
		for z := uint8(0); z < 16; z++ {
			for y := int16(0); y < f.n; y++ {
				chunk.SetBlock(x, y, z, f.layers[f.n-y-1])
				chunk.SetSkyLight(x, y, z, 0)
			}
			// The block above the top layer is lit by the sky.
			if f.n < 256 {
				chunk.SetSkyLight(x, f.n, z, 15)
			}
			chunk.SetBiome(x, z, f.biome)
		}
	}
	return nil
}
