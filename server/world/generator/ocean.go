package generator

import (
	"github.com/dm-vev/adamant/server/world"
)

// BiomeOcean is the biome ID of oceans.
const BiomeOcean uint8 = 0

// Ocean generates a flat sea floor of stone on a bedrock layer, covered with
// still water up to WaterHeight.
type Ocean struct {
	// Floor is the Y value of the top of the sea floor.
	Floor int16
	// WaterHeight is the Y value of the top water block.
	WaterHeight int16
}

// DefaultOcean returns an Ocean with the sea floor at 40 and water up to 62.
func DefaultOcean() Ocean {
	return Ocean{Floor: 40, WaterHeight: 62}
}

// GenerateChunk ...
func (o Ocean) GenerateChunk(_ world.ChunkPos, chunk *world.Chunk) error {
	for x := uint8(0); x < 16; x++ {
		for z := uint8(0); z < 16; z++ {
			chunk.SetBlock(x, 0, z, Bedrock)
			for y := int16(1); y <= o.WaterHeight && y < 256; y++ {
				if y <= o.Floor {
					chunk.SetBlock(x, y, z, Stone)
					continue
				}
				chunk.SetBlock(x, y, z, Water)
			}
			chunk.SetBiome(x, z, BiomeOcean)
		}
	}
	return nil
}
