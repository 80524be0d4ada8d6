package world

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	// sliceCount is the amount of vertical slices in a chunk.
	sliceCount = 16
	// maxHeight is the exclusive upper bound of block Y values in a chunk.
	maxHeight = sliceCount << 4
)

// ChunkPos holds the position of a chunk. The type is provided as a utility
// struct for keeping track of a chunk's position. Chunks do not themselves
// keep track of that. Chunk positions are different from block positions in
// the way that increasing the X/Z by one means increasing the absolute value
// on the X/Z axis in terms of blocks by 16.
type ChunkPos [2]int32

// X returns the X coordinate of the chunk position.
func (p ChunkPos) X() int32 {
	return p[0]
}

// Z returns the Z coordinate of the chunk position.
func (p ChunkPos) Z() int32 {
	return p[1]
}

// String implements fmt.Stringer and returns (x, z).
func (p ChunkPos) String() string {
	return fmt.Sprintf("(%v, %v)", p[0], p[1])
}

// Hash packs the chunk position into a single int64, with X in the upper and
// Z in the lower 32 bits.
func (p ChunkPos) Hash() int64 {
	return int64(p[0])<<32 | int64(uint32(p[1]))
}

// ChunkPosFromHash is the inverse of ChunkPos.Hash.
func ChunkPosFromHash(h int64) ChunkPos {
	return ChunkPos{int32(h >> 32), int32(h)}
}

// ChunkPosFromVec3 returns the position of the chunk that the vector passed
// is located in.
func ChunkPosFromVec3(vec3 mgl64.Vec3) ChunkPos {
	return ChunkPos{int32(math.Floor(vec3[0])) >> 4, int32(math.Floor(vec3[2])) >> 4}
}

// BlockPos holds the absolute position of a block in the world.
type BlockPos [3]int

// X returns the X coordinate of the block position.
func (p BlockPos) X() int { return p[0] }

// Y returns the Y coordinate of the block position.
func (p BlockPos) Y() int { return p[1] }

// Z returns the Z coordinate of the block position.
func (p BlockPos) Z() int { return p[2] }

// String implements fmt.Stringer and returns (x, y, z).
func (p BlockPos) String() string {
	return fmt.Sprintf("(%v, %v, %v)", p[0], p[1], p[2])
}

// ChunkPos returns the position of the chunk the block is located in.
func (p BlockPos) ChunkPos() ChunkPos {
	return ChunkPos{int32(p[0] >> 4), int32(p[2] >> 4)}
}

// OutOfBounds checks if the Y value of the block position is outside the
// vertical range of a chunk.
func (p BlockPos) OutOfBounds() bool {
	return p[1] < 0 || p[1] >= maxHeight
}

// Vec3 returns a vector pointing to the minimum corner of the block.
func (p BlockPos) Vec3() mgl64.Vec3 {
	return mgl64.Vec3{float64(p[0]), float64(p[1]), float64(p[2])}
}

// Hash encodes the block position into a single int64: 26 bits of X, 26 bits
// of Z and 12 bits of Y. The value is used as the opaque location of a
// scheduled block update.
func (p BlockPos) Hash() int64 {
	return int64((uint64(p[0])&0x3ffffff)<<38 | (uint64(p[2])&0x3ffffff)<<12 | uint64(p[1])&0xfff)
}

// BlockPosFromHash decodes a block position previously encoded using
// BlockPos.Hash.
func BlockPosFromHash(h int64) BlockPos {
	return BlockPos{int(h >> 38), int(h << 52 >> 52), int(h << 26 >> 38)}
}

// BlockPosFromVec3 returns the block position that the vector passed is
// located in.
func BlockPosFromVec3(vec3 mgl64.Vec3) BlockPos {
	return BlockPos{int(math.Floor(vec3[0])), int(math.Floor(vec3[1])), int(math.Floor(vec3[2]))}
}

// localPos returns the position of the block relative to its chunk.
func (p BlockPos) localPos() (x uint8, y int, z uint8) {
	return uint8(p[0] & 0xf), p[1], uint8(p[2] & 0xf)
}
