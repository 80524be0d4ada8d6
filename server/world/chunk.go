package world

import (
	"bytes"
	"iter"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Chunk is a 16x256x16 column of blocks located at a ChunkPos. It holds the
// block, metadata, light, biome and height data of the column, along with the
// tile entities located in it, back-references to entities in it and the
// players currently standing in it.
//
// The fields of a Chunk may only be mutated on the simulation goroutine of
// the World that holds it. Any mutation marks the chunk dirty, which causes
// its cached Payload to be rebuilt the next time it is packaged.
type Chunk struct {
	pos ChunkPos

	slices [sliceCount]*Slice
	biomes [256]uint8
	height [256]uint8

	tileEntities map[BlockPos]map[string]any
	entities     map[int64]Entity
	players      map[uuid.UUID]struct{}

	// dirty is true if the chunk changed since it was last packaged.
	dirty bool
	// modified is true if the chunk changed since it was last saved.
	modified bool
	payload  *Payload

	loadedAt       time.Time
	lastPlayerLeft time.Time
	lastSaved      time.Time

	// inflight counts packaging requests and save tasks that still reference
	// the chunk. A chunk is never evicted while inflight is non-zero.
	inflight atomic.Int32
	// resave is set by the worker if writing a snapshot of the chunk failed.
	resave atomic.Bool
}

// needsSave checks if the chunk holds changes that were not yet written to
// the Provider.
func (c *Chunk) needsSave() bool {
	return c.modified || c.resave.Load()
}

// NewChunk returns a new Chunk at the position passed. All of its slices are
// absent, meaning the chunk is filled with air.
func NewChunk(pos ChunkPos) *Chunk {
	return &Chunk{
		pos:          pos,
		tileEntities: make(map[BlockPos]map[string]any),
		entities:     make(map[int64]Entity),
		players:      make(map[uuid.UUID]struct{}),
		dirty:        true,
	}
}

// Pos returns the position of the chunk.
func (c *Chunk) Pos() ChunkPos {
	return c.pos
}

// Dirty reports if the chunk was changed since it was last packaged.
func (c *Chunk) Dirty() bool {
	return c.dirty
}

// Modified reports if the chunk was changed since it was last saved.
func (c *Chunk) Modified() bool {
	return c.modified
}

// LoadedAt returns the time at which the chunk was placed in the cache.
func (c *Chunk) LoadedAt() time.Time {
	return c.loadedAt
}

// LastPlayerLeft returns the time at which the last player left the chunk.
func (c *Chunk) LastPlayerLeft() time.Time {
	return c.lastPlayerLeft
}

// LastSaved returns the time at which a snapshot of the chunk was last queued
// for writing to the Provider.
func (c *Chunk) LastSaved() time.Time {
	return c.lastSaved
}

// Slice returns the slice at the index passed, or nil if it was never
// materialised.
func (c *Chunk) Slice(y int) *Slice {
	if y < 0 || y >= sliceCount {
		return nil
	}
	return c.slices[y]
}

// SetSlice replaces the slice at the index passed. It is used by providers
// to fill a chunk before it is handed to the World.
func (c *Chunk) SetSlice(y int, s *Slice) {
	if y < 0 || y >= sliceCount {
		return
	}
	if s != nil {
		s.y = y
	}
	c.slices[y] = s
	c.touch()
}

// Slices returns an iterator over all materialised slices from bottom to top.
func (c *Chunk) Slices() iter.Seq2[int, *Slice] {
	return func(yield func(int, *Slice) bool) {
		for i, s := range c.slices {
			if s == nil {
				continue
			}
			if !yield(i, s) {
				return
			}
		}
	}
}

// ensureSlice returns the slice holding the y value passed, creating it if it
// did not yet exist.
func (c *Chunk) ensureSlice(y int16) *Slice {
	i := int(y >> 4)
	if s := c.slices[i]; s != nil {
		return s
	}
	s := newSlice(i)
	c.slices[i] = s
	return s
}

func inRange(y int16) bool {
	return y >= 0 && int(y) < maxHeight
}

// touch marks the chunk as changed since the last packaging and saving and
// drops its cached payload.
func (c *Chunk) touch() {
	c.dirty = true
	c.modified = true
	c.payload = nil
}

// Block returns the block ID at the chunk-relative position passed.
func (c *Chunk) Block(x uint8, y int16, z uint8) uint8 {
	if !inRange(y) {
		return 0
	}
	return c.ensureSlice(y).Block(x, uint8(y), z)
}

// SetBlock sets the block ID at the chunk-relative position passed.
func (c *Chunk) SetBlock(x uint8, y int16, z uint8, id uint8) {
	if !inRange(y) {
		return
	}
	c.ensureSlice(y).SetBlock(x, uint8(y), z, id)
	c.touch()
}

// Data returns the block metadata at the chunk-relative position passed.
func (c *Chunk) Data(x uint8, y int16, z uint8) uint8 {
	if !inRange(y) {
		return 0
	}
	return c.ensureSlice(y).Data(x, uint8(y), z)
}

// SetData sets the block metadata at the chunk-relative position passed.
func (c *Chunk) SetData(x uint8, y int16, z uint8, v uint8) {
	if !inRange(y) {
		return
	}
	c.ensureSlice(y).SetData(x, uint8(y), z, v)
	c.touch()
}

// BlockLight returns the block light level at the chunk-relative position
// passed.
func (c *Chunk) BlockLight(x uint8, y int16, z uint8) uint8 {
	if !inRange(y) {
		return 0
	}
	return c.ensureSlice(y).BlockLight(x, uint8(y), z)
}

// SetBlockLight sets the block light level at the chunk-relative position
// passed.
func (c *Chunk) SetBlockLight(x uint8, y int16, z uint8, v uint8) {
	if !inRange(y) {
		return
	}
	c.ensureSlice(y).SetBlockLight(x, uint8(y), z, v)
	c.touch()
}

// SkyLight returns the sky light level at the chunk-relative position passed.
func (c *Chunk) SkyLight(x uint8, y int16, z uint8) uint8 {
	if !inRange(y) {
		return 0
	}
	return c.ensureSlice(y).SkyLight(x, uint8(y), z)
}

// SetSkyLight sets the sky light level at the chunk-relative position passed.
func (c *Chunk) SetSkyLight(x uint8, y int16, z uint8, v uint8) {
	if !inRange(y) {
		return
	}
	c.ensureSlice(y).SetSkyLight(x, uint8(y), z, v)
	c.touch()
}

// Biome returns the biome ID of the column at the x and z passed.
func (c *Chunk) Biome(x, z uint8) uint8 {
	return c.biomes[int(x&0xf)<<4|int(z&0xf)]
}

// SetBiome sets the biome ID of the column at the x and z passed.
func (c *Chunk) SetBiome(x, z uint8, biome uint8) {
	c.biomes[int(x&0xf)<<4|int(z&0xf)] = biome
	c.touch()
}

// Height returns the Y value of the highest non-air block in the column at
// the x and z passed. The value is only accurate after RecalculateHeightMap
// was called.
func (c *Chunk) Height(x, z uint8) uint8 {
	return c.height[int(z&0xf)<<4|int(x&0xf)]
}

// RecalculateHeightMap recalculates the height of every column in the chunk
// by scanning down from the top of the chunk. Absent slices are skipped
// without being materialised. Columns without blocks get a height of 0.
func (c *Chunk) RecalculateHeightMap() {
	for x := uint8(0); x < 16; x++ {
		for z := uint8(0); z < 16; z++ {
			h := uint8(0)
		scan:
			for y := maxHeight - 1; y > 0; y-- {
				s := c.slices[y>>4]
				if s == nil {
					// Skip the remainder of the absent slice.
					y &^= 0xf
					continue
				}
				if s.Block(x, uint8(y), z) != 0 {
					h = uint8(y)
					break scan
				}
			}
			c.height[int(z)<<4|int(x)] = h
		}
	}
	c.dirty = true
}

// TileEntity returns the NBT data of the tile entity at the chunk-relative
// position passed, if any.
func (c *Chunk) TileEntity(x uint8, y int16, z uint8) (map[string]any, bool) {
	data, ok := c.tileEntities[BlockPos{int(x & 0xf), int(y), int(z & 0xf)}]
	return data, ok
}

// SetTileEntity sets the NBT data of the tile entity at the chunk-relative
// position passed. The absolute position of the tile entity is written to the
// "x", "y" and "z" fields of the data.
func (c *Chunk) SetTileEntity(x uint8, y int16, z uint8, data map[string]any) {
	if !inRange(y) {
		return
	}
	data["x"] = int32(c.pos[0])<<4 | int32(x&0xf)
	data["y"] = int32(y)
	data["z"] = int32(c.pos[1])<<4 | int32(z&0xf)
	c.ensureSlice(y)
	c.tileEntities[BlockPos{int(x & 0xf), int(y), int(z & 0xf)}] = data
	c.touch()
}

// RemoveTileEntity removes the tile entity at the chunk-relative position
// passed.
func (c *Chunk) RemoveTileEntity(x uint8, y int16, z uint8) {
	pos := BlockPos{int(x & 0xf), int(y), int(z & 0xf)}
	if _, ok := c.tileEntities[pos]; !ok {
		return
	}
	delete(c.tileEntities, pos)
	c.touch()
}

// TileEntities returns the NBT data of all tile entities in the chunk,
// ordered by their position.
func (c *Chunk) TileEntities() []map[string]any {
	keys := slices.SortedFunc(maps.Keys(c.tileEntities), func(a, b BlockPos) int {
		return bytes.Compare(localKey(a), localKey(b))
	})
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.tileEntities[k])
	}
	return out
}

func localKey(p BlockPos) []byte {
	return []byte{uint8(p[1]), uint8(p[0]), uint8(p[2])}
}

// AddPlayer adds a player to the chunk. Chunks with players in them are
// never evicted from the cache.
func (c *Chunk) AddPlayer(id uuid.UUID) {
	c.players[id] = struct{}{}
}

// RemovePlayer removes a player from the chunk and records now as the time
// at which the last player left the chunk.
func (c *Chunk) RemovePlayer(id uuid.UUID, now time.Time) {
	if _, ok := c.players[id]; !ok {
		return
	}
	delete(c.players, id)
	c.lastPlayerLeft = now
}

// HasPlayer checks if the player with the UUID passed is in the chunk.
func (c *Chunk) HasPlayer(id uuid.UUID) bool {
	_, ok := c.players[id]
	return ok
}

// PlayerCount returns the amount of players in the chunk.
func (c *Chunk) PlayerCount() int {
	return len(c.players)
}

// Players returns the UUIDs of all players in the chunk in a stable order.
func (c *Chunk) Players() []uuid.UUID {
	return slices.SortedFunc(maps.Keys(c.players), func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
}

// AddEntity adds a back-reference to an entity located in the chunk.
func (c *Chunk) AddEntity(e Entity) {
	c.entities[e.RuntimeID()] = e
}

// RemoveEntity removes the back-reference to the entity passed.
func (c *Chunk) RemoveEntity(e Entity) {
	delete(c.entities, e.RuntimeID())
}

// KnowsEntity checks if the chunk holds a reference to the entity passed.
func (c *Chunk) KnowsEntity(e Entity) bool {
	_, ok := c.entities[e.RuntimeID()]
	return ok
}

// Entities returns an iterator over all entities located in the chunk.
func (c *Chunk) Entities() iter.Seq[Entity] {
	return maps.Values(c.entities)
}

// EntityCount returns the amount of entities located in the chunk.
func (c *Chunk) EntityCount() int {
	return len(c.entities)
}

// evictable checks if the chunk may be removed from the cache at the time
// passed.
func (c *Chunk) evictable(now time.Time, minResidency, grace time.Duration) bool {
	return now.Sub(c.loadedAt) >= minResidency &&
		len(c.players) == 0 &&
		now.Sub(c.lastPlayerLeft) >= grace &&
		c.inflight.Load() == 0
}

// Clone returns a deep copy of the block, biome, height and tile entity data
// of the chunk. Players, entities and the cached payload are not copied.
func (c *Chunk) Clone() *Chunk {
	cp := NewChunk(c.pos)
	for i, s := range c.slices {
		if s != nil {
			cp.slices[i] = s.clone()
		}
	}
	cp.biomes, cp.height = c.biomes, c.height
	for pos, data := range c.tileEntities {
		cp.tileEntities[pos] = cloneNBT(data)
	}
	cp.dirty, cp.modified = c.dirty, c.modified
	return cp
}

// cloneNBT deep copies an NBT compound.
func cloneNBT(m map[string]any) map[string]any {
	cp := make(map[string]any, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case map[string]any:
			cp[k] = cloneNBT(v)
		case []any:
			cp[k] = slices.Clone(v)
		case []byte:
			cp[k] = slices.Clone(v)
		default:
			cp[k] = v
		}
	}
	return cp
}
