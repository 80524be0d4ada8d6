package world

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
)

func TestBlockPosHashRoundTrip(t *testing.T) {
	for _, pos := range []BlockPos{{0, 0, 0}, {83, 4, 82}, {-1, 255, -1}, {-33554432, 17, 33554431}, {1000, 64, -1000}} {
		if got := BlockPosFromHash(pos.Hash()); got != pos {
			t.Fatalf("expected %v, got %v", pos, got)
		}
	}
	if got := ChunkPosFromHash((ChunkPos{-5, 7}).Hash()); got != (ChunkPos{-5, 7}) {
		t.Fatalf("chunk position hash did not round trip: %v", got)
	}
	if got := (BlockPos{-1, 0, 16}).ChunkPos(); got != (ChunkPos{-1, 1}) {
		t.Fatalf("unexpected chunk position %v", got)
	}
}

func TestSliceLayout(t *testing.T) {
	s := newSlice(0)
	s.SetBlock(1, 2, 3, 42)
	s.SetData(1, 2, 3, 0xf)
	s.SetSkyLight(1, 2, 4, 7)
	s.SetBlockLight(0, 0, 1, 3)

	b := s.Bytes()
	if len(b) != SliceSize {
		t.Fatalf("expected %v bytes, got %v", SliceSize, len(b))
	}
	i := 1<<8 | 3<<4 | 2
	if b[i] != 42 {
		t.Fatalf("block not stored in XZY order")
	}
	if b[sliceVolume+i>>1]&0xf != 0xf {
		t.Fatalf("metadata not stored in the low nibble of an even index")
	}
	decoded, err := SliceFromBytes(0, b)
	if err != nil {
		t.Fatalf("decode slice: %v", err)
	}
	if *decoded != *s {
		t.Fatalf("decoded slice differs")
	}
	if s.IsAllAir() || !newSlice(1).IsAllAir() {
		t.Fatalf("unexpected IsAllAir result")
	}
	lit := newSlice(2)
	lit.SetSkyLight(0, 0, 0, 1)
	if !lit.IsAllAir() || lit.IsEmpty() || !newSlice(1).IsEmpty() {
		t.Fatalf("unexpected IsEmpty result")
	}
	if _, err := SliceFromBytes(0, b[:100]); err == nil {
		t.Fatalf("expected error decoding short slice")
	}
}

func TestChunkReadsMaterialiseSlices(t *testing.T) {
	c := NewChunk(ChunkPos{})
	c.dirty = false
	if id := c.Block(0, 40, 0); id != 0 {
		t.Fatalf("expected air, got %v", id)
	}
	if c.Slice(2) == nil {
		t.Fatalf("expected read to materialise slice 2")
	}
	if c.Dirty() {
		t.Fatalf("reads must not mark the chunk dirty")
	}
	if id := c.Block(0, 300, 0); id != 0 {
		t.Fatalf("expected air out of bounds")
	}
}

func TestChunkDirtyTracking(t *testing.T) {
	c := NewChunk(ChunkPos{1, 2})
	c.SetBlock(0, 0, 0, 1)
	if _, err := c.Package(RawEncoder{}); err != nil {
		t.Fatalf("package: %v", err)
	}
	if c.Dirty() {
		t.Fatalf("expected chunk to be clean after packaging")
	}
	p, ok := c.CachedPayload()
	if !ok {
		t.Fatalf("expected cached payload")
	}

	c.SetBlock(0, 0, 0, 2)
	if !c.Dirty() {
		t.Fatalf("expected chunk to be dirty after mutation")
	}
	if _, ok := c.CachedPayload(); ok {
		t.Fatalf("cached payload must not be returned for a dirty chunk")
	}
	p2, err := c.Package(RawEncoder{})
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	if bytes.Equal(p.Data, p2.Data) {
		t.Fatalf("payload should reflect the last mutation")
	}
	if p2.Data[2] != 2 {
		t.Fatalf("expected block 2 in payload, got %v", p2.Data[2])
	}

	for name, mutate := range map[string]func(){
		"data":        func() { c.SetData(0, 0, 0, 1) },
		"sky light":   func() { c.SetSkyLight(0, 0, 0, 1) },
		"block light": func() { c.SetBlockLight(0, 0, 0, 1) },
		"biome":       func() { c.SetBiome(0, 0, 1) },
		"tile entity": func() { c.SetTileEntity(0, 0, 0, map[string]any{"id": "Chest"}) },
	} {
		if _, err := c.Package(RawEncoder{}); err != nil {
			t.Fatalf("package: %v", err)
		}
		mutate()
		if !c.Dirty() || !c.Modified() {
			t.Fatalf("%v mutation should mark chunk dirty and modified", name)
		}
	}
}

func TestChunkPackageLayout(t *testing.T) {
	c := NewChunk(ChunkPos{5, 5})
	c.SetBlock(3, 20, 2, 9)
	c.SetBiome(1, 2, 4)
	c.SetTileEntity(3, 20, 2, map[string]any{"id": "Sign"})
	c.RecalculateHeightMap()

	p, err := c.Package(RawEncoder{})
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	if p.SubChunkCount != 2 || p.Data[0] != 2 {
		t.Fatalf("expected 2 slices, got %v (%v)", p.SubChunkCount, p.Data[0])
	}
	if p.Hash != xxhash.Sum64(p.Data) {
		t.Fatalf("unexpected payload hash")
	}
	off := 1
	for i := 0; i < 2; i++ {
		if p.Data[off] != 0 {
			t.Fatalf("expected storage version 0")
		}
		off += 1 + SliceSize
	}
	if h := binary.LittleEndian.Uint16(p.Data[off+2*(2<<4|3):]); h != 20 {
		t.Fatalf("expected height 20 at column (3, 2), got %v", h)
	}
	off += 512
	if b := p.Data[off+(1<<4|2)]; b != 4 {
		t.Fatalf("expected biome 4, got %v", b)
	}
	off += 256
	if !bytes.Equal(p.Data[off:off+2], []byte{0, 0}) {
		t.Fatalf("expected two zero varints")
	}
	off += 2

	var te map[string]any
	if err := nbt.NewDecoderWithEncoding(bytes.NewReader(p.Data[off:]), nbt.NetworkLittleEndian).Decode(&te); err != nil {
		t.Fatalf("decode tile entity: %v", err)
	}
	if te["id"] != "Sign" || te["x"] != int32(83) || te["y"] != int32(20) || te["z"] != int32(82) {
		t.Fatalf("unexpected tile entity %v", te)
	}
}

func TestChunkPackageEmpty(t *testing.T) {
	p, err := NewChunk(ChunkPos{}).Package(nil)
	if err != nil {
		t.Fatalf("package: %v", err)
	}
	if p.SubChunkCount != 0 || len(p.Data) != 1+512+256+2 {
		t.Fatalf("unexpected empty payload: %v slices, %v bytes", p.SubChunkCount, len(p.Data))
	}
}

func TestRecalculateHeightMapSkipsAbsentSlices(t *testing.T) {
	c := NewChunk(ChunkPos{})
	c.SetBlock(0, 5, 0, 1)
	c.SetBlock(0, 100, 0, 1)
	c.SetSlice(6, nil)
	c.RecalculateHeightMap()
	if h := c.Height(0, 0); h != 5 {
		t.Fatalf("expected height 5, got %v", h)
	}
	if h := c.Height(1, 0); h != 0 {
		t.Fatalf("expected height 0 for an empty column, got %v", h)
	}
	for i := 1; i < sliceCount; i++ {
		if c.Slice(i) != nil {
			t.Fatalf("slice %v materialised by height map calculation", i)
		}
	}
}

func TestChunkPlayers(t *testing.T) {
	c := NewChunk(ChunkPos{})
	a, b := uuid.New(), uuid.New()
	c.AddPlayer(a)
	c.AddPlayer(b)
	if c.PlayerCount() != 2 || len(c.Players()) != 2 {
		t.Fatalf("expected 2 players")
	}
	left := time.Unix(100, 0)
	c.RemovePlayer(a, left)
	if c.HasPlayer(a) || !c.HasPlayer(b) {
		t.Fatalf("unexpected players after removal")
	}
	if !c.LastPlayerLeft().Equal(left) {
		t.Fatalf("expected last player left to be stamped")
	}
	c.RemovePlayer(a, time.Unix(200, 0))
	if !c.LastPlayerLeft().Equal(left) {
		t.Fatalf("removing an absent player must not stamp the chunk")
	}
}

func TestChunkCloneIsIndependent(t *testing.T) {
	c := NewChunk(ChunkPos{})
	c.SetBlock(1, 1, 1, 3)
	c.SetTileEntity(1, 1, 1, map[string]any{"id": "Chest", "Items": map[string]any{"a": int32(1)}})
	cp := c.Clone()
	c.SetBlock(1, 1, 1, 4)
	te, _ := c.TileEntity(1, 1, 1)
	te["Items"].(map[string]any)["a"] = int32(2)

	if id := cp.Block(1, 1, 1); id != 3 {
		t.Fatalf("clone shares block data: %v", id)
	}
	cte, _ := cp.TileEntity(1, 1, 1)
	if cte["Items"].(map[string]any)["a"] != int32(1) {
		t.Fatalf("clone shares tile entity data")
	}
}

func TestTileEntityPositionsAreMasked(t *testing.T) {
	c := NewChunk(ChunkPos{1, 2})
	c.SetTileEntity(0x13, 5, 0x24, map[string]any{"id": "Sign"})

	for _, pos := range [][2]uint8{{0x13, 0x24}, {3, 4}} {
		if te, ok := c.TileEntity(pos[0], 5, pos[1]); !ok || te["id"] != "Sign" {
			t.Fatalf("expected tile entity at %v, got %v", pos, te)
		}
	}
	c.RemoveTileEntity(0x23, 5, 0x14)
	if _, ok := c.TileEntity(3, 5, 4); ok {
		t.Fatalf("tile entity should be removed through an unmasked position")
	}
}

func TestPayloadCacheBounded(t *testing.T) {
	cache := newPayloadCache(2)
	chunks := []*Chunk{NewChunk(ChunkPos{0, 0}), NewChunk(ChunkPos{1, 0}), NewChunk(ChunkPos{2, 0})}
	for _, c := range chunks {
		if _, err := c.Package(nil); err != nil {
			t.Fatalf("package: %v", err)
		}
		cache.touch(c)
	}
	if cache.len() != 2 {
		t.Fatalf("expected 2 cached payloads, got %v", cache.len())
	}
	if _, ok := chunks[0].CachedPayload(); ok {
		t.Fatalf("least recently used payload should be dropped")
	}
	if _, ok := chunks[2].CachedPayload(); !ok {
		t.Fatalf("most recently used payload should be kept")
	}
	cache.remove(chunks[2])
	if _, ok := chunks[2].CachedPayload(); ok || cache.len() != 1 {
		t.Fatalf("removed payload should be dropped")
	}
}

func TestQueueFIFO(t *testing.T) {
	q := newQueue[int]()
	for i := 0; i < 5; i++ {
		q.push(i)
	}
	for want := 0; want < 5; want++ {
		v, ok := q.poll(time.Millisecond, nil)
		if !ok || v != want {
			t.Fatalf("expected %v, got %v (%v)", want, v, ok)
		}
	}
	if _, ok := q.poll(time.Millisecond, nil); ok {
		t.Fatalf("expected poll on empty queue to time out")
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		q.push(9)
	}()
	if v, ok := q.poll(time.Second, nil); !ok || v != 9 {
		t.Fatalf("expected poll to wake up on push")
	}
}
