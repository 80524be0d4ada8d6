package world

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/sandertv/gophertunnel/minecraft/nbt"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
)

// Payload is the serialised form of a Chunk ready to be handed to players.
type Payload struct {
	// Pos is the position of the chunk the payload was produced from.
	Pos ChunkPos
	// SubChunkCount is the amount of slices written to Data.
	SubChunkCount int
	// Data is the packaged chunk: slices, height map, biomes and tile
	// entities.
	Data []byte
	// Encoded is Data as produced by the PayloadEncoder of the World, such as
	// a compressed network packet.
	Encoded []byte
	// Hash is the xxhash64 of Data.
	Hash uint64
}

// Package serialises the chunk into a Payload and encodes it using the
// PayloadEncoder passed. On success the payload is cached on the chunk and the
// chunk is no longer dirty. Package must only be called on the simulation
// goroutine.
func (c *Chunk) Package(enc PayloadEncoder) (*Payload, error) {
	data, count, err := c.packageData()
	if err != nil {
		return nil, fmt.Errorf("package chunk %v: %w", c.pos, err)
	}
	p := &Payload{Pos: c.pos, SubChunkCount: count, Data: data, Hash: xxhash.Sum64(data)}
	if enc != nil {
		if p.Encoded, err = enc.EncodePayload(p); err != nil {
			return nil, fmt.Errorf("encode chunk %v: %w", c.pos, err)
		}
	}
	c.payload, c.dirty = p, false
	return p, nil
}

// CachedPayload returns the payload produced by the last call to Package. No
// payload is returned if the chunk was changed since.
func (c *Chunk) CachedPayload() (*Payload, bool) {
	if c.dirty || c.payload == nil {
		return nil, false
	}
	return c.payload, true
}

// dropPayload removes the cached payload of the chunk.
func (c *Chunk) dropPayload() {
	c.payload = nil
}

// packageData writes the chunk in the legacy full chunk layout: the amount of
// slices, every slice prefixed with its storage version, the height map, the
// biomes, the border blocks and extra data counts and finally the tile
// entities as network NBT.
func (c *Chunk) packageData() ([]byte, int, error) {
	top := 0
	for i := sliceCount - 1; i >= 0; i-- {
		if s := c.slices[i]; s != nil && !s.IsAllAir() {
			top = i + 1
			break
		}
	}

	buf := bytes.NewBuffer(make([]byte, 0, 1+top*(SliceSize+1)+768))
	w := protocol.NewWriter(buf, 0)

	count := uint8(top)
	w.Uint8(&count)
	for i := 0; i < top; i++ {
		var version uint8
		w.Uint8(&version)
		if s := c.slices[i]; s != nil {
			buf.Write(s.Bytes())
			continue
		}
		buf.Write(make([]byte, SliceSize))
	}
	for _, h := range c.height {
		v := uint16(h)
		w.Uint16(&v)
	}
	buf.Write(c.biomes[:])

	var borderBlocks, extraData int32
	w.Varint32(&borderBlocks)
	w.Varint32(&extraData)

	enc := nbt.NewEncoderWithEncoding(buf, nbt.NetworkLittleEndian)
	for _, data := range c.TileEntities() {
		if err := enc.Encode(data); err != nil {
			return nil, 0, fmt.Errorf("encode tile entity: %w", err)
		}
	}
	return buf.Bytes(), top, nil
}
