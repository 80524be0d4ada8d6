package session

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/dm-vev/adamant/server/world"
	"github.com/klauspost/compress/flate"
	"github.com/sandertv/gophertunnel/minecraft/protocol"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

// compressionFlate is the compression algorithm ID written in front of a
// compressed batch.
const compressionFlate byte = 0x00

// LevelChunkEncoder is a world.PayloadEncoder that wraps a packaged chunk in a
// LevelChunk packet and writes it as a flate compressed batch, ready to be
// written to a connection.
type LevelChunkEncoder struct {
	// Dimension is the dimension ID written in the LevelChunk packet.
	Dimension int32
	// Level is the flate compression level used. A Level of 0 selects
	// flate.DefaultCompression.
	Level int
}

var _ world.PayloadEncoder = LevelChunkEncoder{}

var bufferPool = sync.Pool{New: func() any { return bytes.NewBuffer(make([]byte, 0, 4096)) }}

// EncodePayload ...
func (e LevelChunkEncoder) EncodePayload(p *world.Payload) ([]byte, error) {
	pk := &packet.LevelChunk{
		Position:      protocol.ChunkPos{p.Pos[0], p.Pos[1]},
		Dimension:     e.Dimension,
		SubChunkCount: uint32(p.SubChunkCount),
		RawPayload:    p.Data,
	}

	body := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		body.Reset()
		bufferPool.Put(body)
	}()
	hdr := &packet.Header{PacketID: pk.ID()}
	if err := hdr.Write(body); err != nil {
		return nil, fmt.Errorf("encode chunk %v: write header: %w", p.Pos, err)
	}
	pk.Marshal(protocol.NewWriter(body, 0))

	level := e.Level
	if level == 0 {
		level = flate.DefaultCompression
	}
	// Every packet in a batch is prefixed with its length.
	prefix := bytes.NewBuffer(make([]byte, 0, 5))
	l := uint32(body.Len())
	protocol.NewWriter(prefix, 0).Varuint32(&l)

	out := bytes.NewBuffer(make([]byte, 0, body.Len()/2+8))
	out.WriteByte(compressionFlate)
	fw, err := flate.NewWriter(out, level)
	if err != nil {
		return nil, fmt.Errorf("encode chunk %v: %w", p.Pos, err)
	}
	if _, err := fw.Write(prefix.Bytes()); err != nil {
		return nil, fmt.Errorf("encode chunk %v: compress: %w", p.Pos, err)
	}
	if _, err := fw.Write(body.Bytes()); err != nil {
		return nil, fmt.Errorf("encode chunk %v: compress: %w", p.Pos, err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("encode chunk %v: compress: %w", p.Pos, err)
	}
	return out.Bytes(), nil
}
