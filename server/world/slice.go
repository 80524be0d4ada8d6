package world

import (
	"fmt"
)

const (
	sliceVolume = 16 * 16 * 16
	nibbleSize  = sliceVolume / 2

	// SliceSize is the length of the byte representation of a Slice returned
	// by Slice.Bytes.
	SliceSize = sliceVolume + nibbleSize*3
)

// Slice is a 16x16x16 vertical section of a Chunk. It holds the block IDs,
// block metadata and both light channels of every block within it. Indices
// are laid out in XZY order.
type Slice struct {
	y int

	blocks     [sliceVolume]uint8
	data       [nibbleSize]uint8
	skyLight   [nibbleSize]uint8
	blockLight [nibbleSize]uint8
}

// newSlice returns an empty Slice filled with air at the slice index y.
func newSlice(y int) *Slice {
	return &Slice{y: y}
}

// SliceFromBytes decodes a Slice from the representation produced by
// Slice.Bytes.
func SliceFromBytes(y int, b []byte) (*Slice, error) {
	if len(b) < SliceSize {
		return nil, fmt.Errorf("decode slice %v: expected %v bytes, got %v", y, SliceSize, len(b))
	}
	s := newSlice(y)
	off := copy(s.blocks[:], b)
	off += copy(s.data[:], b[off:])
	off += copy(s.skyLight[:], b[off:])
	copy(s.blockLight[:], b[off:])
	return s, nil
}

// Y returns the index of the slice in its chunk, 0 being the lowest.
func (s *Slice) Y() int {
	return s.y
}

// index returns the array index of a local x, y, z position.
func index(x uint8, y uint8, z uint8) int {
	return int(x&0xf)<<8 | int(z&0xf)<<4 | int(y&0xf)
}

// Block returns the block ID at the position passed.
func (s *Slice) Block(x, y, z uint8) uint8 {
	return s.blocks[index(x, y, z)]
}

// SetBlock sets the block ID at the position passed.
func (s *Slice) SetBlock(x, y, z uint8, id uint8) {
	s.blocks[index(x, y, z)] = id
}

// Data returns the metadata of the block at the position passed.
func (s *Slice) Data(x, y, z uint8) uint8 {
	return nibble(&s.data, index(x, y, z))
}

// SetData sets the metadata of the block at the position passed.
func (s *Slice) SetData(x, y, z uint8, v uint8) {
	setNibble(&s.data, index(x, y, z), v)
}

// SkyLight returns the sky light level at the position passed.
func (s *Slice) SkyLight(x, y, z uint8) uint8 {
	return nibble(&s.skyLight, index(x, y, z))
}

// SetSkyLight sets the sky light level at the position passed.
func (s *Slice) SetSkyLight(x, y, z uint8, v uint8) {
	setNibble(&s.skyLight, index(x, y, z), v)
}

// BlockLight returns the block light level at the position passed.
func (s *Slice) BlockLight(x, y, z uint8) uint8 {
	return nibble(&s.blockLight, index(x, y, z))
}

// SetBlockLight sets the block light level at the position passed.
func (s *Slice) SetBlockLight(x, y, z uint8, v uint8) {
	setNibble(&s.blockLight, index(x, y, z), v)
}

// IsAllAir checks if every block in the slice is air.
func (s *Slice) IsAllAir() bool {
	for _, id := range s.blocks {
		if id != 0 {
			return false
		}
	}
	return true
}

// IsEmpty checks if the slice holds only air and no light. Empty slices carry
// no data worth storing.
func (s *Slice) IsEmpty() bool {
	if !s.IsAllAir() {
		return false
	}
	for i := range s.skyLight {
		if s.skyLight[i] != 0 || s.blockLight[i] != 0 {
			return false
		}
	}
	return true
}

// Bytes returns the block IDs, metadata, sky light and block light of the
// slice appended to each other, in that order.
func (s *Slice) Bytes() []byte {
	b := make([]byte, 0, SliceSize)
	b = append(b, s.blocks[:]...)
	b = append(b, s.data[:]...)
	b = append(b, s.skyLight[:]...)
	return append(b, s.blockLight[:]...)
}

// clone returns a deep copy of the slice.
func (s *Slice) clone() *Slice {
	cp := *s
	return &cp
}

func nibble(arr *[nibbleSize]uint8, i int) uint8 {
	if i&1 == 0 {
		return arr[i>>1] & 0xf
	}
	return arr[i>>1] >> 4
}

func setNibble(arr *[nibbleSize]uint8, i int, v uint8) {
	v &= 0xf
	if i&1 == 0 {
		arr[i>>1] = arr[i>>1]&0xf0 | v
		return
	}
	arr[i>>1] = arr[i>>1]&0x0f | v<<4
}
