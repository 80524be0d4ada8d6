package world

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Tx represents a synchronised transaction performed on a World. Most
// operations on a World can only be performed through a Tx. A Tx is only
// valid for the duration of the function it was passed to.
type Tx struct {
	w      *World
	closed bool
}

// World returns the World of the Tx. It panics if the transaction was already
// closed.
func (tx *Tx) World() *World {
	if tx.closed {
		panic("world.Tx: use of transaction after transaction finishes is not permitted")
	}
	return tx.w
}

// Chunk returns the chunk at the position passed if it is resident.
func (tx *Tx) Chunk(pos ChunkPos) (*Chunk, bool) {
	return tx.World().Chunk(pos)
}

// LoadChunk returns the chunk at the position passed, loading it and waiting
// for it if it is not resident.
func (tx *Tx) LoadChunk(ctx context.Context, pos ChunkPos, generate bool) (*Chunk, error) {
	return tx.World().LoadChunkSync(ctx, pos, generate)
}

// Block returns the block at the position passed. False is returned if the
// chunk of the block is not resident or the position is out of bounds.
func (tx *Tx) Block(pos BlockPos) (Block, bool) {
	c, ok := tx.Chunk(pos.ChunkPos())
	if !ok || pos.OutOfBounds() {
		return Block{}, false
	}
	x, y, z := pos.localPos()
	return Block{Pos: pos, ID: c.Block(x, int16(y), z), Data: c.Data(x, int16(y), z)}, true
}

// SetBlock sets the block ID and metadata at the position passed. False is
// returned if the chunk of the block is not resident or the position is out of
// bounds.
func (tx *Tx) SetBlock(pos BlockPos, id, data uint8) bool {
	c, ok := tx.Chunk(pos.ChunkPos())
	if !ok || pos.OutOfBounds() {
		return false
	}
	x, y, z := pos.localPos()
	c.SetBlock(x, int16(y), z, id)
	c.SetData(x, int16(y), z, data)
	return true
}

// ScheduleUpdate schedules an update of the block at the position passed at
// the time passed.
func (tx *Tx) ScheduleUpdate(pos BlockPos, at time.Time) {
	tx.World().scheduled.Add(at, pos.Hash())
}

// EntitiesWithin returns the entities in resident chunks within the box
// spanned by min and max, except the entity passed.
func (tx *Tx) EntitiesWithin(min, max mgl64.Vec3, except Entity) []Entity {
	var entities []Entity
	for e := range tx.World().entitiesWithin(min, max, except) {
		entities = append(entities, e)
	}
	return entities
}

// close finishes the Tx, making it invalid for further use.
func (tx *Tx) close() {
	tx.closed = true
}

// normalTransaction is a transaction that runs a function and closes a channel
// once it is finished.
type normalTransaction struct {
	c chan struct{}
	f ExecFunc
}

// Run runs the transaction and closes its channel.
func (t normalTransaction) Run(w *World) {
	tx := &Tx{w: w}
	t.f(tx)
	tx.close()
	close(t.c)
}
