package world

import (
	"sync"
	"time"
)

// UpdateReason is the reason a block update hook is invoked for.
type UpdateReason uint8

const (
	// UpdateRandom is passed when a block was picked by random ticking.
	UpdateRandom UpdateReason = iota
	// UpdateScheduled is passed when a previously scheduled update of a
	// block is due.
	UpdateScheduled
)

// String ...
func (r UpdateReason) String() string {
	switch r {
	case UpdateRandom:
		return "random"
	case UpdateScheduled:
		return "scheduled"
	}
	return "unknown"
}

// Block is a block at a position in the world, as passed to block update
// hooks.
type Block struct {
	Pos  BlockPos
	ID   uint8
	Data uint8
}

// BlockBehaviour holds the update hooks of a type of block.
type BlockBehaviour interface {
	// RandomTicks reports if the block should be updated when picked by
	// random ticking.
	RandomTicks() bool
	// Update is called on the simulation goroutine when the block is updated
	// for the reason passed. A returned time after now schedules another
	// update of the block at that time. Returning the zero time or any time
	// not after now schedules nothing.
	Update(tx *Tx, b Block, reason UpdateReason, now time.Time, delta time.Duration) time.Time
}

// BlockTable looks up the behaviour of block IDs.
type BlockTable interface {
	// Behaviour returns the behaviour registered for a block ID, if any.
	Behaviour(id uint8) (BlockBehaviour, bool)
}

// MapBlockTable is a BlockTable backed by a map. It is safe for concurrent
// use.
type MapBlockTable struct {
	mu sync.RWMutex
	m  map[uint8]BlockBehaviour
}

// NewMapBlockTable returns an empty MapBlockTable.
func NewMapBlockTable() *MapBlockTable {
	return &MapBlockTable{m: make(map[uint8]BlockBehaviour)}
}

// Register registers the behaviour of a block ID, replacing any behaviour
// registered before.
func (t *MapBlockTable) Register(id uint8, b BlockBehaviour) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[id] = b
}

// Behaviour ...
func (t *MapBlockTable) Behaviour(id uint8) (BlockBehaviour, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.m[id]
	return b, ok
}

// BehaviourFunc implements BlockBehaviour using a function as update hook.
type BehaviourFunc struct {
	Random bool
	F      func(tx *Tx, b Block, reason UpdateReason, now time.Time, delta time.Duration) time.Time
}

// RandomTicks ...
func (f BehaviourFunc) RandomTicks() bool { return f.Random }

// Update ...
func (f BehaviourFunc) Update(tx *Tx, b Block, reason UpdateReason, now time.Time, delta time.Duration) time.Time {
	if f.F == nil {
		return time.Time{}
	}
	return f.F(tx, b, reason, now, delta)
}
